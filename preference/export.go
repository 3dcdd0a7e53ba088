package preference

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

func unixNanoToTime(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// exportVersion is the stable on-disk/over-the-wire schema version. A
// mismatched or missing version is treated as a corrupt export.
const exportVersion = "1"

// exportedRecord is the JSON shape of one forge.PreferenceRecord.
type exportedRecord struct {
	Keywords     []string `json:"keywords"`
	Model        string   `json:"model"`
	Adapters     []string `json:"adapters,omitempty"`
	Stage        int      `json:"stage"`
	Action       string   `json:"action"`
	FeedbackText string   `json:"feedback_text,omitempty"`
	SessionID    string   `json:"session_id"`
	TimestampUnix int64   `json:"timestamp_unix"`
}

// exportedStat is the JSON shape of one materialized (StatKey,
// PreferenceStat) pair. KeyB is omitted for the coarse (model) prior.
type exportedStat struct {
	KeyA     string `json:"key_a"`
	KeyB     string `json:"key_b,omitempty"`
	Selected int    `json:"selected"`
	Total    int    `json:"total"`
}

// Export is the full wire format: a version tag, every append-only
// record, and the materialized stats cache.
type Export struct {
	Version string           `json:"version"`
	Records []exportedRecord `json:"records"`
	Stats   []exportedStat   `json:"stats"`
}

// Export serializes the engine's current state to the stable export
// format.
func (e *Engine) Export() Export {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := Export{
		Version: exportVersion,
		Records: make([]exportedRecord, len(e.records)),
		Stats:   make([]exportedStat, 0, len(e.stats)),
	}
	for i, r := range e.records {
		out.Records[i] = exportedRecord{
			Keywords:      r.Keywords,
			Model:         r.Model,
			Adapters:      r.Adapters,
			Stage:         r.Stage,
			Action:        string(r.Action),
			FeedbackText:  r.FeedbackText,
			SessionID:     r.SessionID,
			TimestampUnix: r.Timestamp.UnixNano(),
		}
	}
	for k, v := range e.stats {
		out.Stats = append(out.Stats, exportedStat{
			KeyA: k.A, KeyB: k.B,
			Selected: v.Selected, Total: v.Total,
		})
	}
	return out
}

// MarshalJSON serializes the current export to bytes, for
// GET /preferences/export.
func (e *Engine) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Export())
}

// Import atomically replaces the engine's records and stats with the
// decoded export. forge.ErrCorruptExport is returned for malformed JSON,
// a missing/mismatched version tag, or a stat/record that fails basic
// shape validation, and the engine's existing state is left untouched.
func (e *Engine) Import(data []byte) error {
	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return fmt.Errorf("%w: %v", forge.ErrCorruptExport, err)
	}
	if exp.Version != exportVersion {
		return fmt.Errorf("%w: unsupported version %q", forge.ErrCorruptExport, exp.Version)
	}

	records := make([]forge.PreferenceRecord, len(exp.Records))
	for i, r := range exp.Records {
		action := forge.PreferenceAction(r.Action)
		if action != forge.ActionSelected && action != forge.ActionRejected {
			return fmt.Errorf("%w: record[%d] has invalid action %q", forge.ErrCorruptExport, i, r.Action)
		}
		records[i] = forge.PreferenceRecord{
			Keywords:     r.Keywords,
			Model:        r.Model,
			Adapters:     r.Adapters,
			Stage:        r.Stage,
			Action:       action,
			FeedbackText: r.FeedbackText,
			SessionID:    r.SessionID,
			Timestamp:    unixNanoToTime(r.TimestampUnix),
		}
	}

	stats := make(map[forge.StatKey]forge.PreferenceStat, len(exp.Stats))
	for i, s := range exp.Stats {
		if s.Selected > s.Total || s.Selected < 0 || s.Total < 0 {
			return fmt.Errorf("%w: stat[%d] has selected>total or negative count", forge.ErrCorruptExport, i)
		}
		stats[forge.StatKey{A: s.KeyA, B: s.KeyB}] = forge.PreferenceStat{Selected: s.Selected, Total: s.Total}
	}

	e.mu.Lock()
	e.records = records
	e.stats = stats
	e.mu.Unlock()
	return nil
}
