// Package preference implements multi-dimensional, Bayesian-weighted
// tracking of user selections and rejections per (keyword, model,
// adapter) combination, and answers context-aware recommendation
// queries from the resulting statistics. Following this codebase's
// single-writer-serializes-updates rule for shared mutable caches (see
// the registry's RWMutex discipline), all mutation goes through Record,
// or through Import when an export replaces the whole state, and readers
// work from a snapshot of the stats map.
package preference

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pixelgrid/forge-orchestrator/forge"
	"github.com/pixelgrid/forge-orchestrator/metrics"
)

// smoothing is the data-weight denominator in the blended-score formula:
// w = tot / (tot + smoothing). Ten observations bring the blend about
// halfway from the neutral prior to the raw observed rate.
const smoothing = 10.0

// neutralPrior is the blended score returned for a stat key with no
// observations, and the prior that blended scores start from.
const neutralPrior = 0.5

// confidenceScale is the total-evidence count at which confidence
// saturates to 1.0.
const confidenceScale = 100.0

// Engine holds the append-only preference record log and its derived
// statistics cache.
type Engine struct {
	mu      sync.RWMutex
	records []forge.PreferenceRecord
	stats   map[forge.StatKey]forge.PreferenceStat
	log     *logrus.Logger
}

// New returns an empty Engine.
func New(log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		stats: make(map[forge.StatKey]forge.PreferenceStat),
		log:   log,
	}
}

// Record appends a PreferenceRecord for prompt's keyword set and updates
// every derived stat key it touches: (keyword, model), (keyword,
// adapter) for each adapter, (model, adapter) for each adapter, and the
// coarse (model) prior. Apart from Import, which replaces the whole
// state, this is the engine's only mutation path; every other method only
// reads.
func (e *Engine) Record(prompt, model string, adapters []string, action forge.PreferenceAction, stage int, sessionID, feedbackText string) forge.PreferenceRecord {
	keywords := ExtractKeywords(prompt)
	selected := action == forge.ActionSelected

	rec := forge.PreferenceRecord{
		Keywords:     keywords,
		Model:        model,
		Adapters:     adapters,
		Stage:        stage,
		Action:       action,
		FeedbackText: feedbackText,
		SessionID:    sessionID,
		Timestamp:    time.Now(),
	}

	e.mu.Lock()
	e.records = append(e.records, rec)

	for _, k := range keywords {
		e.bump(forge.StatKey{A: k, B: model}, selected)
		for _, a := range adapters {
			e.bump(forge.StatKey{A: k, B: a}, selected)
		}
	}
	for _, a := range adapters {
		e.bump(forge.StatKey{A: model, B: a}, selected)
	}
	e.bump(forge.StatKey{A: model}, selected)
	e.mu.Unlock()

	metrics.NewCollector().IncPreferenceRecord(action)
	e.log.WithFields(logrus.Fields{
		"model":    model,
		"action":   action,
		"stage":    stage,
		"keywords": len(keywords),
	}).Debug("preference record ingested")

	return rec
}

// bump must be called with mu held for writing. total_count is monotone
// non-decreasing and never reset; selected_count is bumped alongside it
// only when selected is true, preserving P6/§3's invariant.
func (e *Engine) bump(key forge.StatKey, selected bool) {
	s := e.stats[key]
	s.Total++
	if selected {
		s.Selected++
	}
	e.stats[key] = s
}

func (e *Engine) stat(key forge.StatKey) forge.PreferenceStat {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats[key]
}

// blended computes (1-w)*prior + w*rate for key, where w = tot/(tot +
// smoothing) and prior is the neutral 0.5 used whenever a key has no
// observations of its own.
func (e *Engine) blended(key forge.StatKey) float64 {
	s := e.stat(key)
	if s.Total == 0 {
		return neutralPrior
	}
	w := float64(s.Total) / (float64(s.Total) + smoothing)
	rate := s.Rate()
	return (1-w)*neutralPrior + w*rate
}

// ScoreModel returns model's blended score for the given keyword set: the
// mean of per-keyword blended scores, or the neutral prior when keywords
// is empty.
func (e *Engine) ScoreModel(keywords []string, model string) float64 {
	if len(keywords) == 0 {
		return neutralPrior
	}
	var sum float64
	for _, k := range keywords {
		sum += e.blended(forge.StatKey{A: k, B: model})
	}
	return sum / float64(len(keywords))
}

// ScoreAdapter combines adapter a's per-keyword affinity with its
// (model, adapter) compatibility score, weighted equally.
func (e *Engine) ScoreAdapter(keywords []string, model, adapter string) float64 {
	keywordScore := neutralPrior
	if len(keywords) > 0 {
		var sum float64
		for _, k := range keywords {
			sum += e.blended(forge.StatKey{A: k, B: adapter})
		}
		keywordScore = sum / float64(len(keywords))
	}
	modelAdapterScore := e.blended(forge.StatKey{A: model, B: adapter})
	return 0.5*keywordScore + 0.5*modelAdapterScore
}

// Confidence reports the accumulated evidence behind a recommendation
// over keywords for the given candidate models: T summed across every
// (keyword, model) pair, scaled to [0, 1] and saturating at
// confidenceScale observations.
func (e *Engine) Confidence(keywords []string, candidates []string) float64 {
	var total int
	for _, k := range keywords {
		for _, m := range candidates {
			total += e.stat(forge.StatKey{A: k, B: m}).Total
		}
	}
	c := float64(total) / confidenceScale
	if c > 1.0 {
		c = 1.0
	}
	return c
}

// RecommendModel scores every candidate for prompt's keyword set and
// returns the argmax with its confidence. Ties are broken by candidate
// id (lexicographic), making the result a pure, deterministic function
// of the current statistics (P7).
func (e *Engine) RecommendModel(prompt string, candidates []string) (string, float64, error) {
	if len(candidates) == 0 {
		return "", 0, fmt.Errorf("recommend model: %w: empty candidate set", forge.ErrNotFound)
	}

	keywords := ExtractKeywords(prompt)

	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	best := sorted[0]
	bestScore := e.ScoreModel(keywords, best)
	for _, m := range sorted[1:] {
		score := e.ScoreModel(keywords, m)
		if score > bestScore {
			best = m
			bestScore = score
		}
	}

	return best, e.Confidence(keywords, sorted), nil
}

// AdapterScore is one entry of RecommendAdapters' result.
type AdapterScore struct {
	Adapter string
	Score   float64
}

// RecommendAdapters scores every candidate adapter against prompt and
// model, and returns the top k by score (ties broken by adapter id).
func (e *Engine) RecommendAdapters(prompt, model string, candidates []string, k int) []AdapterScore {
	keywords := ExtractKeywords(prompt)

	scored := make([]AdapterScore, 0, len(candidates))
	for _, a := range candidates {
		scored = append(scored, AdapterScore{Adapter: a, Score: e.ScoreAdapter(keywords, model, a)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Adapter < scored[j].Adapter
	})

	if k >= 0 && k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// ModelRank is one entry of RankModels' result.
type ModelRank struct {
	Model string
	Score float64
}

// RankModels scores every candidate for prompt's keyword set and returns
// them sorted best-first (ties broken by candidate id), alongside the
// overall confidence behind the ranking. Used by the batch executor's
// model-exploration path, where more than the single best candidate may
// be worth dispatching.
func (e *Engine) RankModels(prompt string, candidates []string) ([]ModelRank, float64) {
	keywords := ExtractKeywords(prompt)

	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	ranked := make([]ModelRank, len(sorted))
	for i, m := range sorted {
		ranked[i] = ModelRank{Model: m, Score: e.ScoreModel(keywords, m)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Model < ranked[j].Model
	})

	return ranked, e.Confidence(keywords, sorted)
}

// Stats returns a snapshot of every materialized stat key, for the
// GET /preferences/stats surface.
func (e *Engine) Stats() map[forge.StatKey]forge.PreferenceStat {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[forge.StatKey]forge.PreferenceStat, len(e.stats))
	for k, v := range e.stats {
		out[k] = v
	}
	return out
}

// RecordCount returns the number of ingested preference records.
func (e *Engine) RecordCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.records)
}
