// Package forge defines the core domain types shared across the
// orchestration substrate: node inventory, jobs, batches, sessions, and
// preference records. Every other package in this module depends on
// forge for its vocabulary instead of defining its own copies.
package forge

import (
	"fmt"
	"time"
)

// Tier is a coarse capability/quality ranking of a node. Higher tiers
// have a higher Rank.
type Tier string

const (
	TierDraft    Tier = "draft"
	TierStandard Tier = "standard"
	TierQuality  Tier = "quality"
	TierPremium  Tier = "premium"
)

// tierRank gives Tier its total order for router sorting. Unknown tiers
// rank below TierDraft so a misconfigured node never outranks a known one.
var tierRank = map[Tier]int{
	TierDraft:    0,
	TierStandard: 1,
	TierQuality:  2,
	TierPremium:  3,
}

// Rank returns the tier's position in draft < standard < quality < premium.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// TaskClass identifies the kind of generation work being requested.
// Quality-class tasks prefer higher tiers; non-quality tasks prefer
// lower tiers to conserve high-end capacity.
type TaskClass string

const (
	TaskClassDraft    TaskClass = "draft"
	TaskClassStandard TaskClass = "standard"
	TaskClassQuality  TaskClass = "quality"
	TaskClassUpscale  TaskClass = "upscale"
	TaskClassPremium  TaskClass = "premium"
)

// IsQualityClass reports whether the task class belongs to the
// quality-preferring router bucket (quality, upscale, premium variants).
func (c TaskClass) IsQualityClass() bool {
	switch c {
	case TaskClassQuality, TaskClassUpscale, TaskClassPremium:
		return true
	default:
		return false
	}
}

// NodeConfig is the declarative, file-sourced description of a node.
// Registry.Load turns a slice of these into live Node records.
type NodeConfig struct {
	ID              string   `yaml:"id" mapstructure:"id"`
	DisplayName     string   `yaml:"display_name" mapstructure:"display_name"`
	Tier            Tier     `yaml:"tier" mapstructure:"tier"`
	VRAMGB          int      `yaml:"vram_gb" mapstructure:"vram_gb"`
	MaxConcurrent   int      `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MaxResolution   int      `yaml:"max_resolution" mapstructure:"max_resolution"`
	MaxBatch        int      `yaml:"max_batch" mapstructure:"max_batch"`
	Capabilities    []string `yaml:"capabilities" mapstructure:"capabilities"`
	Host            string   `yaml:"host" mapstructure:"host"`
	Port            int      `yaml:"port" mapstructure:"port"`
}

// Node is the runtime record for one GPU worker: its declared capacity,
// capability set, and mutable health/queue state. Nodes are created at
// startup from a NodeConfig and never destroyed while the process runs;
// only the Health Prober and the queue-depth bump path mutate them, and
// only through Registry methods.
type Node struct {
	ID            string
	DisplayName   string
	Tier          Tier
	VRAMGB        int
	MaxConcurrent int
	MaxResolution int
	MaxBatch      int
	Capabilities  map[string]struct{}
	Host          string
	Port          int

	Healthy          bool
	LastLatencyMS    int64
	QueueDepth       int
	HealthTransition int64 // monotonic sequence number, bumped on every health flip
}

// BaseURL returns the node's HTTP endpoint, e.g. "http://10.0.0.4:8188".
func (n Node) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", n.Host, n.Port)
}

// HasCapability reports whether the node's capability set contains tag.
func (n Node) HasCapability(tag string) bool {
	_, ok := n.Capabilities[tag]
	return ok
}

// AdapterSpec is one entry in a job's ordered adapter chain.
type AdapterSpec struct {
	Adapter  string  `json:"adapter"`
	Strength float64 `json:"strength"`
}

// ParameterBundle is the full set of generation parameters carried by a
// Job, independent of its lifecycle state.
type ParameterBundle struct {
	Width            int           `json:"width"`
	Height           int           `json:"height"`
	Steps            int           `json:"steps"`
	Guidance         float64       `json:"guidance"`
	Sampler          string        `json:"sampler"`
	Scheduler        string        `json:"scheduler"`
	Seed             int64         `json:"seed"`
	SourceImageRef   string        `json:"source_image_ref,omitempty"`
	DenoiseStrength  float64       `json:"denoise_strength,omitempty"`
	Adapters         []AdapterSpec `json:"adapters,omitempty"`
}

// JobState is a Job's lifecycle state. Transitions are strictly forward:
// queued -> dispatched -> running -> complete, or -> failed from any
// non-terminal state. There is no rollback.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobDispatched JobState = "dispatched"
	JobRunning    JobState = "running"
	JobComplete   JobState = "complete"
	JobFailed     JobState = "failed"
)

// Terminal reports whether the state is one of the two terminal states.
func (s JobState) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// Job is one generation request's full lifecycle record. Fields set at
// creation are immutable; NodeID is set once at dispatch; WorkerJobID is
// set iff State >= JobDispatched; Artifact fields are set iff State ==
// JobComplete.
type Job struct {
	ID             string
	SessionID      string
	BatchID        string // empty for single-image jobs
	Stage          int
	TaskClass      TaskClass
	ModelFamily    string
	Prompt         string
	NegativePrompt string
	Params         ParameterBundle

	NodeID      string
	WorkerJobID string

	State      JobState
	FailReason string

	ArtifactRef  string
	ThumbnailRef string
	FinalSeed    int64
	Duration     time.Duration

	CreatedAt    time.Time
	DispatchedAt time.Time
	CompletedAt  time.Time
}

// BatchState mirrors the open/closed lifecycle of a Batch.
type BatchState string

const (
	BatchOpen   BatchState = "open"
	BatchClosed BatchState = "closed"
)

// Batch is a logically atomic set of Jobs submitted from a single
// request. Allocation maps node id to the count of images assigned to
// that node. Completed is monotonic and never exceeds Total.
type Batch struct {
	ID         string
	SessionID  string
	Stage      int
	Total      int
	Allocation map[string]int
	Completed  int
	State      BatchState
	CreatedAt  time.Time
}

// FlowKind tags the kind of session workflow (e.g. "txt2img-funnel").
type FlowKind string

// Session is one user-facing workflow run: ordered stages with feedback
// between them. Generations are associated by SessionID and are never
// moved between sessions.
type Session struct {
	ID           string
	FlowKind     FlowKind
	CurrentStage int
	Config       map[string]any
	CreatedAt    time.Time
	LastActivity time.Time
}

// PreferenceAction is the outcome recorded for a generation: the user
// selected it or rejected it.
type PreferenceAction string

const (
	ActionSelected PreferenceAction = "selected"
	ActionRejected PreferenceAction = "rejected"
)

// PreferenceRecord is an immutable, append-only learning event.
type PreferenceRecord struct {
	Keywords     []string
	Model        string
	Adapters     []string
	Stage        int
	Action       PreferenceAction
	FeedbackText string
	SessionID    string
	Timestamp    time.Time
}

// StatKey identifies one dimension of the Preference Engine's
// materialized (selected_count, total_count) cache: (keyword, model),
// (keyword, adapter), (model, adapter), or (model) alone as a coarse
// prior.
type StatKey struct {
	A string
	B string // empty for the coarse (model) prior
}

// PreferenceStat is the derived, monotone-in-Total statistic for one
// StatKey.
type PreferenceStat struct {
	Selected int
	Total    int
}

// Rate returns Selected/Total, or 0.5 (the neutral prior) when Total is 0.
func (s PreferenceStat) Rate() float64 {
	if s.Total == 0 {
		return 0.5
	}
	return float64(s.Selected) / float64(s.Total)
}
