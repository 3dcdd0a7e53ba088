package httpapi

import "github.com/pixelgrid/forge-orchestrator/forge"

// createSessionRequest is POST /sessions' body.
type createSessionRequest struct {
	FlowKind      string         `json:"flow_kind" validate:"required"`
	InitialConfig map[string]any `json:"initial_config"`
}

type sessionResponse struct {
	ID           string         `json:"id"`
	FlowKind     string         `json:"flow_kind"`
	CreatedAt    string         `json:"created_at"`
	CurrentStage int            `json:"current_stage"`
	State        string         `json:"state,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// adapterSpecRequest mirrors forge.AdapterSpec with validation tags.
type adapterSpecRequest struct {
	Adapter  string  `json:"adapter" validate:"required"`
	Strength float64 `json:"strength" validate:"gte=0,lte=1"`
}

// paramsRequest mirrors forge.ParameterBundle with validation tags.
type paramsRequest struct {
	Width           int                  `json:"width" validate:"gte=0"`
	Height          int                  `json:"height" validate:"gte=0"`
	Steps           int                  `json:"steps" validate:"gte=0"`
	Guidance        float64              `json:"guidance"`
	Sampler         string               `json:"sampler"`
	Scheduler       string               `json:"scheduler"`
	Seed            int64                `json:"seed"`
	SourceImageRef  string               `json:"source_image_ref,omitempty"`
	DenoiseStrength float64              `json:"denoise_strength,omitempty"`
	Adapters        []adapterSpecRequest `json:"adapters,omitempty"`
}

func (p paramsRequest) toBundle() forge.ParameterBundle {
	adapters := make([]forge.AdapterSpec, len(p.Adapters))
	for i, a := range p.Adapters {
		adapters[i] = forge.AdapterSpec{Adapter: a.Adapter, Strength: a.Strength}
	}
	return forge.ParameterBundle{
		Width: p.Width, Height: p.Height, Steps: p.Steps, Guidance: p.Guidance,
		Sampler: p.Sampler, Scheduler: p.Scheduler, Seed: p.Seed,
		SourceImageRef: p.SourceImageRef, DenoiseStrength: p.DenoiseStrength,
		Adapters: adapters,
	}
}

// generateRequest is POST /generate's body.
type generateRequest struct {
	SessionID       string        `json:"session_id" validate:"required"`
	Stage           int           `json:"stage"`
	TaskClass       string        `json:"task_class" validate:"required"`
	ModelFamily     string        `json:"model_family" validate:"required"`
	Prompt          string        `json:"prompt" validate:"required"`
	NegativePrompt  string        `json:"negative_prompt"`
	Params          paramsRequest `json:"params"`
	PreferredNodeID string        `json:"preferred_node_id,omitempty"`
}

type generateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	NodeID string `json:"node_id,omitempty"`
}

// generateBatchRequest is POST /generate/batch's body.
type generateBatchRequest struct {
	SessionID         string        `json:"session_id" validate:"required"`
	Stage             int           `json:"stage"`
	TaskClass         string        `json:"task_class" validate:"required"`
	ModelFamily       string        `json:"model_family" validate:"required"`
	Prompt            string        `json:"prompt" validate:"required"`
	NegativePrompt    string        `json:"negative_prompt"`
	Params            paramsRequest `json:"params"`
	Count             int           `json:"count" validate:"required,gt=0"`
	SeedStart         int64         `json:"seed_start"`
	PreferredNodeID   string        `json:"preferred_node_id,omitempty"`
	ExploreModels     bool          `json:"explore_models,omitempty"`
	CandidateModels   []string      `json:"candidate_models,omitempty"`
	AutoAdapters      bool          `json:"auto_adapters,omitempty"`
	CandidateAdapters []string      `json:"candidate_adapters,omitempty"`
}

type generateBatchResponse struct {
	BatchID    string         `json:"batch_id"`
	TotalCount int            `json:"total_count"`
	Allocation map[string]int `json:"allocation"`
}

type jobResponse struct {
	ID             string  `json:"id"`
	SessionID      string  `json:"session_id"`
	BatchID        string  `json:"batch_id,omitempty"`
	Stage          int     `json:"stage"`
	State          string  `json:"state"`
	NodeID         string  `json:"node_id,omitempty"`
	ModelFamily    string  `json:"model_family"`
	Prompt         string  `json:"prompt"`
	ArtifactRef    string  `json:"artifact_ref,omitempty"`
	ThumbnailRef   string  `json:"thumbnail_ref,omitempty"`
	FinalSeed      int64   `json:"final_seed,omitempty"`
	FailReason     string  `json:"fail_reason,omitempty"`
	DurationSecond float64 `json:"duration_seconds,omitempty"`
}

func newJobResponse(j forge.Job) jobResponse {
	return jobResponse{
		ID: j.ID, SessionID: j.SessionID, BatchID: j.BatchID, Stage: j.Stage,
		State: string(j.State), NodeID: j.NodeID, ModelFamily: j.ModelFamily,
		Prompt: j.Prompt, ArtifactRef: j.ArtifactRef, ThumbnailRef: j.ThumbnailRef,
		FinalSeed: j.FinalSeed, FailReason: j.FailReason,
		DurationSecond: j.Duration.Seconds(),
	}
}

// iterateRequest is POST /iterate's body. Action selects which feedback
// path §4.9 describes: "select", "reject-all", "more-like-this", or
// "advance".
type iterateRequest struct {
	SessionID            string         `json:"session_id" validate:"required"`
	Action               string         `json:"action" validate:"required,oneof=select reject-all more-like-this advance"`
	SelectedIDs          []string       `json:"selected_ids,omitempty"`
	RejectedIDs          []string       `json:"rejected_ids,omitempty"`
	FeedbackText         string         `json:"feedback_text,omitempty"`
	ParameterAdjustments map[string]any `json:"parameter_adjustments,omitempty"`
	MoreLikeThisCount    int            `json:"more_like_this_count,omitempty"`
	SeedStart            int64          `json:"seed_start,omitempty"`
	DenoiseStrength      float64        `json:"denoise_strength,omitempty"`
}

type iterateResponse struct {
	Stage             int            `json:"stage"`
	State             string         `json:"state"`
	SuggestedPrompt   string         `json:"suggested_prompt,omitempty"`
	SuggestedNegative string         `json:"suggested_negative,omitempty"`
	Rationale         string         `json:"rationale,omitempty"`
	Batch             *generateBatchResponse `json:"batch,omitempty"`
}

// rejectAllRequest is POST /iterate/reject-all's body.
type rejectAllRequest struct {
	SessionID    string   `json:"session_id" validate:"required"`
	Stage        int      `json:"stage"`
	RejectedIDs  []string `json:"rejected_ids" validate:"required,min=1"`
	FeedbackText string   `json:"feedback_text,omitempty"`
}

type rejectAllResponse struct {
	Recorded  bool   `json:"recorded"`
	Rationale string `json:"rationale"`
}

type nodeResponse struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"display_name,omitempty"`
	Tier             string   `json:"tier"`
	VRAMGB           int      `json:"vram_gb,omitempty"`
	MaxConcurrent    int      `json:"max_concurrent"`
	MaxResolution    int      `json:"max_resolution,omitempty"`
	MaxBatch         int      `json:"max_batch,omitempty"`
	Capabilities     []string `json:"capabilities"`
	Healthy          bool     `json:"healthy"`
	LastLatencyMS    int64    `json:"last_latency_ms"`
	QueueDepth       int      `json:"queue_depth"`
	HealthTransition int64    `json:"health_transitions"`
}

func newNodeResponse(n forge.Node) nodeResponse {
	caps := make([]string, 0, len(n.Capabilities))
	for tag := range n.Capabilities {
		caps = append(caps, tag)
	}
	return nodeResponse{
		ID: n.ID, DisplayName: n.DisplayName, Tier: string(n.Tier), VRAMGB: n.VRAMGB,
		MaxConcurrent: n.MaxConcurrent, MaxResolution: n.MaxResolution, MaxBatch: n.MaxBatch,
		Capabilities: caps, Healthy: n.Healthy, LastLatencyMS: n.LastLatencyMS,
		QueueDepth: n.QueueDepth, HealthTransition: n.HealthTransition,
	}
}

type healthResponse struct {
	Status       string `json:"status"`
	NodesHealthy int    `json:"nodes_healthy"`
	NodesTotal   int    `json:"nodes_total"`
}

type statResponse struct {
	KeyA     string  `json:"key_a"`
	KeyB     string  `json:"key_b,omitempty"`
	Selected int     `json:"selected"`
	Total    int     `json:"total"`
	Rate     float64 `json:"rate"`
}

type recommendModelResponse struct {
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
}
