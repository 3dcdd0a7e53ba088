package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pixelgrid/forge-orchestrator/aggregator"
	"github.com/pixelgrid/forge-orchestrator/forge"
	"github.com/pixelgrid/forge-orchestrator/preference"
	"github.com/pixelgrid/forge-orchestrator/router"
)

// modelExploreHighConfidence and modelExploreMidConfidence are the
// confidence thresholds gating how many of the Preference Engine's
// ranked models a batch explores: >= high picks the single best model,
// >= mid picks the top two, otherwise (or in the draft stage,
// regardless of confidence) the top three.
const (
	modelExploreHighConfidence = 0.5
	modelExploreMidConfidence  = 0.3
	modelExploreMaxCandidates  = 3

	adapterAutoSelectTopK   = 3
	adapterStrengthFloor    = 0.5
	adapterStrengthCeiling  = 0.8
)

// draftStage is the session stage treated as the draft stage for the
// purpose of the model-exploration override (§4.6): stage 0, a session's
// first generation round.
const draftStage = 0

// SubmitBatch allocates a batch id, routes the full candidate node list
// once, divides the count across nodes (and, if model exploration is
// requested, across the Preference Engine's top-ranked candidate
// models), and dispatches every member job. It returns as soon as every
// member has been routed to dispatch; completion of each member is
// tracked the same way as a single-image job.
func (e *Executor) SubmitBatch(ctx context.Context, req BatchRequest) (forge.Batch, []forge.Job, error) {
	candidates, err := e.deps.Router.Route(req.TaskClass, e.capabilityTag(req.ModelFamily), req.PreferredNodeID)
	if err != nil {
		return forge.Batch{}, nil, err
	}

	nodeAlloc := router.Allocate(req.Count, candidates)
	assignedNodes := expandNodes(candidates, nodeAlloc)

	candidateModels := req.CandidateModels
	if len(candidateModels) == 0 {
		candidateModels = []string{req.ModelFamily}
	}
	selectedModels := []string{req.ModelFamily}
	if req.ExploreModels && len(candidateModels) > 1 {
		ranks, confidence := e.deps.Preferences.RankModels(req.Prompt, candidateModels)
		selectedModels = selectExploreModels(ranks, confidence, req.Stage)
	}
	assignedModels := expandStrings(req.Count, selectedModels)

	batch := &forge.Batch{
		ID:         uuid.NewString(),
		SessionID:  req.SessionID,
		Stage:      req.Stage,
		Total:      req.Count,
		Allocation: nodeAlloc,
		State:      forge.BatchOpen,
		CreatedAt:  time.Now(),
	}
	e.store.putBatch(batch)

	jobs := make([]forge.Job, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		node := assignedNodes[i]
		model := assignedModels[i]

		params := req.BaseParams
		params.Seed = req.SeedStart + int64(i)
		if req.AutoAdapters && len(req.CandidateAdapters) > 0 {
			params.Adapters = selectAdapters(e.deps.Preferences, req.Prompt, model, req.CandidateAdapters)
		}

		job := &forge.Job{
			ID:             uuid.NewString(),
			SessionID:      req.SessionID,
			BatchID:        batch.ID,
			Stage:          req.Stage,
			TaskClass:      req.TaskClass,
			ModelFamily:    model,
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Params:         params,
			State:          forge.JobQueued,
			CreatedAt:      time.Now(),
		}
		e.store.putJob(job)

		if err := e.dispatch(ctx, job, node); err != nil {
			e.deps.Log.WithError(err).WithField("job_id", job.ID).WithField("batch_id", batch.ID).
				Warn("batch member dispatch failed")
		}
		jobs = append(jobs, e.mustJob(job.ID))
	}

	return e.mustBatch(batch.ID), jobs, nil
}

func (e *Executor) mustBatch(id string) forge.Batch {
	b, _ := e.store.getBatch(id)
	return b
}

// maybeCompleteBatch recomputes a batch's completed/terminal counts after
// one of its member jobs reaches a terminal state, publishing a
// batch-progress or (once every member is terminal) batch-complete event.
// A no-op for jobs that do not belong to a batch.
func (e *Executor) maybeCompleteBatch(jobID string) {
	job, ok := e.store.getJob(jobID)
	if !ok || job.BatchID == "" {
		return
	}

	members := e.store.listByBatch(job.BatchID)
	completed, terminal := 0, 0
	for _, m := range members {
		if m.State == forge.JobComplete {
			completed++
		}
		if m.State.Terminal() {
			terminal++
		}
	}

	var batch forge.Batch
	e.store.mutateBatch(job.BatchID, func(b *forge.Batch) {
		b.Completed = completed
		if terminal >= b.Total {
			b.State = forge.BatchClosed
		}
		batch = *b
	})

	evtType := aggregator.EventBatchProgress
	if terminal >= batch.Total {
		evtType = aggregator.EventBatchComplete
	}
	e.deps.Aggregator.Publish(job.SessionID, aggregator.Event{
		Type:           evtType,
		BatchID:        job.BatchID,
		Completed:      completed,
		Total:          batch.Total,
		LatestComplete: jobID,
	})
}

// selectExploreModels picks how many of ranks' top candidates a batch
// explores, per the confidence thresholds above. The draft-stage
// override forces the maximum candidate count regardless of confidence.
func selectExploreModels(ranks []preference.ModelRank, confidence float64, stage int) []string {
	n := modelExploreMaxCandidates
	switch {
	case stage == draftStage:
		// draft-stage override: keep the maximum candidate count
	case confidence >= modelExploreHighConfidence:
		n = 1
	case confidence >= modelExploreMidConfidence:
		n = 2
	}
	if n > len(ranks) {
		n = len(ranks)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = ranks[i].Model
	}
	return out
}

// selectAdapters asks the Preference Engine for the top adapters for
// model/prompt and clips each one's recommended strength into
// [adapterStrengthFloor, adapterStrengthCeiling].
func selectAdapters(engine *preference.Engine, prompt, model string, candidates []string) []forge.AdapterSpec {
	scores := engine.RecommendAdapters(prompt, model, candidates, adapterAutoSelectTopK)
	out := make([]forge.AdapterSpec, len(scores))
	for i, s := range scores {
		strength := adapterStrengthFloor + s.Score*(adapterStrengthCeiling-adapterStrengthFloor)
		if strength < adapterStrengthFloor {
			strength = adapterStrengthFloor
		}
		if strength > adapterStrengthCeiling {
			strength = adapterStrengthCeiling
		}
		out[i] = forge.AdapterSpec{Adapter: s.Adapter, Strength: strength}
	}
	return out
}

// expandNodes flattens a node-id -> count allocation into a per-job node
// slice, in candidate order, so job i always lands on a node consistent
// with Allocate's counts.
func expandNodes(candidates []forge.Node, alloc map[string]int) []forge.Node {
	out := make([]forge.Node, 0, len(candidates))
	for _, n := range candidates {
		for i := 0; i < alloc[n.ID]; i++ {
			out = append(out, n)
		}
	}
	return out
}

// expandStrings divides total evenly across models (remainder to the
// first k, same as router.Allocate) and flattens the result into a
// per-job slice.
func expandStrings(total int, models []string) []string {
	k := len(models)
	base := total / k
	remainder := total % k

	out := make([]string, 0, total)
	for i, m := range models {
		count := base
		if i < remainder {
			count++
		}
		for j := 0; j < count; j++ {
			out = append(out, m)
		}
	}
	return out
}
