// Package executor dispatches single and batched generation jobs to
// worker nodes, owning each job's lifecycle from submission through
// terminal completion. It follows the same background-goroutine-per-
// unit-of-work pattern the health prober uses for probing, here applied
// to polling a dispatched job to completion.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pixelgrid/forge-orchestrator/forge"
	"github.com/pixelgrid/forge-orchestrator/metrics"
)

// Executor holds every in-flight and completed Job/Batch record along
// with the components it takes to dispatch and track them. Job and
// batch state lives in memory only: neither survives a process restart,
// matching §4.6/§8's note that dispatch/poll state is ephemeral while
// the Preference Engine's learned statistics are what gets persisted.
type Executor struct {
	deps  Deps
	store *jobStore
}

// New returns an Executor backed by deps. deps.PollInterval and
// deps.PollDeadline fall back to the client package's 1s/300s defaults
// when zero.
func New(deps Deps) *Executor {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	return &Executor{deps: deps, store: newJobStore()}
}

// capabilityTag maps a requested model family onto the Registry's
// capability vocabulary. Open Question: the spec leaves this mapping
// unspecified; a node's capability tags are taken to be exactly its
// supported model families.
func (e *Executor) capabilityTag(modelFamily string) string {
	return modelFamily
}

// SubmitSingle allocates a job id, routes it to a capable healthy node,
// builds its job graph, and dispatches it, returning the Job record as
// of dispatch (or as failed, if no capable node exists). The caller gets
// this synchronously; completion is tracked by a background poll
// goroutine and delivered through the Aggregator.
func (e *Executor) SubmitSingle(ctx context.Context, req SingleRequest) (forge.Job, error) {
	job := &forge.Job{
		ID:             uuid.NewString(),
		SessionID:      req.SessionID,
		Stage:          req.Stage,
		TaskClass:      req.TaskClass,
		ModelFamily:    req.ModelFamily,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Params:         req.Params,
		State:          forge.JobQueued,
		CreatedAt:      time.Now(),
	}
	e.store.putJob(job)

	node, err := e.deps.Router.RouteOne(req.TaskClass, e.capabilityTag(req.ModelFamily), req.PreferredNodeID)
	if err != nil {
		e.failJob(job.ID, "", req.TaskClass, err)
		return e.mustJob(job.ID), err
	}

	if err := e.dispatch(ctx, job, node); err != nil {
		return e.mustJob(job.ID), err
	}
	return e.mustJob(job.ID), nil
}

// dispatch builds job's template graph for node, submits it, registers
// the aggregator correlation, and starts the background poll goroutine.
// Any failure transitions job straight to failed.
func (e *Executor) dispatch(ctx context.Context, job *forge.Job, node forge.Node) error {
	needsImg2Img := job.Params.SourceImageRef != ""
	needsAdapters := len(job.Params.Adapters) > 0

	templateName, err := e.deps.Templates.Select(job.ModelFamily, needsImg2Img, needsAdapters)
	if err != nil {
		e.failJob(job.ID, node.ID, job.TaskClass, err)
		return err
	}

	graph, err := e.deps.Templates.Build(templateName, paramsToMap(job))
	if err != nil {
		e.failJob(job.ID, node.ID, job.TaskClass, err)
		return err
	}
	if needsAdapters {
		graph, err = e.deps.Templates.InjectAdapters(templateName, graph, job.Params.Adapters)
		if err != nil {
			e.failJob(job.ID, node.ID, job.TaskClass, err)
			return err
		}
	}

	raw, err := json.Marshal(graph)
	if err != nil {
		err = fmt.Errorf("encoding job graph: %w", err)
		e.failJob(job.ID, node.ID, job.TaskClass, err)
		return err
	}

	if err := e.deps.Registry.BumpQueue(node.ID, 1); err != nil {
		e.deps.Log.WithError(err).WithField("node_id", node.ID).Warn("bump queue on dispatch failed")
	}

	workerJobID, err := e.deps.Clients.For(node).Submit(ctx, raw)
	if err != nil {
		_ = e.deps.Registry.BumpQueue(node.ID, -1)
		e.failJob(job.ID, node.ID, job.TaskClass, err)
		return err
	}

	now := time.Now()
	e.store.mutateJob(job.ID, func(j *forge.Job) {
		j.NodeID = node.ID
		j.WorkerJobID = workerJobID
		j.State = forge.JobDispatched
		j.DispatchedAt = now
	})
	metrics.NewCollector().IncJobDispatched(node.ID, job.TaskClass)

	e.deps.Aggregator.Register(workerJobID, job.ID, job.SessionID)
	e.startPoll(job.ID, node, workerJobID, job.TaskClass)
	return nil
}

// startPoll runs PollUntilComplete for workerJobID in the background and
// resolves the job's terminal state from the outcome, publishing through
// the Aggregator. It races safely against an upstream WS "executed"
// event via the Aggregator's atomic Claim: only one of the two delivers
// the terminal event (P5).
func (e *Executor) startPoll(jobID string, node forge.Node, workerJobID string, class forge.TaskClass) {
	ctx, cancel := context.WithCancel(context.Background())
	e.store.registerCancel(jobID, cancel)

	go func() {
		defer cancel()
		defer e.store.clearCancel(jobID)

		outcome, err := e.deps.Clients.For(node).PollUntilComplete(ctx, workerJobID, e.deps.PollInterval, e.deps.PollDeadline)
		if err != nil {
			_ = e.deps.Registry.BumpQueue(node.ID, -1)
			e.failJob(jobID, node.ID, class, err)
			e.deps.Aggregator.PublishError(workerJobID, err.Error())
			e.maybeCompleteBatch(jobID)
			return
		}

		var artifact, thumbnail string
		var seed, elapsedMS int64
		if len(outcome.Outputs) > 0 {
			o := outcome.Outputs[0]
			artifact, thumbnail, seed, elapsedMS = o.Filename, o.ThumbnailURL, o.Seed, o.ElapsedMS
		}

		_ = e.deps.Registry.BumpQueue(node.ID, -1)
		completedAt := time.Now()
		var dispatchedAt time.Time
		e.store.mutateJob(jobID, func(j *forge.Job) {
			dispatchedAt = j.DispatchedAt
			j.State = forge.JobComplete
			j.ArtifactRef = artifact
			j.ThumbnailRef = thumbnail
			j.FinalSeed = seed
			j.CompletedAt = completedAt
			j.Duration = completedAt.Sub(j.DispatchedAt)
		})
		metrics.NewCollector().IncJobCompleted(node.ID, class)
		metrics.NewCollector().ObserveJobDuration(class, completedAt.Sub(dispatchedAt).Seconds())

		if e.deps.Aggregator.PublishComplete(workerJobID, artifact, thumbnail, seed, elapsedMS, node.ID) {
			e.maybeCompleteBatch(jobID)
		}
	}()
}

func (e *Executor) failJob(jobID, nodeID string, class forge.TaskClass, err error) {
	e.store.mutateJob(jobID, func(j *forge.Job) {
		j.State = forge.JobFailed
		j.FailReason = err.Error()
		j.CompletedAt = time.Now()
	})
	metrics.NewCollector().IncJobFailed(nodeID, string(forge.KindOf(err)))
}

func (e *Executor) mustJob(id string) forge.Job {
	j, _ := e.store.getJob(id)
	return j
}

// paramsToMap flattens a Job's prompt fields and parameter bundle into
// the map the Template Engine substitutes placeholders from.
func paramsToMap(job *forge.Job) map[string]any {
	p := job.Params
	return map[string]any{
		"prompt":            job.Prompt,
		"negative_prompt":   job.NegativePrompt,
		"width":             p.Width,
		"height":            p.Height,
		"steps":             p.Steps,
		"guidance":          p.Guidance,
		"sampler":           p.Sampler,
		"scheduler":         p.Scheduler,
		"seed":              p.Seed,
		"source_image_ref":  p.SourceImageRef,
		"denoise_strength":  p.DenoiseStrength,
	}
}

// GetJob returns the current record for id.
func (e *Executor) GetJob(id string) (forge.Job, error) {
	j, ok := e.store.getJob(id)
	if !ok {
		return forge.Job{}, fmt.Errorf("job %q: %w", id, forge.ErrNotFound)
	}
	return j, nil
}

// GetBatch returns the current record for id.
func (e *Executor) GetBatch(id string) (forge.Batch, error) {
	b, ok := e.store.getBatch(id)
	if !ok {
		return forge.Batch{}, fmt.Errorf("batch %q: %w", id, forge.ErrNotFound)
	}
	return b, nil
}

// ListGenerations returns every job for sessionID, optionally filtered
// to one stage.
func (e *Executor) ListGenerations(sessionID string, stage *int) []forge.Job {
	return e.store.listBySession(sessionID, stage)
}

// CancelSession cancels the poll goroutine for every non-terminal job in
// sessionID. Cancellation surfaces as forge.ErrCancelled from the
// in-flight PollUntilComplete call, which drives the job to failed
// through the normal startPoll error path.
func (e *Executor) CancelSession(sessionID string) {
	e.store.cancelSession(sessionID)
}
