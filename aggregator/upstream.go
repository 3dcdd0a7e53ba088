package aggregator

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/pixelgrid/forge-orchestrator/client"
)

// upstreamProgress and upstreamExecuted mirror the subset of a node's raw
// event-stream payload the orchestrator normalizes. Unknown message kinds
// are discarded by Consume's default branch.
type upstreamProgress struct {
	PromptID string `json:"prompt_id"`
	Value    int    `json:"value"`
	Max      int    `json:"max"`
}

type upstreamExecuted struct {
	PromptID string `json:"prompt_id"`
	Output   struct {
		Filename     string `json:"filename"`
		ThumbnailURL string `json:"thumbnail_url"`
		Seed         int64  `json:"seed"`
		ElapsedMS    int64  `json:"elapsed_ms"`
	} `json:"output"`
}

// Consume turns one client.WorkerEvent from nodeID's event stream into a
// normalized Event and publishes it to the session the event's worker job
// id correlates to. Events for a worker job id with no live correlation
// (already completed, or never registered) are discarded.
func (a *Aggregator) Consume(nodeID string, evt client.WorkerEvent) {
	switch evt.Type {
	case "progress":
		jobID, sessionID, ok := a.Lookup(evt.WorkerJobID)
		if !ok {
			return
		}
		var p upstreamProgress
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			a.log.WithError(err).WithField("worker_job_id", evt.WorkerJobID).Warn("discarding malformed progress event")
			return
		}
		a.Publish(sessionID, Event{
			Type:         EventProgress,
			GenerationID: jobID,
			CurrentStep:  p.Value,
			TotalSteps:   p.Max,
		})
	case "executed":
		// Claim races the Job Executor's own poll-driven completion path;
		// whichever side claims the correlation first delivers the single
		// complete event this job gets (P5).
		jobID, sessionID, ok := a.Claim(evt.WorkerJobID)
		if !ok {
			return
		}
		var e upstreamExecuted
		if err := json.Unmarshal(evt.Payload, &e); err != nil {
			a.log.WithError(err).WithField("worker_job_id", evt.WorkerJobID).Warn("discarding malformed executed event")
			return
		}
		a.Publish(sessionID, Event{
			Type:         EventComplete,
			GenerationID: jobID,
			ArtifactURL:  e.Output.Filename,
			ThumbnailURL: e.Output.ThumbnailURL,
			Seed:         e.Output.Seed,
			ElapsedMS:    e.Output.ElapsedMS,
			NodeID:       nodeID,
		})
	case "status", "ping", "pong":
		// Queue-depth/keepalive chatter; not surfaced downstream.
	default:
		a.log.WithFields(logrus.Fields{"node_id": nodeID, "type": evt.Type}).Debug("discarding unknown upstream event kind")
	}
}

// PublishError emits a normalized error event for a worker job and
// atomically claims (removes) its correlation, used by the Job Executor
// on timeout, cancellation, or transport failure rather than waiting for
// an upstream event. A no-op if the correlation was already claimed by
// a concurrent completion.
func (a *Aggregator) PublishError(workerJobID, reason string) {
	jobID, sessionID, ok := a.Claim(workerJobID)
	if !ok {
		return
	}
	a.Publish(sessionID, Event{Type: EventError, GenerationID: jobID, Message: reason})
}

// PublishComplete emits a normalized complete event for a worker job
// after atomically claiming its correlation, used by the Job Executor's
// poll loop. Returns false (and emits nothing) if the correlation was
// already claimed by a concurrent upstream "executed" event.
func (a *Aggregator) PublishComplete(workerJobID string, artifactURL, thumbnailURL string, seed, elapsedMS int64, nodeID string) bool {
	jobID, sessionID, ok := a.Claim(workerJobID)
	if !ok {
		return false
	}
	a.Publish(sessionID, Event{
		Type:         EventComplete,
		GenerationID: jobID,
		ArtifactURL:  artifactURL,
		ThumbnailURL: thumbnailURL,
		Seed:         seed,
		ElapsedMS:    elapsedMS,
		NodeID:       nodeID,
	})
	return true
}
