// Package aggregator fans upstream worker events in to a correlation
// table and fans normalized events out to per-session subscribers,
// generalizing the job-keyed client/send-channel hub pattern this
// codebase uses for its own downstream WebSocket connections. An
// optional Relay (see relay.go) extends that fan-out across replicas
// over NATS; with no Relay attached, fan-out is strictly in-process.
package aggregator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pixelgrid/forge-orchestrator/metrics"
)

// EventType names a normalized downstream event kind.
type EventType string

const (
	EventProgress       EventType = "progress"
	EventComplete       EventType = "complete"
	EventBatchProgress  EventType = "batch-progress"
	EventBatchComplete  EventType = "batch-complete"
	EventError          EventType = "error"
)

// Event is the normalized schema delivered to session subscribers.
type Event struct {
	Type EventType `json:"type"`

	GenerationID string `json:"generation_id,omitempty"`
	CurrentStep  int    `json:"current_step,omitempty"`
	TotalSteps   int    `json:"total_steps,omitempty"`

	ArtifactURL  string `json:"artifact_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Seed         int64  `json:"seed,omitempty"`
	ElapsedMS    int64  `json:"elapsed_ms,omitempty"`
	NodeID       string `json:"node_id,omitempty"`

	BatchID        string `json:"batch_id,omitempty"`
	Completed      int    `json:"completed,omitempty"`
	Total          int    `json:"total,omitempty"`
	LatestComplete string `json:"latest_complete,omitempty"`

	Message string `json:"message,omitempty"`
}

// subscriberChanCap bounds the per-subscriber channel; progress events
// may be dropped when a channel is at capacity, complete/batch-complete/
// error never are.
const subscriberChanCap = 64

type correlation struct {
	jobID     string
	sessionID string
}

type subscriber struct {
	ch chan Event
}

// sessionSubs is one session's subscriber set with its own mutex, so a
// send stuck on one session's subscriber (its reader stopped draining
// but hasn't unsubscribed yet) only ever blocks that session's own
// Publish/Subscribe/unsubscribe calls, never another session's.
type sessionSubs struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// Aggregator holds the worker-job-id correlation table and the
// session-id subscriber sets.
type Aggregator struct {
	mu           sync.RWMutex
	correlations map[string]correlation // worker-job-id -> correlation

	// subMu guards only the sessions map itself (inserting a session's
	// first sessionSubs entry), never a send: sends and the
	// delete-then-close in unsubscribe are serialized per session by
	// that session's own sessionSubs.mu instead, so one stuck
	// subscriber can't stall every other session in the process.
	subMu    sync.Mutex
	sessions map[string]*sessionSubs // session-id -> subscriber set

	relay *Relay
	log   *logrus.Logger
}

// Option configures optional Aggregator behavior.
type Option func(*Aggregator)

// WithRelay attaches a Relay so Publish also republishes onto NATS for
// subscribers parked on other orchestrator replicas. Pass nil to leave
// fan-out strictly in-process (the default).
func WithRelay(r *Relay) Option {
	return func(a *Aggregator) { a.relay = r }
}

// New returns an empty Aggregator.
func New(log *logrus.Logger, opts ...Option) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &Aggregator{
		correlations: make(map[string]correlation),
		sessions:     make(map[string]*sessionSubs),
		log:          log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts relaying cross-replica events, if a Relay was attached with
// WithRelay, until ctx is cancelled. It is a no-op on an Aggregator with
// no relay, so callers can unconditionally run it in a goroutine.
func (a *Aggregator) Run(ctx context.Context) error {
	if a.relay == nil {
		<-ctx.Done()
		return nil
	}
	return a.relay.run(ctx, a.publishLocal)
}

// Register inserts a worker-job-id -> (internal job id, session id)
// correlation on dispatch.
func (a *Aggregator) Register(workerJobID, jobID, sessionID string) {
	a.mu.Lock()
	a.correlations[workerJobID] = correlation{jobID: jobID, sessionID: sessionID}
	a.mu.Unlock()
	metrics.NewCollector().SetInflightCorrelations(a.correlationCount())
}

// Unregister removes a correlation on terminal event.
func (a *Aggregator) Unregister(workerJobID string) {
	a.mu.Lock()
	delete(a.correlations, workerJobID)
	a.mu.Unlock()
	metrics.NewCollector().SetInflightCorrelations(a.correlationCount())
}

func (a *Aggregator) correlationCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.correlations)
}

// Lookup returns the internal job id and session id registered for a
// worker job id, without removing it.
func (a *Aggregator) Lookup(workerJobID string) (jobID, sessionID string, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.correlations[workerJobID]
	return c.jobID, c.sessionID, ok
}

// Claim atomically looks up and removes a worker-job-id's correlation.
// It is the only safe way to act on a terminal event (complete or
// error): the upstream WS consumer and the Job Executor's poll loop can
// both observe a job's completion, and Claim's atomicity guarantees
// exactly one of them wins the race and delivers exactly one terminal
// event downstream (P5).
func (a *Aggregator) Claim(workerJobID string) (jobID, sessionID string, ok bool) {
	a.mu.Lock()
	c, ok := a.correlations[workerJobID]
	if ok {
		delete(a.correlations, workerJobID)
	}
	count := len(a.correlations)
	a.mu.Unlock()
	if ok {
		metrics.NewCollector().SetInflightCorrelations(count)
	}
	return c.jobID, c.sessionID, ok
}

// sessionFor returns sessionID's sessionSubs, creating it if this is its
// first subscriber. subMu is held only long enough to touch the
// sessions map itself; the returned pointer is then used without subMu,
// so it never sits behind a stuck subscriber's blocking send.
func (a *Aggregator) sessionFor(sessionID string) *sessionSubs {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	ss, ok := a.sessions[sessionID]
	if !ok {
		ss = &sessionSubs{subs: make(map[*subscriber]struct{})}
		a.sessions[sessionID] = ss
	}
	return ss
}

// Subscribe returns a channel of normalized events for sessionID and an
// unsubscribe function the caller must call exactly once when done.
func (a *Aggregator) Subscribe(sessionID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberChanCap)}
	ss := a.sessionFor(sessionID)

	ss.mu.Lock()
	ss.subs[sub] = struct{}{}
	count := len(ss.subs)
	ss.mu.Unlock()

	metrics.NewCollector().SetSessionSubscribers(sessionID, count)

	unsubscribe := func() {
		ss.mu.Lock()
		removed := false
		if _, present := ss.subs[sub]; present {
			delete(ss.subs, sub)
			removed = true
		}
		remaining := len(ss.subs)
		// close happens while ss.mu is still held, so a concurrent
		// publishLocal for this same session (which holds ss.mu for
		// its whole send loop) can never observe this subscriber both
		// before and after its channel is closed. A stuck subscriber
		// elsewhere in this session can still delay this unsubscribe,
		// but it cannot block any other session's ss.mu.
		if removed {
			close(sub.ch)
		}
		ss.mu.Unlock()
		metrics.NewCollector().SetSessionSubscribers(sessionID, remaining)
	}
	return sub.ch, unsubscribe
}

// Publish delivers evt to every local subscriber of sessionID and, if a
// Relay is attached, republishes it onto NATS so subscribers parked on
// other orchestrator replicas receive it too.
func (a *Aggregator) Publish(sessionID string, evt Event) {
	a.publishLocal(sessionID, evt)
	if a.relay != nil {
		a.relay.publish(sessionID, evt)
	}
}

// publishLocal delivers evt to every subscriber of sessionID on this
// replica only. complete, batch-complete and error events are delivered
// with a blocking send so they are never dropped; every other event type is sent
// non-blocking and dropped (with a metric bump) if the subscriber's
// channel is full.
//
// The blocking send happens under that session's own sessionSubs.mu, not
// a process-wide lock, so a subscriber whose reader stopped draining
// (and hasn't unsubscribed yet) can only stall Publish/Subscribe/
// unsubscribe calls for its own session, never any other session's.
func (a *Aggregator) publishLocal(sessionID string, evt Event) {
	a.subMu.Lock()
	ss, ok := a.sessions[sessionID]
	a.subMu.Unlock()
	if !ok {
		return
	}

	critical := evt.Type == EventComplete || evt.Type == EventError || evt.Type == EventBatchComplete

	ss.mu.Lock()
	defer ss.mu.Unlock()
	for s := range ss.subs {
		if critical {
			s.ch <- evt
			continue
		}
		select {
		case s.ch <- evt:
		default:
			metrics.NewCollector().IncEventsDropped(sessionID)
			a.log.WithFields(logrus.Fields{
				"session_id": sessionID,
				"event_type": evt.Type,
			}).Debug("dropped progress event: subscriber channel full")
		}
	}
}
