// Package lifecycle runs forge's background maintenance work on top of
// asynq so it survives a single goroutine crash under asynq's own retry
// and backoff, generalizing the teacher's heartbeat-ticker Manager (a
// small struct owning one periodic background loop) from "send worker
// heartbeats" to "sweep idle sessions."
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/pixelgrid/forge-orchestrator/iteration"
	"github.com/pixelgrid/forge-orchestrator/store"
)

// TaskTypeSessionSweep names the periodic task that flags idle sessions.
const TaskTypeSessionSweep = "forge:session_sweep"

const (
	defaultSweepTTL    = time.Hour
	defaultSweepCron   = "@every 10m"
	defaultConcurrency = 2
)

// Config holds configuration for the lifecycle Manager.
type Config struct {
	// Store is the session store the sweep reads activity timestamps
	// from (required).
	Store store.SnapshotStore

	// RedisOpt connects the asynq client, scheduler, and server.
	RedisOpt asynq.RedisConnOpt

	// SweepTTL is how long a session may sit idle before it is flagged
	// (default: 1h).
	SweepTTL time.Duration

	// SweepCron is the asynq cron spec the sweep task runs on (default:
	// every 10 minutes).
	SweepCron string

	// Logger is for observability (optional).
	Logger *logrus.Logger
}

// IdleSessionHandler is invoked with every session id the sweep flags.
// The default logs it; callers that want the sweep to actually delete
// (rather than merely flag, per §9's lifecycle-policy exclusion) supply
// their own handler around store.DeleteSession.
type IdleSessionHandler func(ctx context.Context, sessionID string)

// Manager owns the asynq scheduler (fires the periodic sweep task) and
// the asynq server (processes it), plus the client used to enqueue
// anything ad hoc.
type Manager struct {
	config    Config
	client    *asynq.Client
	scheduler *asynq.Scheduler
	server    *asynq.Server
	onIdle    IdleSessionHandler
}

// New creates a Manager, applying defaults for SweepTTL and SweepCron.
// onIdle defaults to logging the flagged session id when nil.
func New(cfg Config, onIdle IdleSessionHandler) *Manager {
	if cfg.SweepTTL == 0 {
		cfg.SweepTTL = defaultSweepTTL
	}
	if cfg.SweepCron == "" {
		cfg.SweepCron = defaultSweepCron
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	m := &Manager{
		config: cfg,
		client: asynq.NewClient(cfg.RedisOpt),
		scheduler: asynq.NewScheduler(cfg.RedisOpt, &asynq.SchedulerOpts{
			Logger: cfg.Logger,
		}),
		server: asynq.NewServer(cfg.RedisOpt, asynq.Config{
			Concurrency: defaultConcurrency,
			Queues:      map[string]int{"forge_lifecycle": 1},
			Logger:      cfg.Logger,
		}),
		onIdle: onIdle,
	}
	if m.onIdle == nil {
		m.onIdle = m.logIdleSession
	}
	return m
}

// Start registers the session-sweep periodic task and starts both the
// scheduler and the worker server processing it. It returns once both
// have been launched; call Shutdown to stop them.
func (m *Manager) Start() error {
	task := asynq.NewTask(TaskTypeSessionSweep, nil)
	if _, err := m.scheduler.Register(m.config.SweepCron, task); err != nil {
		return fmt.Errorf("registering session sweep: %w", err)
	}

	go func() {
		if err := m.scheduler.Run(); err != nil {
			m.config.Logger.WithError(err).Error("lifecycle scheduler stopped")
		}
	}()

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeSessionSweep, m.handleSweep)

	go func() {
		if err := m.server.Run(mux); err != nil {
			m.config.Logger.WithError(err).Error("lifecycle worker server stopped")
		}
	}()
	return nil
}

// Shutdown stops the scheduler, worker server, and client.
func (m *Manager) Shutdown() {
	m.scheduler.Shutdown()
	m.server.Shutdown()
	m.client.Close()
}

// TriggerSweep enqueues one session-sweep task immediately instead of
// waiting for the next cron tick, for callers that want an out-of-band
// sweep (e.g. right after an operator-initiated bulk session change).
func (m *Manager) TriggerSweep(ctx context.Context) error {
	task := asynq.NewTask(TaskTypeSessionSweep, nil)
	_, err := m.client.EnqueueContext(ctx, task, asynq.Queue("forge_lifecycle"))
	if err != nil {
		return fmt.Errorf("enqueueing session sweep: %w", err)
	}
	return nil
}

// handleSweep lists every persisted session, runs iteration.SweepIdle
// against their last-activity timestamps, and invokes onIdle for each
// flagged id.
func (m *Manager) handleSweep(ctx context.Context, _ *asynq.Task) error {
	sessions, err := m.config.Store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions for sweep: %w", err)
	}

	lastActivity := make(map[string]time.Time, len(sessions))
	for _, s := range sessions {
		lastActivity[s.ID] = s.LastActivity
	}

	idle := iteration.SweepIdle(lastActivity, m.config.SweepTTL, time.Now())
	for _, id := range idle {
		m.onIdle(ctx, id)
	}
	m.config.Logger.WithField("idle_count", len(idle)).Debug("session sweep complete")
	return nil
}

func (m *Manager) logIdleSession(_ context.Context, sessionID string) {
	m.config.Logger.WithField("session_id", sessionID).Info("session idle past TTL, eligible for deletion")
}
