// Package health runs the periodic liveness loop over every registered
// node and feeds results back into the registry, following the
// ticker-driven heartbeat loop pattern this codebase uses for
// long-running background work.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pixelgrid/forge-orchestrator/forge"
	"github.com/pixelgrid/forge-orchestrator/metrics"
)

// Pinger issues a single health check against a node and reports its
// round-trip latency. Implementations live in package client, which talks
// HTTP to the node's /health endpoint.
type Pinger interface {
	Ping(ctx context.Context, node forge.Node) (latency time.Duration, err error)
}

// Registry is the subset of *registry.Registry the Prober depends on.
type Registry interface {
	Snapshot() []forge.Node
	UpdateHealth(nodeID string, healthy bool, latencyMS int64) error
}

// Config holds configuration for the Prober.
type Config struct {
	Registry Registry
	Pinger   Pinger

	// Interval is the time between probe rounds (default: 10s).
	Interval time.Duration

	// Timeout bounds a single node's probe (default: 3s).
	Timeout time.Duration

	Logger *logrus.Logger
}

// Prober runs periodic concurrent health checks across the node inventory.
type Prober struct {
	config Config
}

// New creates a Prober, applying defaults for Interval and Timeout.
func New(cfg Config) *Prober {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Prober{config: cfg}
}

// Run executes probe rounds at the configured interval until ctx is
// cancelled. The first round runs immediately rather than waiting a full
// interval, so a freshly started orchestrator doesn't route to nodes of
// unknown health for a full Interval.
func (p *Prober) Run(ctx context.Context) error {
	p.probeAll(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll fans a probe out across every known node concurrently, each
// bounded by its own Timeout, and waits for all to finish before returning.
func (p *Prober) probeAll(ctx context.Context) {
	nodes := p.config.Registry.Snapshot()

	var wg sync.WaitGroup
	wg.Add(len(nodes))
	for _, n := range nodes {
		node := n
		go func() {
			defer wg.Done()
			p.probeOne(ctx, node)
		}()
	}
	wg.Wait()
}

func (p *Prober) probeOne(ctx context.Context, node forge.Node) {
	probeCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	latency, err := p.config.Pinger.Ping(probeCtx, node)
	elapsed := time.Since(start)

	collector := metrics.NewCollector()
	collector.ObserveProbeDuration(node.ID, elapsed.Seconds())

	healthy := err == nil
	outcome := "ok"
	if !healthy {
		outcome = "fail"
		latency = elapsed
	}
	collector.IncProbe(node.ID, outcome)

	wasHealthy := node.Healthy
	if uerr := p.config.Registry.UpdateHealth(node.ID, healthy, latency.Milliseconds()); uerr != nil {
		p.config.Logger.WithError(uerr).WithField("node_id", node.ID).Warn("health update failed: node no longer in registry")
		return
	}

	collector.SetNodeHealth(node.ID, node.Tier, healthy)
	if wasHealthy != healthy {
		collector.IncHealthTransitions(node.ID)
		logEntry := p.config.Logger.WithFields(logrus.Fields{
			"node_id": node.ID,
			"tier":    node.Tier,
			"healthy": healthy,
		})
		if healthy {
			logEntry.Info("node transitioned to healthy")
		} else {
			logEntry.WithError(err).Warn("node transitioned to unhealthy")
		}
	}
}
