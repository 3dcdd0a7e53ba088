// Package registry is the canonical source of truth for node inventory
// and runtime health. It is the sole owner of Node records: only the
// Health Prober (via UpdateHealth) and the Job Executor (via BumpQueue)
// mutate a node after Load, and both do so through the methods here so
// Snapshot always observes a consistent view across every field of a
// node.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pixelgrid/forge-orchestrator/forge"
	"github.com/pixelgrid/forge-orchestrator/metrics"
)

// Registry holds the live node inventory behind a single RWMutex. Readers
// (Get, Capable, Snapshot) may run concurrently; writers (Load,
// UpdateHealth, BumpQueue) are serialized against each other and against
// readers.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]forge.Node
}

// New returns an empty Registry. Call Load before using it.
func New() *Registry {
	return &Registry{nodes: make(map[string]forge.Node)}
}

// Load replaces the inventory atomically from a declarative config.
// Fails with forge.ErrConfigError when a node lacks required fields.
// Capability tags are not validated against a fixed vocabulary here
// (the spec leaves the vocabulary open-ended); an empty tag is rejected.
func (r *Registry) Load(configs []forge.NodeConfig) error {
	next := make(map[string]forge.Node, len(configs))
	seen := make(map[string]struct{}, len(configs))

	for i, c := range configs {
		if c.ID == "" {
			return fmt.Errorf("node[%d]: %w: id is required", i, forge.ErrConfigError)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("node %q: %w: duplicate id", c.ID, forge.ErrConfigError)
		}
		seen[c.ID] = struct{}{}

		if c.Host == "" || c.Port == 0 {
			return fmt.Errorf("node %q: %w: host and port are required", c.ID, forge.ErrConfigError)
		}
		if c.Tier == "" {
			return fmt.Errorf("node %q: %w: tier is required", c.ID, forge.ErrConfigError)
		}
		if len(c.Capabilities) == 0 {
			return fmt.Errorf("node %q: %w: at least one capability tag is required", c.ID, forge.ErrConfigError)
		}

		caps := make(map[string]struct{}, len(c.Capabilities))
		for _, tag := range c.Capabilities {
			if tag == "" {
				return fmt.Errorf("node %q: %w: empty capability tag", c.ID, forge.ErrConfigError)
			}
			caps[tag] = struct{}{}
		}

		// Preserve runtime state across a reload of the same node id so a
		// config reload does not flap health or queue depth.
		healthy := false
		var latency int64
		var queueDepth int
		var transitions int64
		if existing, ok := r.existing(c.ID); ok {
			healthy = existing.Healthy
			latency = existing.LastLatencyMS
			queueDepth = existing.QueueDepth
			transitions = existing.HealthTransition
		}

		next[c.ID] = forge.Node{
			ID:               c.ID,
			DisplayName:      c.DisplayName,
			Tier:             c.Tier,
			VRAMGB:           c.VRAMGB,
			MaxConcurrent:    c.MaxConcurrent,
			MaxResolution:    c.MaxResolution,
			MaxBatch:         c.MaxBatch,
			Capabilities:     caps,
			Host:             c.Host,
			Port:             c.Port,
			Healthy:          healthy,
			LastLatencyMS:    latency,
			QueueDepth:       queueDepth,
			HealthTransition: transitions,
		}
	}

	r.mu.Lock()
	r.nodes = next
	r.mu.Unlock()
	return nil
}

func (r *Registry) existing(id string) (forge.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// Get returns the node or forge.ErrNotFound.
func (r *Registry) Get(nodeID string) (forge.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return forge.Node{}, fmt.Errorf("node %q: %w", nodeID, forge.ErrNotFound)
	}
	return n, nil
}

// Capable returns the subset of nodes whose capability set contains tag,
// sorted by node id for deterministic iteration.
func (r *Registry) Capable(tag string) []forge.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]forge.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.HasCapability(tag) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns an immutable copy of all nodes and their runtime state.
func (r *Registry) Snapshot() []forge.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]forge.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateHealth is called by the Health Prober after each probe. It is
// atomic with respect to Snapshot and bumps HealthTransition whenever
// the healthy flag flips.
func (r *Registry) UpdateHealth(nodeID string, healthy bool, latencyMS int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %q: %w", nodeID, forge.ErrNotFound)
	}

	if n.Healthy != healthy {
		n.HealthTransition++
	}
	n.Healthy = healthy
	n.LastLatencyMS = latencyMS
	r.nodes[nodeID] = n
	return nil
}

// BumpQueue is called by the Job Executor around dispatch and terminal
// transitions. delta is normally +1 (on dispatch) or -1 (on a terminal
// event); queue depth is floored at 0 so a duplicate decrement can never
// go negative.
func (r *Registry) BumpQueue(nodeID string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %q: %w", nodeID, forge.ErrNotFound)
	}

	n.QueueDepth += delta
	if n.QueueDepth < 0 {
		n.QueueDepth = 0
	}
	r.nodes[nodeID] = n
	metrics.NewCollector().SetNodeQueueDepth(nodeID, n.Tier, n.QueueDepth)
	return nil
}

// Watcher is satisfied by anything that can notify the Registry of a new
// config to load on file change (see config.go).
type Watcher interface {
	Watch(ctx context.Context, onChange func([]forge.NodeConfig)) error
}

// AttachWatcher runs w.Watch on the calling goroutine, blocking until it
// returns, and reloads r whenever it reports a new config. It logs
// nothing itself and discards Load errors — callers observing the reload
// outcome should wrap onChange with their own logging.
func (r *Registry) AttachWatcher(ctx context.Context, w Watcher) error {
	return w.Watch(ctx, func(cfgs []forge.NodeConfig) {
		_ = r.Load(cfgs)
	})
}
