// Package router places single and batched jobs onto capable, healthy
// worker nodes, applying tier preference and overflow spill, following
// the sort-then-assign shape this codebase uses for deterministic
// partition placement.
package router

import (
	"fmt"
	"sort"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// OverflowThreshold is the queue depth above which the top-ranked
// candidate is skipped in favor of the first candidate below it.
const OverflowThreshold = 3

// Registry is the subset of *registry.Registry the Router depends on.
type Registry interface {
	Capable(tag string) []forge.Node
	Get(nodeID string) (forge.Node, error)
}

// Router selects candidate nodes for a job given its task class and
// required capability.
type Router struct {
	registry Registry
}

// New returns a Router backed by reg.
func New(reg Registry) *Router {
	return &Router{registry: reg}
}

// Route returns the full ordered candidate list for class/capability,
// with preferredNodeID (if healthy and capable) pinned first and overflow
// spill applied to whatever remains. forge.ErrNoCapableNode is returned
// when no node is both healthy and capable.
func (r *Router) Route(class forge.TaskClass, capability, preferredNodeID string) ([]forge.Node, error) {
	candidates := r.registry.Capable(capability)
	healthy := make([]forge.Node, 0, len(candidates))
	for _, n := range candidates {
		if n.Healthy {
			healthy = append(healthy, n)
		}
	}
	if len(healthy) == 0 {
		return nil, fmt.Errorf("capability %q, class %q: %w", capability, class, forge.ErrNoCapableNode)
	}

	sortCandidates(healthy, class)

	var preferred forge.Node
	havePreferred := false
	if preferredNodeID != "" {
		for i, n := range healthy {
			if n.ID == preferredNodeID {
				preferred = n
				havePreferred = true
				healthy = append(healthy[:i], healthy[i+1:]...)
				break
			}
		}
	}

	applyOverflow(healthy)

	if havePreferred {
		return append([]forge.Node{preferred}, healthy...), nil
	}
	return healthy, nil
}

// RouteOne returns only the head of Route's candidate list, the node a
// single-image job should be dispatched to.
func (r *Router) RouteOne(class forge.TaskClass, capability, preferredNodeID string) (forge.Node, error) {
	candidates, err := r.Route(class, capability, preferredNodeID)
	if err != nil {
		return forge.Node{}, err
	}
	return candidates[0], nil
}

// sortCandidates orders healthy candidates by tier and queue depth. For
// quality-class tasks higher tiers are preferred; for draft/standard
// tasks lower tiers are preferred to conserve premium capacity. Queue
// depth ascending breaks tier ties, and node id breaks remaining ties.
func sortCandidates(nodes []forge.Node, class forge.TaskClass) {
	quality := class.IsQualityClass()
	sort.SliceStable(nodes, func(i, j int) bool {
		ri, rj := nodes[i].Tier.Rank(), nodes[j].Tier.Rank()
		if ri != rj {
			if quality {
				return ri > rj
			}
			return ri < rj
		}
		if nodes[i].QueueDepth != nodes[j].QueueDepth {
			return nodes[i].QueueDepth < nodes[j].QueueDepth
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// applyOverflow promotes the first candidate at or below OverflowThreshold
// to the head of nodes when the current head exceeds it. nodes is
// modified in place.
func applyOverflow(nodes []forge.Node) {
	if len(nodes) == 0 || nodes[0].QueueDepth <= OverflowThreshold {
		return
	}
	for i := 1; i < len(nodes); i++ {
		if nodes[i].QueueDepth <= OverflowThreshold {
			promoted := nodes[i]
			copy(nodes[1:i+1], nodes[0:i])
			nodes[0] = promoted
			return
		}
	}
}

// Allocate divides total across the ordered candidate list, assigning the
// remainder of total/len(candidates) to the first k candidates so every
// candidate gets floor(total/k) or floor(total/k)+1 jobs. candidates must
// be non-empty.
func Allocate(total int, candidates []forge.Node) map[string]int {
	k := len(candidates)
	base := total / k
	remainder := total % k

	out := make(map[string]int, k)
	for i, n := range candidates {
		count := base
		if i < remainder {
			count++
		}
		out[n.ID] = count
	}
	return out
}
