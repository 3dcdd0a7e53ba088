package metrics

import "github.com/pixelgrid/forge-orchestrator/forge"

// Collector wraps the package-level metric vectors with helper methods so
// callers don't thread label values through every call site.
type Collector struct{}

// NewCollector creates a new Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetNodeHealth records a node's health after a probe.
func (c *Collector) SetNodeHealth(nodeID string, tier forge.Tier, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	NodeHealthy.WithLabelValues(nodeID, string(tier)).Set(v)
}

// SetNodeQueueDepth sets the queue depth gauge for a node.
func (c *Collector) SetNodeQueueDepth(nodeID string, tier forge.Tier, depth int) {
	NodeQueueDepth.WithLabelValues(nodeID, string(tier)).Set(float64(depth))
}

// IncHealthTransitions increments the transition counter for a node.
func (c *Collector) IncHealthTransitions(nodeID string) {
	NodeHealthTransitionsTotal.WithLabelValues(nodeID).Inc()
}

// ObserveProbeDuration records a health probe's round-trip latency.
func (c *Collector) ObserveProbeDuration(nodeID string, seconds float64) {
	ProbeDuration.WithLabelValues(nodeID).Observe(seconds)
}

// IncProbe increments the probe counter for a node by outcome ("ok" or "fail").
func (c *Collector) IncProbe(nodeID, outcome string) {
	ProbesTotal.WithLabelValues(nodeID, outcome).Inc()
}

// IncJobDispatched increments the dispatch counter for a node/task class.
func (c *Collector) IncJobDispatched(nodeID string, class forge.TaskClass) {
	JobsDispatchedTotal.WithLabelValues(nodeID, string(class)).Inc()
}

// IncJobCompleted increments the completion counter for a node/task class.
func (c *Collector) IncJobCompleted(nodeID string, class forge.TaskClass) {
	JobsCompletedTotal.WithLabelValues(nodeID, string(class)).Inc()
}

// IncJobFailed increments the failure counter for a node, labeled by reason.
func (c *Collector) IncJobFailed(nodeID, reason string) {
	JobsFailedTotal.WithLabelValues(nodeID, reason).Inc()
}

// ObserveJobDuration records a job's wall-clock duration.
func (c *Collector) ObserveJobDuration(class forge.TaskClass, seconds float64) {
	JobDuration.WithLabelValues(string(class)).Observe(seconds)
}

// SetInflightCorrelations sets the open-correlation gauge.
func (c *Collector) SetInflightCorrelations(count int) {
	InflightCorrelations.Set(float64(count))
}

// SetSessionSubscribers sets the subscriber-count gauge for a session.
func (c *Collector) SetSessionSubscribers(sessionID string, count int) {
	SessionSubscribers.WithLabelValues(sessionID).Set(float64(count))
}

// IncEventsDropped increments the dropped-event counter for a session.
func (c *Collector) IncEventsDropped(sessionID string) {
	EventsDroppedTotal.WithLabelValues(sessionID).Inc()
}

// IncRouterOverflow increments the overflow-spill counter for a task class.
func (c *Collector) IncRouterOverflow(class forge.TaskClass) {
	RouterOverflowTotal.WithLabelValues(string(class)).Inc()
}

// IncPreferenceRecord increments the ingested-record counter for an action.
func (c *Collector) IncPreferenceRecord(action forge.PreferenceAction) {
	PreferenceRecordsTotal.WithLabelValues(string(action)).Inc()
}
