package executor

import (
	"sort"
	"sync"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// jobStore holds every Job and Batch record the Executor has created,
// keyed by id. It follows the registry's single-struct-behind-an-RWMutex
// discipline: State transitions for a single Job are serialized by
// locking around the whole record rather than splitting fields across
// separate locks.
type jobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*forge.Job
	batches map[string]*forge.Batch
	cancels map[string]func() // jobID -> cancel for its poll goroutine
}

func newJobStore() *jobStore {
	return &jobStore{
		jobs:    make(map[string]*forge.Job),
		batches: make(map[string]*forge.Batch),
		cancels: make(map[string]func()),
	}
}

func (s *jobStore) putJob(j *forge.Job) {
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
}

func (s *jobStore) getJob(id string) (forge.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return forge.Job{}, false
	}
	return *j, true
}

// mutateJob applies fn to the stored Job under the store's write lock,
// serializing concurrent transitions of the same job id.
func (s *jobStore) mutateJob(id string, fn func(*forge.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	fn(j)
}

func (s *jobStore) putBatch(b *forge.Batch) {
	s.mu.Lock()
	s.batches[b.ID] = b
	s.mu.Unlock()
}

func (s *jobStore) getBatch(id string) (forge.Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return forge.Batch{}, false
	}
	return *b, true
}

func (s *jobStore) mutateBatch(id string, fn func(*forge.Batch)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return
	}
	fn(b)
}

// listBySession returns every job for sessionID, optionally filtered to
// one stage, sorted by id for deterministic output. A session's
// generations partition cleanly by stage (§3), so this is a simple
// filter over the full job map.
func (s *jobStore) listBySession(sessionID string, stage *int) []forge.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]forge.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.SessionID != sessionID {
			continue
		}
		if stage != nil && j.Stage != *stage {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// listByBatch returns every job for batchID, sorted by id.
func (s *jobStore) listByBatch(batchID string) []forge.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]forge.Job, 0)
	for _, j := range s.jobs {
		if j.BatchID == batchID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *jobStore) registerCancel(jobID string, cancel func()) {
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()
}

func (s *jobStore) clearCancel(jobID string) {
	s.mu.Lock()
	delete(s.cancels, jobID)
	s.mu.Unlock()
}

// cancelSession invokes the cancel func for every non-terminal job
// belonging to sessionID.
func (s *jobStore) cancelSession(sessionID string) {
	s.mu.Lock()
	var toCancel []func()
	for id, j := range s.jobs {
		if j.SessionID != sessionID || j.State.Terminal() {
			continue
		}
		if cancel, ok := s.cancels[id]; ok {
			toCancel = append(toCancel, cancel)
		}
	}
	s.mu.Unlock()

	for _, cancel := range toCancel {
		cancel()
	}
}
