// Package memory is an in-memory store.SnapshotStore, useful for tests
// and for running without a configured database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// Store is an in-memory implementation of store.SnapshotStore. It
// provides thread-safe access using a sync.RWMutex, following this
// codebase's single-writer-behind-an-RWMutex discipline.
type Store struct {
	mu                  sync.RWMutex
	sessions            map[string]forge.Session
	preferenceSnapshots [][]byte
}

// New creates a new in-memory store with initialized maps.
func New() *Store {
	return &Store{sessions: make(map[string]forge.Session)}
}

// SaveSession upserts a session record by id.
func (s *Store) SaveSession(ctx context.Context, sess forge.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// GetSession returns forge.ErrNotFound if id is unknown.
func (s *Store) GetSession(ctx context.Context, id string) (forge.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return forge.Session{}, fmt.Errorf("session %q: %w", id, forge.ErrNotFound)
	}
	return sess, nil
}

// DeleteSession removes a session record. Deleting an unknown id is not
// an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// ListSessions returns every persisted session, most recently active
// first.
func (s *Store) ListSessions(ctx context.Context) ([]forge.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]forge.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

// SavePreferenceSnapshot stores blob as the newest snapshot.
func (s *Store) SavePreferenceSnapshot(ctx context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), blob...)
	s.preferenceSnapshots = append(s.preferenceSnapshots, cp)
	return nil
}

// LoadLatestPreferenceSnapshot returns the most recently saved snapshot,
// or forge.ErrNotFound if none has ever been saved.
func (s *Store) LoadLatestPreferenceSnapshot(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.preferenceSnapshots) == 0 {
		return nil, fmt.Errorf("preference snapshot: %w", forge.ErrNotFound)
	}
	return s.preferenceSnapshots[len(s.preferenceSnapshots)-1], nil
}
