// Package store persists the state that must survive a process restart:
// session records (so a browser reload can resume a funnel mid-session)
// and periodic snapshots of the Preference Engine's learned statistics.
// Job and Batch records are deliberately excluded (see the executor
// package doc) since dispatch/poll state is ephemeral by design.
package store

import (
	"context"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// SnapshotStore is implemented by every persistence backend (in-memory,
// or a database/sql-backed one across postgres/mysql/sqlite). Callers
// use forge.ErrNotFound (via errors.Is) to detect a missing session.
type SnapshotStore interface {
	// SaveSession upserts a session record by id.
	SaveSession(ctx context.Context, sess forge.Session) error

	// GetSession returns forge.ErrNotFound if id is unknown.
	GetSession(ctx context.Context, id string) (forge.Session, error)

	// DeleteSession removes a session record. Deleting an unknown id is
	// not an error.
	DeleteSession(ctx context.Context, id string) error

	// ListSessions returns every persisted session, most recently active
	// first.
	ListSessions(ctx context.Context) ([]forge.Session, error)

	// SavePreferenceSnapshot stores blob (the Preference Engine's
	// exported JSON) as the newest snapshot.
	SavePreferenceSnapshot(ctx context.Context, blob []byte) error

	// LoadLatestPreferenceSnapshot returns the most recently saved
	// snapshot, or forge.ErrNotFound if none has ever been saved.
	LoadLatestPreferenceSnapshot(ctx context.Context) ([]byte, error)
}
