// Package sqlstore is a database/sql-backed store.SnapshotStore. It
// speaks three dialects (postgres, mysql, sqlite) through blank-imported
// drivers and a small per-dialect placeholder/upsert switch, the way the
// teacher's generationsTable/workersTable store parameterized its table
// names rather than hardcoding them.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// Dialect selects the SQL placeholder style and upsert syntax to use.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// Store is a database/sql implementation of store.SnapshotStore, usable
// against PostgreSQL, MySQL, or SQLite depending on the Dialect it was
// constructed with.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	sessions string
	snapshots string
}

// New creates a Store with default table names.
func New(db *sql.DB, dialect Dialect) *Store {
	return NewWithConfig(db, dialect, DefaultTableConfig())
}

// NewWithConfig creates a Store with custom table names.
func NewWithConfig(db *sql.DB, dialect Dialect, config TableConfig) *Store {
	return &Store{
		db:        db,
		dialect:   dialect,
		sessions:  config.SessionsTable,
		snapshots: config.PreferenceSnapshotsTable,
	}
}

// placeholder returns the n-th (1-indexed) bind parameter marker for the
// store's dialect.
func (s *Store) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SaveSession upserts a session record by id.
func (s *Store) SaveSession(ctx context.Context, sess forge.Session) error {
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}

	var query string
	switch s.dialect {
	case DialectPostgres:
		query = fmt.Sprintf(`
			INSERT INTO %s (id, flow_kind, current_stage, config, created_at, last_activity)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				flow_kind = EXCLUDED.flow_kind,
				current_stage = EXCLUDED.current_stage,
				config = EXCLUDED.config,
				last_activity = EXCLUDED.last_activity
		`, s.sessions)
	case DialectMySQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (id, flow_kind, current_stage, config, created_at, last_activity)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				flow_kind = VALUES(flow_kind),
				current_stage = VALUES(current_stage),
				config = VALUES(config),
				last_activity = VALUES(last_activity)
		`, s.sessions)
	default: // sqlite
		query = fmt.Sprintf(`
			INSERT INTO %s (id, flow_kind, current_stage, config, created_at, last_activity)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				flow_kind = excluded.flow_kind,
				current_stage = excluded.current_stage,
				config = excluded.config,
				last_activity = excluded.last_activity
		`, s.sessions)
	}

	_, err = s.db.ExecContext(ctx, query, sess.ID, string(sess.FlowKind), sess.CurrentStage, string(cfg), sess.CreatedAt, sess.LastActivity)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession returns forge.ErrNotFound if id is unknown.
func (s *Store) GetSession(ctx context.Context, id string) (forge.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, flow_kind, current_stage, config, created_at, last_activity
		FROM %s WHERE id = %s
	`, s.sessions, s.placeholder(1))

	var sess forge.Session
	var flowKind, cfg string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&sess.ID, &flowKind, &sess.CurrentStage, &cfg, &sess.CreatedAt, &sess.LastActivity)
	if err == sql.ErrNoRows {
		return forge.Session{}, fmt.Errorf("session %q: %w", id, forge.ErrNotFound)
	}
	if err != nil {
		return forge.Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.FlowKind = forge.FlowKind(flowKind)
	if cfg != "" {
		if err := json.Unmarshal([]byte(cfg), &sess.Config); err != nil {
			return forge.Session{}, fmt.Errorf("unmarshal session config: %w", err)
		}
	}
	return sess, nil
}

// DeleteSession removes a session record. Deleting an unknown id is not
// an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.sessions, s.placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions returns every persisted session, most recently active
// first.
func (s *Store) ListSessions(ctx context.Context) ([]forge.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, flow_kind, current_stage, config, created_at, last_activity
		FROM %s ORDER BY last_activity DESC
	`, s.sessions)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []forge.Session
	for rows.Next() {
		var sess forge.Session
		var flowKind, cfg string
		if err := rows.Scan(&sess.ID, &flowKind, &sess.CurrentStage, &cfg, &sess.CreatedAt, &sess.LastActivity); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.FlowKind = forge.FlowKind(flowKind)
		if cfg != "" {
			if err := json.Unmarshal([]byte(cfg), &sess.Config); err != nil {
				return nil, fmt.Errorf("unmarshal session config: %w", err)
			}
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// SavePreferenceSnapshot stores blob as the newest snapshot.
func (s *Store) SavePreferenceSnapshot(ctx context.Context, blob []byte) error {
	var query string
	switch s.dialect {
	case DialectPostgres:
		query = fmt.Sprintf(`INSERT INTO %s (blob, created_at) VALUES ($1, NOW())`, s.snapshots)
	case DialectMySQL:
		query = fmt.Sprintf(`INSERT INTO %s (blob, created_at) VALUES (?, NOW())`, s.snapshots)
	default: // sqlite
		query = fmt.Sprintf(`INSERT INTO %s (blob, created_at) VALUES (?, CURRENT_TIMESTAMP)`, s.snapshots)
	}

	if _, err := s.db.ExecContext(ctx, query, blob); err != nil {
		return fmt.Errorf("save preference snapshot: %w", err)
	}
	return nil
}

// LoadLatestPreferenceSnapshot returns the most recently saved snapshot,
// or forge.ErrNotFound if none has ever been saved.
func (s *Store) LoadLatestPreferenceSnapshot(ctx context.Context) ([]byte, error) {
	query := fmt.Sprintf(`
		SELECT blob FROM %s ORDER BY created_at DESC, id DESC LIMIT 1
	`, s.snapshots)

	var blob []byte
	err := s.db.QueryRowContext(ctx, query).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("preference snapshot: %w", forge.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load preference snapshot: %w", err)
	}
	return blob, nil
}
