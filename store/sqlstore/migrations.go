package sqlstore

import "fmt"

// TableConfig configures the table names used by sqlstore.Store.
type TableConfig struct {
	// SessionsTable stores one row per forge.Session.
	SessionsTable string

	// PreferenceSnapshotsTable stores append-only Preference Engine
	// export blobs, newest last.
	PreferenceSnapshotsTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		SessionsTable:            "forge_sessions",
		PreferenceSnapshotsTable: "forge_preference_snapshots",
	}
}

// MigrationUp returns the SQL to create forge's persistence tables for
// the given dialect. SQLite and MySQL lack a portable JSONB/UUID type so
// config is kept as TEXT for all three dialects, and id as TEXT
// (VARCHAR(64) in MySQL).
func MigrationUp(dialect Dialect, config TableConfig) string {
	switch dialect {
	case DialectPostgres:
		return fmt.Sprintf(`CREATE TABLE %s (
    id TEXT PRIMARY KEY,
    flow_kind TEXT NOT NULL,
    current_stage INTEGER NOT NULL DEFAULT 0,
    config TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX idx_%s_last_activity ON %s(last_activity DESC);

CREATE TABLE %s (
    id SERIAL PRIMARY KEY,
    blob BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`, config.SessionsTable, config.SessionsTable, config.SessionsTable, config.PreferenceSnapshotsTable)
	case DialectMySQL:
		return fmt.Sprintf(`CREATE TABLE %s (
    id VARCHAR(64) PRIMARY KEY,
    flow_kind VARCHAR(64) NOT NULL,
    current_stage INT NOT NULL DEFAULT 0,
    config TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_activity DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    INDEX idx_%s_last_activity (last_activity DESC)
);

CREATE TABLE %s (
    id INTEGER PRIMARY KEY AUTO_INCREMENT,
    blob BLOB NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`, config.SessionsTable, config.SessionsTable, config.PreferenceSnapshotsTable)
	default: // sqlite
		return fmt.Sprintf(`CREATE TABLE %s (
    id TEXT PRIMARY KEY,
    flow_kind TEXT NOT NULL,
    current_stage INTEGER NOT NULL DEFAULT 0,
    config TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_activity DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_%s_last_activity ON %s(last_activity DESC);

CREATE TABLE %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    blob BLOB NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`, config.SessionsTable, config.SessionsTable, config.SessionsTable, config.PreferenceSnapshotsTable)
	}
}

// MigrationDown returns the SQL to drop forge's persistence tables.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s;
DROP TABLE IF EXISTS %s;
`, config.PreferenceSnapshotsTable, config.SessionsTable)
}
