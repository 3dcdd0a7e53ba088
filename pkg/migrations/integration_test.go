//go:build integration

package migrations_test

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pixelgrid/forge-orchestrator/pkg/migrations"
)

func TestIntegrationPostgres(t *testing.T) {
	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping PostgreSQL integration test")
	}

	tmpDir := t.TempDir()
	config := migrations.Config{
		OutputFolder:             tmpDir,
		OutputFilename:           "postgres_integration.sql",
		SessionsTable:            "forge_sessions_it",
		PreferenceSnapshotsTable: "forge_preference_snapshots_it",
	}

	if err := migrations.GeneratePostgres(&config); err != nil {
		t.Fatalf("failed to generate migration: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join(tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()
	t.Cleanup(func() {
		db.Exec("DROP TABLE IF EXISTS " + config.PreferenceSnapshotsTable)
		db.Exec("DROP TABLE IF EXISTS " + config.SessionsTable)
	})

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("failed to execute migration: %v", err)
	}

	_, err = db.Exec("INSERT INTO "+config.SessionsTable+" (id, flow_kind, current_stage, config, created_at, last_activity) VALUES ($1, $2, $3, $4, $5, $6)",
		"s1", "txt2img-funnel", 0, "{}", time.Now(), time.Now())
	if err != nil {
		t.Fatalf("failed to insert session: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + config.SessionsTable).Scan(&count); err != nil {
		t.Fatalf("failed to count sessions: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 session, got %d", count)
	}
}

func TestIntegrationMySQL(t *testing.T) {
	dbURL := os.Getenv("MYSQL_URL")
	if dbURL == "" {
		t.Skip("MYSQL_URL not set, skipping MySQL integration test")
	}

	tmpDir := t.TempDir()
	config := migrations.Config{
		OutputFolder:             tmpDir,
		OutputFilename:           "mysql_integration.sql",
		SessionsTable:            "forge_sessions_it",
		PreferenceSnapshotsTable: "forge_preference_snapshots_it",
	}

	if err := migrations.GenerateMySQL(&config); err != nil {
		t.Fatalf("failed to generate migration: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join(tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	db, err := sql.Open("mysql", dbURL+"?multiStatements=true")
	if err != nil {
		t.Fatalf("failed to connect to mysql: %v", err)
	}
	defer db.Close()
	t.Cleanup(func() {
		db.Exec("DROP TABLE IF EXISTS " + config.PreferenceSnapshotsTable)
		db.Exec("DROP TABLE IF EXISTS " + config.SessionsTable)
	})

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("failed to execute migration: %v", err)
	}

	if _, err := db.Exec("INSERT INTO "+config.SessionsTable+" (id, flow_kind, current_stage, config) VALUES (?, ?, ?, ?)",
		"s1", "txt2img-funnel", 0, "{}"); err != nil {
		t.Fatalf("failed to insert session: %v", err)
	}
}

func TestIntegrationSQLite(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	config := migrations.Config{
		OutputFolder:             tmpDir,
		OutputFilename:           "sqlite_integration.sql",
		SessionsTable:            "forge_sessions",
		PreferenceSnapshotsTable: "forge_preference_snapshots",
	}

	if err := migrations.GenerateSQLite(&config); err != nil {
		t.Fatalf("failed to generate migration: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join(tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to connect to sqlite: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("failed to execute migration: %v", err)
	}

	var tableCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", config.SessionsTable).Scan(&tableCount); err != nil {
		t.Fatalf("failed to check sessions table: %v", err)
	}
	if tableCount == 0 {
		t.Error("sessions table was not created")
	}

	if _, err := db.Exec("INSERT INTO "+config.SessionsTable+" (id, flow_kind, current_stage, config) VALUES (?, ?, ?, ?)",
		"s1", "txt2img-funnel", 0, "{}"); err != nil {
		t.Fatalf("failed to insert session: %v", err)
	}
}
