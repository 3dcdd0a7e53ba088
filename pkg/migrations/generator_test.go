package migrations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGeneratePostgres(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		OutputFolder:             tmpDir,
		OutputFilename:           "test_migration.sql",
		SessionsTable:            "forge_sessions",
		PreferenceSnapshotsTable: "forge_preference_snapshots",
	}

	if err := GeneratePostgres(&config); err != nil {
		t.Fatalf("GeneratePostgres failed: %v", err)
	}

	outputPath := filepath.Join(tmpDir, config.OutputFilename)
	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}

	sql := string(content)
	required := []string{
		"Database: PostgreSQL",
		"CREATE TABLE forge_sessions",
		"CREATE TABLE forge_preference_snapshots",
		"BYTEA",
		"idx_forge_sessions_last_activity",
	}
	for _, r := range required {
		if !strings.Contains(sql, r) {
			t.Errorf("generated SQL missing %q", r)
		}
	}
}

func TestGeneratePostgres_CustomNames(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		OutputFolder:             tmpDir,
		OutputFilename:           "custom_migration.sql",
		SessionsTable:            "custom_sessions",
		PreferenceSnapshotsTable: "custom_snapshots",
	}

	if err := GeneratePostgres(&config); err != nil {
		t.Fatalf("GeneratePostgres failed: %v", err)
	}

	outputPath := filepath.Join(tmpDir, config.OutputFilename)
	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}

	sql := string(content)
	if !strings.Contains(sql, "CREATE TABLE custom_sessions") {
		t.Error("custom sessions table name not used")
	}
	if !strings.Contains(sql, "CREATE TABLE custom_snapshots") {
		t.Error("custom preference snapshots table name not used")
	}
}

func TestGenerateMySQL(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		OutputFolder:             tmpDir,
		OutputFilename:           "test_migration.sql",
		SessionsTable:            "forge_sessions",
		PreferenceSnapshotsTable: "forge_preference_snapshots",
	}

	if err := GenerateMySQL(&config); err != nil {
		t.Fatalf("GenerateMySQL failed: %v", err)
	}

	outputPath := filepath.Join(tmpDir, config.OutputFilename)
	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}

	sql := string(content)
	required := []string{
		"Database: MySQL/MariaDB",
		"CREATE TABLE forge_sessions",
		"AUTO_INCREMENT",
		"INDEX idx_forge_sessions_last_activity",
	}
	for _, r := range required {
		if !strings.Contains(sql, r) {
			t.Errorf("generated SQL missing %q", r)
		}
	}
}

func TestGenerateSQLite(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		OutputFolder:             tmpDir,
		OutputFilename:           "test_migration.sql",
		SessionsTable:            "forge_sessions",
		PreferenceSnapshotsTable: "forge_preference_snapshots",
	}

	if err := GenerateSQLite(&config); err != nil {
		t.Fatalf("GenerateSQLite failed: %v", err)
	}

	outputPath := filepath.Join(tmpDir, config.OutputFilename)
	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}

	sql := string(content)
	required := []string{
		"Database: SQLite",
		"CREATE TABLE forge_sessions",
		"AUTOINCREMENT",
	}
	for _, r := range required {
		if !strings.Contains(sql, r) {
			t.Errorf("generated SQL missing %q", r)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.OutputFolder != "migrations" {
		t.Errorf("expected OutputFolder 'migrations', got %q", config.OutputFolder)
	}
	if config.SessionsTable != "forge_sessions" {
		t.Errorf("expected SessionsTable 'forge_sessions', got %q", config.SessionsTable)
	}
	if config.PreferenceSnapshotsTable != "forge_preference_snapshots" {
		t.Errorf("expected PreferenceSnapshotsTable 'forge_preference_snapshots', got %q", config.PreferenceSnapshotsTable)
	}
	if !strings.HasSuffix(config.OutputFilename, "_init_forge_persistence.sql") {
		t.Errorf("expected OutputFilename to end with '_init_forge_persistence.sql', got %q", config.OutputFilename)
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		fieldName string
		wantError bool
	}{
		{"valid simple", "table_name", "TableName", false},
		{"valid with numbers", "table123", "TableName", false},
		{"valid with underscores", "my_table_name", "TableName", false},
		{"empty string", "", "TableName", true},
		{"starts with number", "123table", "TableName", true},
		{"contains spaces", "table name", "TableName", true},
		{"contains dash", "table-name", "TableName", true},
		{"contains semicolon", "table;DROP TABLE users", "TableName", true},
		{"contains quotes", "table'name", "TableName", true},
		{"sql injection attempt", "table; DROP TABLE users--", "TableName", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateIdentifier(tt.value, tt.fieldName)
			if tt.wantError && err == nil {
				t.Errorf("expected error for value %q, got nil", tt.value)
			}
			if !tt.wantError && err != nil {
				t.Errorf("expected no error for value %q, got: %v", tt.value, err)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantError bool
	}{
		{
			name:      "valid config",
			config:    Config{SessionsTable: "forge_sessions", PreferenceSnapshotsTable: "forge_preference_snapshots"},
			wantError: false,
		},
		{
			name:      "invalid sessions table",
			config:    Config{SessionsTable: "table; DROP TABLE users--", PreferenceSnapshotsTable: "forge_preference_snapshots"},
			wantError: true,
		},
		{
			name:      "empty preference snapshots table",
			config:    Config{SessionsTable: "forge_sessions", PreferenceSnapshotsTable: ""},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(&tt.config)
			if tt.wantError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestGeneratePostgres_InvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		OutputFolder:             tmpDir,
		OutputFilename:           "test.sql",
		SessionsTable:            "table'; DROP TABLE users--",
		PreferenceSnapshotsTable: "forge_preference_snapshots",
	}

	err := GeneratePostgres(&config)
	if err == nil {
		t.Fatal("expected error for invalid sessions table name, got nil")
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("expected error to mention 'invalid configuration', got: %v", err)
	}
}
