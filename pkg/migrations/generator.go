package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pixelgrid/forge-orchestrator/store/sqlstore"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if err := validateIdentifier(config.SessionsTable, "SessionsTable"); err != nil {
		return err
	}
	if err := validateIdentifier(config.PreferenceSnapshotsTable, "PreferenceSnapshotsTable"); err != nil {
		return err
	}
	return nil
}

// Config configures migration generation for forge's persistence tables.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SessionsTable is the name of the sessions table
	SessionsTable string

	// PreferenceSnapshotsTable is the name of the preference snapshot table
	PreferenceSnapshotsTable string
}

// DefaultConfig returns the default configuration for forge migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:             "migrations",
		OutputFilename:           fmt.Sprintf("%s_init_forge_persistence.sql", timestamp),
		SessionsTable:            "forge_sessions",
		PreferenceSnapshotsTable: "forge_preference_snapshots",
	}
}

func (c Config) tableConfig() sqlstore.TableConfig {
	return sqlstore.TableConfig{SessionsTable: c.SessionsTable, PreferenceSnapshotsTable: c.PreferenceSnapshotsTable}
}

func writeMigration(config *Config, dialect sqlstore.Dialect, dbLabel string) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	header := fmt.Sprintf("-- Forge persistence migration\n-- Generated: %s\n-- Database: %s\n\n", time.Now().Format(time.RFC3339), dbLabel)
	body := sqlstore.MigrationUp(dialect, config.tableConfig())

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(header+body), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}
	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return writeMigration(config, sqlstore.DialectPostgres, "PostgreSQL")
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return writeMigration(config, sqlstore.DialectMySQL, "MySQL/MariaDB")
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return writeMigration(config, sqlstore.DialectSQLite, "SQLite")
}
