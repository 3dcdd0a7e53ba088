// Command migrate-gen generates SQL migration files for forge's
// persistence tables (sessions and preference snapshots).
//
// Usage:
//
//	go run github.com/pixelgrid/forge-orchestrator/cmd/migrate-gen -output migrations -filename init.sql
//
// Generate migrations for different database adapters:
//
//	go run github.com/pixelgrid/forge-orchestrator/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/pixelgrid/forge-orchestrator/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/pixelgrid/forge-orchestrator/cmd/migrate-gen -adapter sqlite -output migrations
//
// Customize table names:
//
//	go run github.com/pixelgrid/forge-orchestrator/cmd/migrate-gen -sessions-table sessions -output migrations
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pixelgrid/forge-orchestrator/pkg/migrations"
)

func main() {
	var (
		adapter                  = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder             = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename           = flag.String("filename", "", "Output filename (default: timestamp-based)")
		sessionsTable            = flag.String("sessions-table", "forge_sessions", "Name of the sessions table")
		preferenceSnapshotsTable = flag.String("preference-snapshots-table", "forge_preference_snapshots", "Name of the preference snapshots table")
	)

	flag.Parse()

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.SessionsTable = *sessionsTable
	config.PreferenceSnapshotsTable = *preferenceSnapshotsTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	var err error
	switch *adapter {
	case "postgres":
		err = migrations.GeneratePostgres(&config)
	case "mysql":
		err = migrations.GenerateMySQL(&config)
	case "sqlite":
		err = migrations.GenerateSQLite(&config)
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported adapter '%s'. Supported adapters are: postgres, mysql, sqlite\n", *adapter)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
}
