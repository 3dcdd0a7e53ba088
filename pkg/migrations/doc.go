// Package migrations generates standalone SQL migration files for forge's
// persistence tables (sessions and preference snapshots) across
// PostgreSQL, MySQL/MariaDB, and SQLite, for operators who run schema
// migrations out of band rather than through the sqlstore package.
package migrations
