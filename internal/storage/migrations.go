package storage

import (
	"database/sql"
	"fmt"

	"github.com/gregjohnson/lektrico-bridge/internal/log"
)

// migrations holds all database migrations in order
var migrations = []struct {
	version int
	name    string
	sql     string
}{
	{
		version: 1,
		name:    "create_charger_snapshots_table",
		sql: `
			CREATE TABLE IF NOT EXISTS charger_snapshots (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				status INTEGER NOT NULL,
				start_stop INTEGER NOT NULL,
				mode INTEGER NOT NULL,
				instant_power REAL,
				voltage REAL,
				current_amps REAL,
				dynamic_current REAL,
				session_energy REAL,
				charging_time REAL,
				temperature REAL,
				load_balancing_mode TEXT,
				recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_charger_snapshots_recorded_at ON charger_snapshots(recorded_at);
		`,
	},
	{
		version: 2,
		name:    "create_event_log_table",
		sql: `
			CREATE TABLE IF NOT EXISTS event_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
				source TEXT NOT NULL,
				event_type TEXT NOT NULL,
				message TEXT,
				details JSON
			);
			CREATE INDEX IF NOT EXISTS idx_event_log_timestamp ON event_log(timestamp);
			CREATE INDEX IF NOT EXISTS idx_event_log_source ON event_log(source);
			CREATE INDEX IF NOT EXISTS idx_event_log_type ON event_log(event_type);
		`,
	},
	{
		version: 3,
		name:    "create_command_log_table",
		sql: `
			CREATE TABLE IF NOT EXISTS command_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
				sequence_id TEXT,
				kind TEXT NOT NULL,
				method TEXT NOT NULL,
				target TEXT NOT NULL,
				value REAL,
				success BOOLEAN NOT NULL,
				error TEXT,
				duration_ms INTEGER
			);
			CREATE INDEX IF NOT EXISTS idx_command_log_timestamp ON command_log(timestamp);
			CREATE INDEX IF NOT EXISTS idx_command_log_sequence ON command_log(sequence_id);
		`,
	},
	{
		version: 4,
		name:    "create_migrations_table",
		sql: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}

// RunMigrations applies all pending migrations
func RunMigrations(db *sql.DB) error {
	// Ensure migrations table exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetMigrationVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		// The migrations table already exists; only record it
		if m.name == "create_migrations_table" {
			_, err := db.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name)
			if err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.version, err)
			}
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}

		_, err = tx.Exec(m.sql)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d (%s): %w", m.version, m.name, err)
		}

		_, err = tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		log.Info("Applied migration %d: %s", m.version, m.name)
	}

	return nil
}

// GetMigrationVersion returns the current schema version
func GetMigrationVersion(db *sql.DB) (int, error) {
	var version int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
