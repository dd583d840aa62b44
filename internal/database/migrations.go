package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// migrations is the ordered list of all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create schema_version table",
		Up:          migration001Up,
		Down:        migration001Down,
	},
	{
		Version:     2,
		Description: "Create accounts table",
		Up:          migration002Up,
		Down:        migration002Down,
	},
	{
		Version:     3,
		Description: "Create account_activity table",
		Up:          migration003Up,
		Down:        migration003Down,
	},
}

// LatestVersion is the schema version after all migrations
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// RunMigrations runs all pending database migrations
func (db *DB) RunMigrations() error {
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		db.logger.InfoWithContext("Running migration", map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})

		err := db.ExecTx(func(tx *sql.Tx) error {
			if err := migration.Up(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, err)
			}

			_, err := tx.Exec(`
				INSERT INTO schema_version (version, description, applied_at)
				VALUES (?, ?, ?)
			`, migration.Version, migration.Description, time.Now().UnixMilli())

			return err
		})

		if err != nil {
			return err
		}
	}

	return nil
}

// Rollback reverts migrations above targetVersion, newest first
func (db *DB) Rollback(targetVersion int) error {
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if migration.Version > currentVersion || migration.Version <= targetVersion {
			continue
		}

		db.logger.InfoWithContext("Rolling back migration", map[string]interface{}{
			"version": migration.Version,
		})

		err := db.ExecTx(func(tx *sql.Tx) error {
			if err := migration.Down(tx); err != nil {
				return fmt.Errorf("rollback %d failed: %w", migration.Version, err)
			}
			if migration.Version == 1 {
				return nil
			}
			_, err := tx.Exec(`DELETE FROM schema_version WHERE version = ?`, migration.Version)
			return err
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// getCurrentVersion returns the current schema version
func (db *DB) getCurrentVersion() (int, error) {
	var tableExists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)

	if err != nil {
		return 0, err
	}

	if !tableExists {
		return 0, nil
	}

	var version int
	err = db.conn.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_version
	`).Scan(&version)

	if err != nil {
		return 0, err
	}

	return version, nil
}

// Migration 001: Schema version tracking table
func migration001Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			description TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	return err
}

func migration001Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS schema_version`)
	return err
}

// Migration 002: Accounts table. Timestamps are unix milliseconds so the
// allocatable query can compare them numerically.
func migration002Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			auth_provider TEXT NOT NULL DEFAULT 'ptc',
			owner TEXT NOT NULL,

			level INTEGER NOT NULL DEFAULT 0,
			behaviour TEXT,

			-- Allocation and health
			allocated_at INTEGER,
			temp_banned_at INTEGER,
			perm_banned BOOLEAN NOT NULL DEFAULT 0,
			blinded_at INTEGER,
			warned_at INTEGER,
			rest_until INTEGER,
			last_login_at INTEGER,

			created_at INTEGER NOT NULL
		);

		CREATE INDEX idx_accounts_owner ON accounts(owner);
		CREATE INDEX idx_accounts_allocated_at ON accounts(allocated_at);
	`)
	return err
}

func migration002Down(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP INDEX IF EXISTS idx_accounts_allocated_at;
		DROP INDEX IF EXISTS idx_accounts_owner;
		DROP TABLE IF EXISTS accounts;
	`)
	return err
}

// Migration 003: Per-account lifecycle history
func migration003Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE account_activity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			event_type TEXT NOT NULL,
			detail TEXT,
			occurred_at INTEGER NOT NULL
		);

		CREATE INDEX idx_activity_username ON account_activity(username);
		CREATE INDEX idx_activity_occurred ON account_activity(occurred_at);
	`)
	return err
}

func migration003Down(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP INDEX IF EXISTS idx_activity_occurred;
		DROP INDEX IF EXISTS idx_activity_username;
		DROP TABLE IF EXISTS account_activity;
	`)
	return err
}
