package storage

import (
	"database/sql"
	"fmt"

	"payer-reconciliation-service/pkg/logger"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_payer_aliases",
		Up:      migration001PayerAliases,
	},
	{
		Version: 2,
		Name:    "create_roster_entries",
		Up:      migration002RosterEntries,
	},
	{
		Version: 3,
		Name:    "add_alias_account_index",
		Up:      migration003AliasAccountIndex,
	},
}

func (s *SQLiteStore) runMigrations() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.appliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		s.logger.WithFields(logger.Fields{
			"version": migration.Version,
			"name":    migration.Name,
		}).Info("Running migration")

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}
		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", migration.Version, migration.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func (s *SQLiteStore) appliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// schemaVersion returns the highest applied migration.
func (s *SQLiteStore) schemaVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	return int(version.Int64), err
}

func migration001PayerAliases(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE payer_aliases (
			tenant_id TEXT NOT NULL,
			payer_key TEXT NOT NULL,
			record_name TEXT NOT NULL,
			account_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			updated_by TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (tenant_id, payer_key)
		)`)
	return err
}

func migration002RosterEntries(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE roster_entries (
			tenant_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			display_name TEXT NOT NULL,
			variants_json TEXT NOT NULL,
			tokens_json TEXT NOT NULL,
			PRIMARY KEY (tenant_id, account_id)
		)`)
	return err
}

func migration003AliasAccountIndex(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE INDEX idx_payer_aliases_account ON payer_aliases (tenant_id, account_id)`)
	return err
}
