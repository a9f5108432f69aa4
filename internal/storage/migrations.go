package storage

import (
	"database/sql"
	"fmt"
)

// migration upgrades the schema by one version inside a transaction.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

// migrations run in order after the base schema is created.
var migrations = []migration{
	{1, "base schema", func(*sql.Tx) error { return nil }},
	{2, "operation kind index", func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_operations_kind ON operations(kind)`)
		return err
	}},
	{3, "scan network index", func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_scans_network ON scans(network)`)
		return err
	}},
}

// SchemaVersion returns the highest applied migration.
func (ss *SQLiteStorage) SchemaVersion() (int, error) {
	var version sql.NullInt64
	err := ss.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("checking migration version: %w", err)
	}
	return int(version.Int64), nil
}

// migrate applies every migration newer than the stored version.
func (ss *SQLiteStorage) migrate() error {
	current, err := ss.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := ss.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (ss *SQLiteStorage) applyMigration(m migration) error {
	tx, err := ss.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.apply(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}
