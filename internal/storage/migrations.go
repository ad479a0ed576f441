package storage

import (
	"database/sql"
	"fmt"

	"github.com/martinsuchenak/nmconsole/internal/log"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "drafts",
		stmts: []string{`
			CREATE TABLE IF NOT EXISTS drafts (
				connection TEXT PRIMARY KEY,
				settings TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
		},
	},
	{
		version: 2,
		name:    "device snapshots",
		stmts: []string{`
			CREATE TABLE IF NOT EXISTS device_snapshots (
				interface TEXT PRIMARY KEY,
				path TEXT NOT NULL,
				data TEXT NOT NULL,
				seen_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_device_snapshots_seen ON device_snapshots(seen_at)`,
		},
	},
	{
		// Object paths are renumbered when NetworkManager restarts, so
		// path-keyed drafts could land on the wrong connection.
		version: 3,
		name:    "drafts by uuid",
		stmts: []string{
			`DELETE FROM drafts WHERE connection LIKE '/%'`,
			`ALTER TABLE drafts RENAME COLUMN connection TO uuid`,
		},
	},
}

// SchemaVersion returns the highest applied migration
func (ss *SQLiteStorage) SchemaVersion() (int, error) {
	var version sql.NullInt64
	err := ss.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("checking migration version: %w", err)
	}
	return int(version.Int64), nil
}

// migrate applies every migration newer than the recorded version, each in
// its own transaction.
func (ss *SQLiteStorage) migrate() error {
	current, err := ss.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := ss.apply(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		log.Info("Applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

func (ss *SQLiteStorage) apply(m migration) error {
	tx, err := ss.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return fmt.Errorf("setting migration version: %w", err)
	}
	return tx.Commit()
}
