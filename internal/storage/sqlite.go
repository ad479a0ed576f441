package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/martinsuchenak/nmconsole/internal/log"
	"github.com/martinsuchenak/nmconsole/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStorage implements Storage with SQLite backend
type SQLiteStorage struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteStorage opens (creating if needed) nmconsole.db in dataDir
func NewSQLiteStorage(dataDir string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "nmconsole.db")

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer
	db.SetMaxIdleConns(1)

	ss := &SQLiteStorage{
		db:   db,
		path: dbPath,
		now:  time.Now,
	}

	if err := ss.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if err := ss.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	log.Debug("Opened database", "path", dbPath)
	return ss, nil
}

// initSchema creates the migrations table
func (ss *SQLiteStorage) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}

	_, err = ss.db.Exec(string(schema))
	return err
}

// Path returns the database file path
func (ss *SQLiteStorage) Path() string {
	return ss.path
}

// Close closes the database connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// SaveDraft stores or replaces the draft of the connection with uuid
func (ss *SQLiteStorage) SaveDraft(ctx context.Context, uuid string, s model.Settings) error {
	if uuid == "" {
		return ErrInvalidID
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding draft: %w", err)
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	_, err = ss.db.ExecContext(ctx, `
		INSERT INTO drafts (uuid, settings, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			settings = excluded.settings,
			updated_at = excluded.updated_at
	`, uuid, string(data), ss.now().UTC())
	if err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}
	return nil
}

// LoadDrafts returns every stored draft keyed by connection UUID. Drafts
// that fail to decode are skipped.
func (ss *SQLiteStorage) LoadDrafts(ctx context.Context) (map[string]model.Settings, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.QueryContext(ctx, `SELECT uuid, settings FROM drafts ORDER BY uuid`)
	if err != nil {
		return nil, fmt.Errorf("querying drafts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Settings)
	for rows.Next() {
		var uuid, data string
		if err := rows.Scan(&uuid, &data); err != nil {
			return nil, fmt.Errorf("scanning draft: %w", err)
		}
		var s model.Settings
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			log.Warn("Skipping unreadable draft", "uuid", uuid, "error", err)
			continue
		}
		out[uuid] = s
	}
	return out, rows.Err()
}

// DeleteDraft removes the draft of the connection with uuid. Deleting a
// missing draft is not an error.
func (ss *SQLiteStorage) DeleteDraft(ctx context.Context, uuid string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, err := ss.db.ExecContext(ctx, `DELETE FROM drafts WHERE uuid = ?`, uuid); err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}
	return nil
}

// SaveDeviceSnapshot records the current device table. Interfaces missing
// from devices keep their previous row and timestamp.
func (ss *SQLiteStorage) SaveDeviceSnapshot(ctx context.Context, devices []model.Device) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := ss.now().UTC()
	for _, d := range devices {
		if d.Interface == "" {
			continue
		}
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encoding device %s: %w", d.Interface, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO device_snapshots (interface, path, data, seen_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(interface) DO UPDATE SET
				path = excluded.path,
				data = excluded.data,
				seen_at = excluded.seen_at
		`, d.Interface, d.Path, string(data), now)
		if err != nil {
			return fmt.Errorf("saving device %s: %w", d.Interface, err)
		}
	}

	return tx.Commit()
}

// ListDeviceSnapshots returns the last seen state of every interface
func (ss *SQLiteStorage) ListDeviceSnapshots(ctx context.Context) ([]DeviceSnapshot, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.QueryContext(ctx, `
		SELECT interface, data, seen_at FROM device_snapshots ORDER BY interface
	`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []DeviceSnapshot
	for rows.Next() {
		var (
			snap DeviceSnapshot
			data string
		)
		if err := rows.Scan(&snap.Interface, &data, &snap.SeenAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &snap.Device); err != nil {
			return nil, fmt.Errorf("decoding snapshot %s: %w", snap.Interface, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoSnapshotData
	}
	return out, nil
}

var _ Storage = (*SQLiteStorage)(nil)
