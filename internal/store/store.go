// Package store persists the task collection and user settings in a local
// SQLite database. Each record is kept as one JSON document in a key/value
// table and every write replaces the full document inside a transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"taskcal/internal/model"
)

const (
	keyTasks    = "tasks"
	keySettings = "settings"
)

var ErrNotFound = errors.New("task not found")

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS kv (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER NOT NULL
			);
			INSERT INTO schema_version (version) VALUES (1);`,
	},
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sqlx.DB

	// serializes read-modify-write cycles on a single document
	mu sync.Mutex
}

// Open opens (or creates) the database at path and applies pending
// migrations. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating db dir: %w", err)
			}
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// one connection keeps ":memory:" databases shared and writes ordered
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	current := 0

	var tables int
	err := s.db.Get(&tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// get decodes the document under key into dst. found is false when the key
// has never been written.
func get(ctx context.Context, q sqlx.QueryerContext, key string, dst any) (bool, error) {
	var raw string
	err := sqlx.GetContext(ctx, q, &raw, "SELECT value FROM kv WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func put(ctx context.Context, e sqlx.ExecerContext, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// GetTasks returns the stored collection, empty when nothing was saved yet.
func (s *Store) GetTasks(ctx context.Context) ([]model.Task, error) {
	tasks := []model.Task{}
	if _, err := get(ctx, s.db, keyTasks, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return tasks, nil
}

// SaveTasks replaces the whole collection.
func (s *Store) SaveTasks(ctx context.Context, tasks []model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tasks == nil {
		tasks = []model.Task{}
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return put(ctx, tx, keyTasks, tasks)
	})
}

// AddTask appends t to the collection.
func (s *Store) AddTask(ctx context.Context, t model.Task) error {
	return s.mutateTasks(ctx, func(tasks []model.Task) ([]model.Task, error) {
		return append(tasks, t), nil
	})
}

// UpdateTask replaces the task with the same id.
func (s *Store) UpdateTask(ctx context.Context, t model.Task) error {
	return s.mutateTasks(ctx, func(tasks []model.Task) ([]model.Task, error) {
		for i := range tasks {
			if tasks[i].ID == t.ID {
				tasks[i] = t
				return tasks, nil
			}
		}
		return nil, ErrNotFound
	})
}

// DeleteTask removes the task with the given id.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.mutateTasks(ctx, func(tasks []model.Task) ([]model.Task, error) {
		for i := range tasks {
			if tasks[i].ID == id {
				return append(tasks[:i], tasks[i+1:]...), nil
			}
		}
		return nil, ErrNotFound
	})
}

// GetSettings returns the stored settings or the first-run defaults.
func (s *Store) GetSettings(ctx context.Context) (model.Settings, error) {
	settings := model.DefaultSettings()
	if _, err := get(ctx, s.db, keySettings, &settings); err != nil {
		return model.Settings{}, err
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return put(ctx, tx, keySettings, settings)
	})
}

func (s *Store) mutateTasks(ctx context.Context, fn func([]model.Task) ([]model.Task, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		tasks := []model.Task{}
		if _, err := get(ctx, tx, keyTasks, &tasks); err != nil {
			return err
		}
		next, err := fn(tasks)
		if err != nil {
			return err
		}
		if next == nil {
			next = []model.Task{}
		}
		return put(ctx, tx, keyTasks, next)
	})
}

func (s *Store) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
