// Package store persists model snapshots in SQLite. Adapters know nothing
// about it; callers decide when to checkpoint and restore.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"streamnet/online"
)

// ErrNotFound is returned when no snapshot exists under the given name.
var ErrNotFound = errors.New("store: snapshot not found")

// Store keeps one current snapshot per model name, newest wins.
type Store struct {
	db *sql.DB
}

// Open creates or opens the snapshot database at path. Use ":memory:" for
// an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	query := `
    CREATE TABLE IF NOT EXISTS snapshots (
        name VARCHAR(100) PRIMARY KEY,
        kind VARCHAR(20) NOT NULL,
        payload BLOB NOT NULL,
        steps INTEGER NOT NULL,
        saved_at DATETIME NOT NULL
    );`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save writes the snapshot under name, replacing any previous one.
func (s *Store) Save(name string, snap *online.Snapshot) error {
	if name == "" {
		return errors.New("store: name is required")
	}
	if snap == nil {
		return errors.New("store: snapshot is nil")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}

	_, err = s.db.Exec(`
        INSERT INTO snapshots (name, kind, payload, steps, saved_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            kind = excluded.kind,
            payload = excluded.payload,
            steps = excluded.steps,
            saved_at = excluded.saved_at`,
		name, snap.Kind, payload, snap.Steps, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: save %s: %w", name, err)
	}
	return nil
}

// Load reads the snapshot saved under name.
func (s *Store) Load(name string) (*online.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM snapshots WHERE name = ?`, name).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", name, err)
	}

	var snap online.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("store: decode snapshot %s: %w", name, err)
	}
	return &snap, nil
}

// Delete removes the snapshot saved under name, if any.
func (s *Store) Delete(name string) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE name = ?`, name); err != nil {
		return fmt.Errorf("store: delete %s: %w", name, err)
	}
	return nil
}

// SnapshotInfo describes a stored snapshot without its weights.
type SnapshotInfo struct {
	Name    string    `json:"name"`
	Kind    string    `json:"kind"`
	Steps   uint64    `json:"steps"`
	SavedAt time.Time `json:"saved_at"`
}

// List returns metadata for all stored snapshots, newest first.
func (s *Store) List() ([]SnapshotInfo, error) {
	rows, err := s.db.Query(`SELECT name, kind, steps, saved_at FROM snapshots ORDER BY saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var infos []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.Name, &info.Kind, &info.Steps, &info.SavedAt); err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
