//go:build sqlite
// +build sqlite

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"groupcast/internal/snapshot"
	logx "groupcast/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshot (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL,
	doc     TEXT    NOT NULL
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (snapshot.Snapshot, error) {
	var (
		version uint64
		doc     string
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, doc FROM snapshot WHERE id = 1`).Scan(&version, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Empty(), nil
	}
	if err != nil {
		return snapshot.Empty(), err
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return snapshot.Empty(), fmt.Errorf("decode snapshot row: %w", err)
	}
	snap.Normalize()
	snap.Version = version
	return snap, nil
}

func (s *sqliteStore) Save(ctx context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var durable uint64
	err = tx.QueryRowContext(ctx, `SELECT version FROM snapshot WHERE id = 1`).Scan(&durable)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, err
	}
	if durable != snap.Version {
		return snapshot.Snapshot{}, fmt.Errorf("%w: have %d, durable %d", ErrConflict, snap.Version, durable)
	}

	out := snap.Clone()
	out.Version++

	b, err := json.Marshal(out)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshot(id, version, doc) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version, doc = excluded.doc`,
		out.Version, string(b),
	)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return snapshot.Snapshot{}, err
	}
	return out, nil
}
