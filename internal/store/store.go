// Package store persists the broadcast snapshot and owns all mutations to it.
//
// It currently supports:
//   - "file": a JSON document written with atomic rename (default)
//   - "sqlite": a single-row document table (build with -tags sqlite)
//
// Every save carries an optimistic version token; a save against a version
// that no longer matches the durable copy fails with ErrConflict.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"groupcast/internal/snapshot"
	logx "groupcast/pkg/logx"
)

var (
	// ErrConflict means the durable copy changed underneath the caller
	// (out-of-band edit); the save was rejected as stale.
	ErrConflict = errors.New("snapshot version conflict")
)

// Config configures the snapshot store.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the durable snapshot API. Load returns the current document;
// a missing durable copy yields an empty snapshot with version zero.
// Save validates the version token, bumps it, and returns the saved copy.
type Store interface {
	Load(ctx context.Context) (snapshot.Snapshot, error)
	Save(ctx context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}
