package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"groupcast/internal/snapshot"
	logx "groupcast/pkg/logx"
)

// fileStore keeps the snapshot as one JSON document. Writes go through a
// temp file and rename so a crash never leaves a torn document behind.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) (snapshot.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *fileStore) readLocked() (snapshot.Snapshot, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snapshot.Empty(), nil
		}
		return snapshot.Empty(), err
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return snapshot.Empty(), fmt.Errorf("decode %s: %w", s.path, err)
	}
	snap.Normalize()
	return snap, nil
}

func (s *fileStore) Save(ctx context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.readLocked()
	if err != nil {
		// A corrupt durable copy must not brick saves; overwrite it.
		s.log.Warn("snapshot document unreadable; overwriting", logx.String("path", s.path), logx.Err(err))
		cur = snapshot.Empty()
		cur.Version = snap.Version
	}
	if cur.Version != snap.Version {
		return snapshot.Snapshot{}, fmt.Errorf("%w: have %d, durable %d", ErrConflict, snap.Version, cur.Version)
	}

	out := snap.Clone()
	out.Version++

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return snapshot.Snapshot{}, err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return snapshot.Snapshot{}, err
	}
	return out, nil
}
