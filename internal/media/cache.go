// Package media stores downloaded attachment blobs on disk and cleans
// them up once no broadcast job references them anymore.
package media

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	logx "groupcast/pkg/logx"
)

// Cache is a flat directory of content blobs keyed by opaque refs.
// Refs are plain file names; anything that does not resolve to a file
// in the directory is assumed to be a remote file identifier and is
// left alone.
type Cache struct {
	dir string
	log logx.Logger
}

func New(dir string, log logx.Logger) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("media dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Cache{dir: dir, log: log}, nil
}

func (c *Cache) Dir() string { return c.dir }

// Put stores the blob under a fresh random name and returns its ref.
func (c *Cache) Put(r io.Reader, ext string) (string, error) {
	var raw [12]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	name := hex.EncodeToString(raw[:])
	if ext != "" {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		name += ext
	}

	tmp := filepath.Join(c.dir, name+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, filepath.Join(c.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return name, nil
}

// Resolve maps a ref to an on-disk path. ok is false when the ref is
// not a blob in this cache, which is how remote file identifiers look.
func (c *Cache) Resolve(ref string) (string, bool) {
	if ref == "" || ref != filepath.Base(ref) {
		return "", false
	}
	p := filepath.Join(c.dir, ref)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}
	return p, true
}

// Release removes the blob for ref if it exists. Failures are logged,
// not returned: a leftover blob is picked up by the next sweep.
func (c *Cache) Release(ref string) {
	p, ok := c.Resolve(ref)
	if !ok {
		return
	}
	if err := os.Remove(p); err != nil {
		c.log.Warn("media blob remove failed", logx.String("ref", ref), logx.Err(err))
		return
	}
	c.log.Debug("media blob removed", logx.String("ref", ref))
}

// Sweep deletes every blob whose ref is not in live and reports how
// many were removed.
func (c *Cache) Sweep(live map[string]struct{}) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".tmp") {
			// Interrupted Put, always garbage.
		} else if _, ok := live[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
			c.log.Warn("orphan blob remove failed", logx.String("ref", name), logx.Err(err))
			continue
		}
		removed++
	}
	return removed, nil
}
