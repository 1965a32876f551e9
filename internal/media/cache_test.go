package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	logx "groupcast/pkg/logx"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestPutResolveRelease(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	ref, err := c.Put(strings.NewReader("jpeg bytes"), "jpg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasSuffix(ref, ".jpg") {
		t.Fatalf("expected .jpg suffix, got %q", ref)
	}

	p, ok := c.Resolve(ref)
	if !ok {
		t.Fatalf("Resolve(%q) = not found", ref)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "jpeg bytes" {
		t.Fatalf("blob content %q", b)
	}

	c.Release(ref)
	if _, ok := c.Resolve(ref); ok {
		t.Fatalf("blob still resolvable after release")
	}
	// Releasing again is a no-op.
	c.Release(ref)
}

func TestResolveRejectsNonBlobRefs(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	for _, ref := range []string{
		"",
		"BQACAgIAAxkBAAIB", // Telegram file id shape
		"../escape.jpg",
		"sub/dir.jpg",
	} {
		if _, ok := c.Resolve(ref); ok {
			t.Fatalf("Resolve(%q) unexpectedly found a blob", ref)
		}
	}
}

func TestSweepKeepsLiveBlobs(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	live, err := c.Put(strings.NewReader("keep"), "jpg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	orphan, err := c.Put(strings.NewReader("drop"), "jpg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Leftover from an interrupted Put.
	stale := filepath.Join(c.Dir(), "deadbeef.tmp")
	if err := os.WriteFile(stale, []byte("partial"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	removed, err := c.Sweep(map[string]struct{}{live: {}})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	if _, ok := c.Resolve(live); !ok {
		t.Fatalf("live blob swept")
	}
	if _, ok := c.Resolve(orphan); ok {
		t.Fatalf("orphan blob survived sweep")
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("tmp file survived sweep")
	}
}
