package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"groupcast/internal/snapshot"
	logx "groupcast/pkg/logx"
)

type staticSource struct {
	mu   sync.Mutex
	snap snapshot.Snapshot
}

func (s *staticSource) Snapshot(context.Context) (snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone(), nil
}

func (s *staticSource) set(snap snapshot.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

type fakeDeliverer struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (d *fakeDeliverer) Deliver(_ context.Context, dest string, _ snapshot.Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dest)
	if err, ok := d.fail[dest]; ok {
		return err
	}
	return nil
}

func (d *fakeDeliverer) delivered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// instrument replaces the loop's sleep with a recorder that cancels the
// run after maxSleeps, so tests never wait on real timers.
func instrument(b *DelayBroadcaster, cancel context.CancelFunc, maxSleeps int) *[]time.Duration {
	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	b.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		n := len(sleeps)
		mu.Unlock()
		if n >= maxSleeps {
			cancel()
			return ctx.Err()
		}
		return ctx.Err()
	}
	return &sleeps
}

func baseSnapshot() snapshot.Snapshot {
	snap := snapshot.Empty()
	for _, id := range []string{"@alpha", "@beta"} {
		if err := snap.AddDestination(id); err != nil {
			panic(err)
		}
	}
	_, _ = snap.SetDelayPayload("@alpha", snapshot.TextPayload("hello", nil))
	_, _ = snap.SetDelayPayload("@beta", snapshot.TextPayload("world", nil))
	snap.DelayActive = true
	return snap
}

func TestRunDeliversEveryPass(t *testing.T) {
	t.Parallel()

	snap := baseSnapshot()
	_ = snap.SetDelaySeconds("@alpha", 5)
	_ = snap.SetDelaySeconds("@beta", 120)

	src := &staticSource{snap: snap}
	out := &fakeDeliverer{}
	b := New(src, out, logx.Nop(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	sleeps := instrument(b, cancel, 3)

	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"@alpha", "@beta", "@alpha", "@beta", "@alpha", "@beta"}
	got := out.delivered()
	if len(got) != len(want) {
		t.Fatalf("deliveries %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("deliveries %v, want %v", got, want)
		}
	}
	// The shared pause is the shortest configured delay.
	for _, d := range *sleeps {
		if d != 5*time.Second {
			t.Fatalf("inter-pass sleep %v, want 5s", d)
		}
	}
}

func TestRunIdlesWhileInactive(t *testing.T) {
	t.Parallel()

	snap := baseSnapshot()
	snap.DelayActive = false

	src := &staticSource{snap: snap}
	out := &fakeDeliverer{}
	b := New(src, out, logx.Nop(), Options{IdleWait: 7 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	sleeps := instrument(b, cancel, 2)

	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(out.delivered()); n != 0 {
		t.Fatalf("expected no deliveries while inactive, got %d", n)
	}
	for _, d := range *sleeps {
		if d != 7*time.Second {
			t.Fatalf("idle sleep %v, want 7s", d)
		}
	}
}

func TestRunSkipsEmptyPayloads(t *testing.T) {
	t.Parallel()

	snap := baseSnapshot()
	_, _ = snap.SetDelayPayload("@alpha", snapshot.Payload{})

	src := &staticSource{snap: snap}
	out := &fakeDeliverer{}
	b := New(src, out, logx.Nop(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	instrument(b, cancel, 1)

	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.delivered()
	if len(got) != 1 || got[0] != "@beta" {
		t.Fatalf("deliveries %v, want only @beta", got)
	}
}

func TestRunPausesAfterFailureAndContinues(t *testing.T) {
	t.Parallel()

	src := &staticSource{snap: baseSnapshot()}
	out := &fakeDeliverer{fail: map[string]error{"@alpha": errors.New("flood wait")}}
	b := New(src, out, logx.Nop(), Options{FailurePause: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	sleeps := instrument(b, cancel, 2)

	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The failed destination does not abort the pass.
	got := out.delivered()
	if len(got) != 2 || got[0] != "@alpha" || got[1] != "@beta" {
		t.Fatalf("deliveries %v", got)
	}
	if len(*sleeps) < 1 || (*sleeps)[0] != 10*time.Second {
		t.Fatalf("expected first sleep to be the failure pause, got %v", *sleeps)
	}
}

func TestRunFloorsZeroDelay(t *testing.T) {
	t.Parallel()

	snap := snapshot.Empty()
	_ = snap.AddDestination("@alpha")
	_, _ = snap.SetDelayPayload("@alpha", snapshot.TextPayload("hi", nil))
	_ = snap.SetDelaySeconds("@alpha", 0)
	snap.DelayActive = true

	src := &staticSource{snap: snap}
	out := &fakeDeliverer{}
	b := New(src, out, logx.Nop(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	sleeps := instrument(b, cancel, 1)

	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// A zero delay must not turn the loop into a busy spin.
	if len(*sleeps) != 1 || (*sleeps)[0] != time.Second {
		t.Fatalf("expected floored 1s sleep, got %v", *sleeps)
	}
}
