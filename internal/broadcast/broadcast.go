// Package broadcast drives the fixed-interval group broadcast loop: it
// repeatedly delivers each destination's configured payload, then
// sleeps for the shortest per-destination delay before the next pass.
package broadcast

import (
	"context"
	"errors"
	"sort"
	"time"

	"groupcast/internal/delivery"
	"groupcast/internal/snapshot"
	logx "groupcast/pkg/logx"
)

// Source hands out isolated copies of the current broadcast state.
type Source interface {
	Snapshot(ctx context.Context) (snapshot.Snapshot, error)
}

// Deliverer sends one payload to one destination handle.
type Deliverer interface {
	Deliver(ctx context.Context, dest string, p snapshot.Payload) error
}

type Options struct {
	// IdleWait is how long to wait before re-checking state while the
	// loop is switched off or has nothing to send.
	IdleWait time.Duration
	// FailurePause is the cool-off after a failed delivery before the
	// next destination is attempted.
	FailurePause time.Duration
	// Fallback is the inter-pass sleep when no destination carries a
	// usable delay.
	Fallback time.Duration
}

type DelayBroadcaster struct {
	src  Source
	out  Deliverer
	log  logx.Logger
	opts Options

	sleep func(ctx context.Context, d time.Duration) error
}

func New(src Source, out Deliverer, log logx.Logger, opts Options) *DelayBroadcaster {
	if opts.IdleWait <= 0 {
		opts.IdleWait = 5 * time.Second
	}
	if opts.FailurePause <= 0 {
		opts.FailurePause = 10 * time.Second
	}
	if opts.Fallback <= 0 {
		opts.Fallback = time.Minute
	}
	return &DelayBroadcaster{
		src:   src,
		out:   out,
		log:   log,
		opts:  opts,
		sleep: sleepCtx,
	}
}

// Run loops until ctx is cancelled. Cancellation is the only way out;
// delivery and state errors are logged and the loop keeps going.
func (b *DelayBroadcaster) Run(ctx context.Context) error {
	for {
		snap, err := b.src.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Warn("state read failed", logx.Err(err))
			if err := b.sleep(ctx, b.opts.IdleWait); err != nil {
				return nil
			}
			continue
		}

		if !snap.DelayActive || len(snap.Destinations) == 0 {
			if err := b.sleep(ctx, b.opts.IdleWait); err != nil {
				return nil
			}
			continue
		}

		b.pass(ctx, snap)
		if ctx.Err() != nil {
			return nil
		}

		if err := b.sleep(ctx, snap.MinDelay(b.opts.Fallback, time.Second)); err != nil {
			return nil
		}
	}
}

// pass sends one round across all destinations in stable order.
func (b *DelayBroadcaster) pass(ctx context.Context, snap snapshot.Snapshot) {
	ids := make([]string, 0, len(snap.Destinations))
	for id := range snap.Destinations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		job := snap.Destinations[id]
		if job.Payload.IsEmpty() {
			continue
		}

		if err := b.out.Deliver(ctx, id, job.Payload); err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, delivery.ErrRateLimited) {
				b.log.Warn("delivery rate limited", logx.String("dest", id), logx.Err(err))
			} else {
				b.log.Warn("delivery failed", logx.String("dest", id), logx.Err(err))
			}
			if err := b.sleep(ctx, b.opts.FailurePause); err != nil {
				return
			}
			continue
		}
		b.log.Debug("broadcast delivered", logx.String("dest", id))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
