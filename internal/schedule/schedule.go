// Package schedule drives the fixed-time-of-day broadcast loop: on
// every tick it fires the entries whose wall-clock time falls inside
// the tolerance window and which have not fired yet today.
package schedule

import (
	"context"
	"sort"
	"time"

	"groupcast/internal/broadcast"
	"groupcast/internal/snapshot"
	logx "groupcast/pkg/logx"
)

// Store gives the loop read access to the broadcast state plus the one
// write it needs, recording that an entry fired today.
type Store interface {
	Snapshot(ctx context.Context) (snapshot.Snapshot, error)
	MarkFired(ctx context.Context, id string, index int, date string) error
}

type Options struct {
	// Tick is the poll interval while the loop is active.
	Tick time.Duration
	// Tolerance widens each entry's target time to an inclusive window
	// on both sides, so a tick a few seconds late still fires.
	Tolerance time.Duration
	// IdleWait is the re-check interval while the loop is switched off.
	IdleWait time.Duration
}

type ScheduleBroadcaster struct {
	store Store
	out   broadcast.Deliverer
	log   logx.Logger
	opts  Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(store Store, out broadcast.Deliverer, log logx.Logger, opts Options) *ScheduleBroadcaster {
	if opts.Tick <= 0 {
		opts.Tick = 5 * time.Second
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 30 * time.Second
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = 5 * time.Second
	}
	return &ScheduleBroadcaster{
		store: store,
		out:   out,
		log:   log,
		opts:  opts,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Run loops until ctx is cancelled.
func (s *ScheduleBroadcaster) Run(ctx context.Context) error {
	for {
		snap, err := s.store.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("state read failed", logx.Err(err))
			if err := s.sleep(ctx, s.opts.IdleWait); err != nil {
				return nil
			}
			continue
		}

		if !snap.ScheduleActive || len(snap.Scheduled) == 0 {
			if err := s.sleep(ctx, s.opts.IdleWait); err != nil {
				return nil
			}
			continue
		}

		s.tick(ctx, snap)
		if ctx.Err() != nil {
			return nil
		}
		if err := s.sleep(ctx, s.opts.Tick); err != nil {
			return nil
		}
	}
}

// tick fires every due entry once. An entry is due when the current
// time is inside its tolerance window and it has not fired today; the
// fired mark is written only after a successful delivery, so a failed
// attempt retries on the next tick while the window is still open.
func (s *ScheduleBroadcaster) tick(ctx context.Context, snap snapshot.Snapshot) {
	now := s.now()
	today := now.Format(snapshot.DateLayout)

	ids := make([]string, 0, len(snap.Scheduled))
	for id := range snap.Scheduled {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for i, entry := range snap.Scheduled[id] {
			if ctx.Err() != nil {
				return
			}
			target, err := snapshot.ParseTimeOfDay(entry.Time)
			if err != nil {
				s.log.Warn("unparseable schedule time, skipping entry",
					logx.String("dest", id),
					logx.Int("entry", i),
					logx.String("time", entry.Time),
				)
				continue
			}
			if !snapshot.WithinWindow(now, target, s.opts.Tolerance) {
				continue
			}
			if entry.LastFiredDate == today {
				continue
			}
			if entry.Payload.IsEmpty() {
				continue
			}

			if err := s.out.Deliver(ctx, id, entry.Payload); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Warn("scheduled delivery failed",
					logx.String("dest", id),
					logx.String("time", entry.Time),
					logx.Err(err),
				)
				continue
			}

			if err := s.store.MarkFired(ctx, id, i, today); err != nil {
				s.log.Error("fired mark not recorded",
					logx.String("dest", id),
					logx.Int("entry", i),
					logx.Err(err),
				)
				continue
			}
			s.log.Info("scheduled broadcast delivered",
				logx.String("dest", id),
				logx.String("time", entry.Time),
			)
		}
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
