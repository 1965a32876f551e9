package store

import (
	"context"
	"errors"

	"groupcast/internal/snapshot"
	logx "groupcast/pkg/logx"
)

// Releaser deletes a media blob that no job references anymore. A nil
// Releaser disables cleanup.
type Releaser interface {
	Release(ref string)
}

// Keeper serializes all reads and writes of the broadcast snapshot
// through a single goroutine. Mutations are applied to a clone,
// persisted, and only then become visible to readers; a failed persist
// is logged and the in-memory copy carries on so broadcasting never
// stalls on a bad disk.
type Keeper struct {
	store Store
	rel   Releaser
	log   logx.Logger
	reqs  chan keeperReq
}

type keeperReq struct {
	run  func(ctx context.Context, state *snapshot.Snapshot) error
	done chan error
}

func NewKeeper(st Store, rel Releaser, log logx.Logger) *Keeper {
	return &Keeper{
		store: st,
		rel:   rel,
		log:   log,
		reqs:  make(chan keeperReq),
	}
}

// Run owns the snapshot until ctx is cancelled. It must be running for
// any other Keeper method to return.
func (k *Keeper) Run(ctx context.Context) error {
	state, err := k.store.Load(ctx)
	if err != nil {
		k.log.Error("snapshot load failed, starting from empty state", logx.Err(err))
		state = snapshot.Empty()
	}
	k.log.Info("snapshot loaded",
		logx.Int("destinations", len(state.Destinations)),
		logx.Int("schedules", len(state.Scheduled)),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-k.reqs:
			req.done <- req.run(ctx, &state)
		}
	}
}

func (k *Keeper) submit(ctx context.Context, run func(ctx context.Context, state *snapshot.Snapshot) error) error {
	req := keeperReq{run: run, done: make(chan error, 1)}
	select {
	case k.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns an isolated copy of the current state.
func (k *Keeper) Snapshot(ctx context.Context) (snapshot.Snapshot, error) {
	var out snapshot.Snapshot
	err := k.submit(ctx, func(_ context.Context, state *snapshot.Snapshot) error {
		out = state.Clone()
		return nil
	})
	return out, err
}

// mutate clones the state, applies fn to the clone and persists the
// result. On a version conflict the durable copy is reloaded and fn is
// applied once more on top of it. Any other save failure keeps the
// mutated copy in memory.
func (k *Keeper) mutate(ctx context.Context, fn func(*snapshot.Snapshot) ([]string, error)) error {
	return k.submit(ctx, func(ctx context.Context, state *snapshot.Snapshot) error {
		work := state.Clone()
		released, err := fn(&work)
		if err != nil {
			return err
		}

		saved, serr := k.store.Save(ctx, work)
		if errors.Is(serr, ErrConflict) {
			k.log.Warn("snapshot changed out of band, reapplying on durable copy", logx.Err(serr))
			fresh, lerr := k.store.Load(ctx)
			if lerr != nil {
				k.log.Error("snapshot reload after conflict failed", logx.Err(lerr))
			} else {
				work = fresh
				released, err = fn(&work)
				if err != nil {
					*state = fresh
					return err
				}
				saved, serr = k.store.Save(ctx, work)
			}
		}

		if serr != nil {
			k.log.Error("snapshot save failed, keeping change in memory", logx.Err(serr))
			*state = work
		} else {
			*state = saved
		}

		k.release(released, *state)
		return nil
	})
}

// release deletes blobs from the released list that nothing in the
// committed state still points at.
func (k *Keeper) release(released []string, state snapshot.Snapshot) {
	if k.rel == nil || len(released) == 0 {
		return
	}
	live := state.MediaRefs()
	for _, ref := range released {
		if ref == "" {
			continue
		}
		if _, ok := live[ref]; ok {
			continue
		}
		k.rel.Release(ref)
	}
}

func (k *Keeper) AddDestination(ctx context.Context, id string) error {
	return k.mutate(ctx, func(s *snapshot.Snapshot) ([]string, error) {
		return nil, s.AddDestination(id)
	})
}

func (k *Keeper) RemoveDestination(ctx context.Context, id string) error {
	return k.mutate(ctx, func(s *snapshot.Snapshot) ([]string, error) {
		return s.RemoveDestination(id)
	})
}

func (k *Keeper) SetDelayPayload(ctx context.Context, id string, p snapshot.Payload) error {
	return k.mutate(ctx, func(s *snapshot.Snapshot) ([]string, error) {
		old, err := s.SetDelayPayload(id, p)
		return []string{old}, err
	})
}

func (k *Keeper) SetDelaySeconds(ctx context.Context, id string, seconds int) error {
	return k.mutate(ctx, func(s *snapshot.Snapshot) ([]string, error) {
		return nil, s.SetDelaySeconds(id, seconds)
	})
}

func (k *Keeper) SetDelayActive(ctx context.Context, active bool) error {
	return k.mutate(ctx, func(s *snapshot.Snapshot) ([]string, error) {
		s.DelayActive = active
		return nil, nil
	})
}

func (k *Keeper) AddScheduleEntry(ctx context.Context, id, timeOfDay string, p snapshot.Payload) error {
	return k.mutate(ctx, func(s *snapshot.Snapshot) ([]string, error) {
		return nil, s.AddScheduleEntry(id, timeOfDay, p)
	})
}

func (k *Keeper) EditScheduleEntry(ctx context.Context, id string, index int, newTime *string, newPayload *snapshot.Payload) error {
	return k.mutate(ctx, func(s *snapshot.Snapshot) ([]string, error) {
		old, err := s.EditScheduleEntry(id, index, newTime, newPayload)
		return []string{old}, err
	})
}

func (k *Keeper) RemoveScheduleEntry(ctx context.Context, id string, index int) error {
	return k.mutate(ctx, func(s *snapshot.Snapshot) ([]string, error) {
		old, err := s.RemoveScheduleEntry(id, index)
		return []string{old}, err
	})
}

func (k *Keeper) SetScheduleActive(ctx context.Context, active bool) error {
	return k.mutate(ctx, func(s *snapshot.Snapshot) ([]string, error) {
		s.ScheduleActive = active
		return nil, nil
	})
}

// MarkFired records that a schedule entry already fired on the given
// date so it is delivered at most once per day.
func (k *Keeper) MarkFired(ctx context.Context, id string, index int, date string) error {
	return k.mutate(ctx, func(s *snapshot.Snapshot) ([]string, error) {
		return nil, s.MarkFired(id, index, date)
	})
}
