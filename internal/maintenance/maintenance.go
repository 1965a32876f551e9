// Package maintenance runs the periodic housekeeping job: sweeping
// media blobs that no destination or schedule references anymore.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"groupcast/internal/snapshot"
	logx "groupcast/pkg/logx"
)

// Source hands out the current broadcast state for liveness checks.
type Source interface {
	Snapshot(ctx context.Context) (snapshot.Snapshot, error)
}

// Sweeper deletes blobs not present in the live set.
type Sweeper interface {
	Sweep(live map[string]struct{}) (int, error)
}

type Options struct {
	// Spec is a standard five-field cron expression.
	Spec string
}

type Service struct {
	src    Source
	sweep  Sweeper
	log    logx.Logger
	spec   string
	parser cron.Parser
}

func New(src Source, sweep Sweeper, log logx.Logger, opts Options) (*Service, error) {
	s := &Service{
		src:    src,
		sweep:  sweep,
		log:    log,
		spec:   opts.Spec,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	if _, err := s.parser.Parse(s.spec); err != nil {
		return nil, fmt.Errorf("sweep spec %q: %w", s.spec, err)
	}
	return s, nil
}

// Run schedules the sweep until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(time.Local))
	_, err := c.AddFunc(s.spec, func() { s.runOnce(ctx) })
	if err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

func (s *Service) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	snap, err := s.src.Snapshot(ctx)
	if err != nil {
		s.log.Warn("sweep skipped, state unavailable", logx.Err(err))
		return
	}
	removed, err := s.sweep.Sweep(snap.MediaRefs())
	if err != nil {
		s.log.Warn("media sweep failed", logx.Err(err))
		return
	}
	if removed > 0 {
		s.log.Info("orphan media swept", logx.Int("removed", removed))
	}
}
