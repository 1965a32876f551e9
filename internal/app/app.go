// Package app assembles the process: config, logging, state keeper,
// the two broadcast loops, the admin bot and housekeeping, all under
// one supervisor.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"groupcast/internal/adminbot"
	"groupcast/internal/broadcast"
	"groupcast/internal/config"
	"groupcast/internal/delivery"
	"groupcast/internal/maintenance"
	"groupcast/internal/media"
	"groupcast/internal/runtime/supervisor"
	"groupcast/internal/schedule"
	"groupcast/internal/store"
	logx "groupcast/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	st      store.Store
	keeper  *store.Keeper
	cache   *media.Cache
	userbot *delivery.Client
	admin   *adminbot.Bot

	sup *supervisor.Supervisor
}

// New loads the config and builds every component. Nothing runs until
// Start.
func New(cfgPath string, interactiveAuth bool) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Notify: logx.NotifyConfig{
			Enabled:    cfg.Logging.Notify.Enabled,
			MinLevel:   cfg.Logging.Notify.MinLevel,
			RatePerSec: cfg.Logging.Notify.RatePerSec,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, logs: logSvc, log: log}
	if err := a.build(cfg, interactiveAuth); err != nil {
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, interactiveAuth bool) error {
	cache, err := media.New(cfg.MediaDir(), a.componentLog("media"))
	if err != nil {
		return err
	}
	a.cache = cache

	busyTimeout, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busyTimeout,
	}, a.componentLog("store"))
	if err != nil {
		return err
	}
	a.st = st
	a.keeper = store.NewKeeper(st, cache, a.componentLog("keeper"))

	deliverTimeout, err := config.ParseDurationOrDefault("broadcast.deliver_timeout", cfg.Broadcast.DeliverTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	userbot, err := delivery.New(delivery.Options{
		APIID:       cfg.Userbot.APIID,
		APIHash:     cfg.Userbot.APIHash,
		SessionDir:  cfg.Userbot.SessionDirOrDefault(),
		Cache:       cache,
		RatePerSec:  float64(cfg.Broadcast.RatePerSec),
		Timeout:     deliverTimeout,
		Interactive: interactiveAuth,
	}, a.componentLog("userbot"))
	if err != nil {
		return fmt.Errorf("userbot: %w", err)
	}
	a.userbot = userbot

	if cfg.Logging.Notify.Enabled {
		a.logs.SetNotifier(userbot)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	admin, err := adminbot.New(adminbot.Options{
		Token:       cfg.Telegram.Token,
		OwnerUserID: cfg.Telegram.OwnerUserID,
		PollTimeout: pollTimeout,
	}, a.keeper, cache, a.componentLog("adminbot"))
	if err != nil {
		return fmt.Errorf("adminbot: %w", err)
	}
	a.admin = admin
	return nil
}

func (a *App) componentLog(name string) logx.Logger {
	return a.logs.Logger().With(logx.String("comp", name))
}

// Start launches everything and returns once the goroutines are up.
func (a *App) Start(ctx context.Context, cfg *config.Config) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.componentLog("supervisor")),
		supervisor.WithCancelOnError(false),
	)

	a.sup.Go("keeper", a.keeper.Run)

	idleWait, err := config.ParseDurationOrDefault("broadcast.idle_wait", cfg.Broadcast.IdleWait, 5*time.Second)
	if err != nil {
		return err
	}
	failurePause, err := config.ParseDurationOrDefault("broadcast.failure_pause", cfg.Broadcast.FailurePause, 10*time.Second)
	if err != nil {
		return err
	}
	fallback, err := config.ParseDurationOrDefault("broadcast.fallback_sleep", cfg.Broadcast.FallbackSleep, time.Minute)
	if err != nil {
		return err
	}
	delayLoop := broadcast.New(a.keeper, a.userbot, a.componentLog("broadcast"), broadcast.Options{
		IdleWait:     idleWait,
		FailurePause: failurePause,
		Fallback:     fallback,
	})
	a.sup.GoRestart("broadcast.delay", delayLoop.Run)

	tick, err := config.ParseDurationOrDefault("schedule.tick", cfg.Schedule.Tick, 5*time.Second)
	if err != nil {
		return err
	}
	tolerance, err := config.ParseDurationOrDefault("schedule.tolerance", cfg.Schedule.Tolerance, 30*time.Second)
	if err != nil {
		return err
	}
	schedIdle, err := config.ParseDurationOrDefault("schedule.idle_wait", cfg.Schedule.IdleWait, 5*time.Second)
	if err != nil {
		return err
	}
	schedLoop := schedule.New(a.keeper, a.userbot, a.componentLog("schedule"), schedule.Options{
		Tick:      tick,
		Tolerance: tolerance,
		IdleWait:  schedIdle,
	})
	a.sup.GoRestart("broadcast.schedule", schedLoop.Run)

	a.sup.GoRestart("adminbot", a.admin.Run)

	if cfg.Maintenance.Enabled {
		sweep, err := maintenance.New(a.keeper, a.cache, a.componentLog("maintenance"), maintenance.Options{
			Spec: cfg.Maintenance.SweepSpecOrDefault(),
		})
		if err != nil {
			return err
		}
		a.sup.GoRestart("maintenance", sweep.Run)
	}

	// Config file watch: logging changes apply live, anything else needs
	// a restart and is only reported.
	a.sup.Go("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(1)
	a.sup.Go0("config.reapply", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File: logx.FileConfig{
						Enabled: next.Logging.File.Enabled,
						Path:    next.Logging.File.Path,
					},
					Notify: logx.NotifyConfig{
						Enabled:    next.Logging.Notify.Enabled,
						MinLevel:   next.Logging.Notify.MinLevel,
						RatePerSec: next.Logging.Notify.RatePerSec,
					},
				})
				a.log.Info("config reloaded, logging settings applied")
			}
		}
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("groupcast started")
	return nil
}

// Stop winds everything down in dependency order.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	var firstErr error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.userbot != nil {
		a.userbot.Close()
	}
	if a.st != nil {
		if err := a.st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.log.Info("groupcast stopped")
	a.logs.Close()
	return firstErr
}

// Config returns the currently loaded configuration.
func (a *App) Config() *config.Config { return a.cfgm.Get() }
