package config

import (
	"errors"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Userbot  UserbotConfig  `json:"userbot"`
	Logging  LoggingConfig  `json:"logging"`

	// Store configures where the broadcast snapshot lives.
	Store StoreConfig `json:"store"`

	// Media configures the local cache for downloaded payload blobs.
	Media MediaConfig `json:"media,omitempty"`

	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Schedule  ScheduleConfig  `json:"schedule,omitempty"`

	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

// TelegramConfig configures the admin-facing bot account.
type TelegramConfig struct {
	Token       string `json:"token"`
	OwnerUserID int64  `json:"owner_user_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// UserbotConfig configures the user-account (MTProto) client that performs
// the actual group sends. Bot accounts cannot post into arbitrary groups,
// so delivery runs on a user session.
type UserbotConfig struct {
	APIID      int32  `json:"api_id"`
	APIHash    string `json:"api_hash"`
	SessionDir string `json:"session_dir,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file,omitempty"`
	Notify  LoggingNotify `json:"notify,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingNotify mirrors warnings into the userbot's saved messages.
type LoggingNotify struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StoreConfig controls the snapshot persistence layer.
//
// Driver values:
//   - "file": JSON document with atomic rename (default)
//   - "sqlite": SQLite database file (build with -tags sqlite)
type StoreConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type MediaConfig struct {
	Dir string `json:"dir,omitempty"`
}

// BroadcastConfig tunes the fixed-interval loop.
// All durations are Go duration strings.
type BroadcastConfig struct {
	IdleWait       string `json:"idle_wait,omitempty"`       // wait while the loop is switched off
	FailurePause   string `json:"failure_pause,omitempty"`   // pause after a failed delivery
	FallbackSleep  string `json:"fallback_sleep,omitempty"`  // inter-pass sleep when no destinations exist
	DeliverTimeout string `json:"deliver_timeout,omitempty"` // per-delivery ceiling
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
}

// ScheduleConfig tunes the time-of-day loop.
type ScheduleConfig struct {
	Tick      string `json:"tick,omitempty"`
	Tolerance string `json:"tolerance,omitempty"`
	IdleWait  string `json:"idle_wait,omitempty"`
}

// MaintenanceConfig controls periodic housekeeping (orphaned media sweep).
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// SweepSpec is a standard 5-field cron spec; default "0 4 * * *".
	SweepSpec string `json:"sweep_spec,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.OwnerUserID == 0 {
		return errors.New("telegram.owner_user_id is required")
	}
	if c.Userbot.APIID == 0 || strings.TrimSpace(c.Userbot.APIHash) == "" {
		return errors.New("userbot.api_id and userbot.api_hash are required")
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path is required")
	}

	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"store.busy_timeout", c.Store.BusyTimeout},
		{"broadcast.idle_wait", c.Broadcast.IdleWait},
		{"broadcast.failure_pause", c.Broadcast.FailurePause},
		{"broadcast.fallback_sleep", c.Broadcast.FallbackSleep},
		{"broadcast.deliver_timeout", c.Broadcast.DeliverTimeout},
		{"schedule.tick", c.Schedule.Tick},
		{"schedule.tolerance", c.Schedule.Tolerance},
		{"schedule.idle_wait", c.Schedule.IdleWait},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// MediaDir returns the configured media cache directory or its default.
func (c *Config) MediaDir() string {
	if d := strings.TrimSpace(c.Media.Dir); d != "" {
		return d
	}
	return "./media"
}

// SessionDir returns the userbot session directory or its default.
func (c *UserbotConfig) SessionDirOrDefault() string {
	if d := strings.TrimSpace(c.SessionDir); d != "" {
		return d
	}
	return "./session"
}

func (c *MaintenanceConfig) SweepSpecOrDefault() string {
	if s := strings.TrimSpace(c.SweepSpec); s != "" {
		return s
	}
	return "0 4 * * *"
}
