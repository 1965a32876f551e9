package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validJSON = `{
  "telegram": {"token": "123:abc", "owner_user_id": 42, "poll_timeout": "10s"},
  "userbot": {"api_id": 17349, "api_hash": "deadbeef", "session_dir": "./session"},
  "logging": {"level": "INFO", "console": true},
  "store": {"driver": "file", "path": "./state.json"},
  "broadcast": {"failure_pause": "10s", "rate_per_sec": 1},
  "schedule": {"tick": "5s", "tolerance": "30s"}
}`

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_id: 42
userbot:
  api_id: 17349
  api_hash: deadbeef
logging:
  level: DEBUG
  console: true
store:
  path: ./state.json
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.json", validJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.OwnerUserID != 42 || cfg.Userbot.APIID != 17349 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different pointer")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" || cfg.Store.Path != "./state.json" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestParseRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			"unknown field",
			func(s string) string { return strings.Replace(s, `"logging"`, `"loging"`, 1) },
			"unknown field",
		},
		{
			"missing token",
			func(s string) string { return strings.Replace(s, `"123:abc"`, `""`, 1) },
			"telegram.token",
		},
		{
			"missing owner",
			func(s string) string { return strings.Replace(s, `"owner_user_id": 42`, `"owner_user_id": 0`, 1) },
			"owner_user_id",
		},
		{
			"missing store path",
			func(s string) string { return strings.Replace(s, `"./state.json"`, `""`, 1) },
			"store.path",
		},
		{
			"bad duration",
			func(s string) string { return strings.Replace(s, `"5s"`, `"five seconds"`, 1) },
			"schedule.tick",
		},
		{
			"trailing data",
			func(s string) string { return s + "{}" },
			"trailing",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, "config.json", tc.mutate(validJSON)))
			_, err := m.Parse()
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestSubscribeDropOldest(t *testing.T) {
	t.Parallel()

	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got != second {
		t.Fatalf("expected the newest config, got the stale one")
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected second delivery %v", extra)
	default:
	}
}

func TestDurationDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	if got := cfg.MediaDir(); got != "./media" {
		t.Fatalf("MediaDir default %q", got)
	}
	if got := cfg.Userbot.SessionDirOrDefault(); got != "./session" {
		t.Fatalf("session dir default %q", got)
	}
	if got := cfg.Maintenance.SweepSpecOrDefault(); got != "0 4 * * *" {
		t.Fatalf("sweep spec default %q", got)
	}
}
