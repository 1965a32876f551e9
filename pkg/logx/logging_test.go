package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"TRACE", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tc := range tests {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 100); got != "short" {
		t.Errorf("truncate short: %q", got)
	}
	long := strings.Repeat("x", 50)
	got := truncate(long, 20)
	if len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate long: %q", got)
	}
	if got := truncate(long, 5); got != "xxxxx" {
		t.Errorf("truncate tiny: %q", got)
	}
}

func TestFormatNotifyLine(t *testing.T) {
	t.Parallel()

	line := `{"level":"warn","time":"2026-01-02T03:04:05Z","caller":"x.go:1","message":"delivery failed","dest":"@alpha"}`
	out := formatNotifyLine([]byte(line))
	if !strings.HasPrefix(out, "[WARN] delivery failed") {
		t.Fatalf("prefix missing: %q", out)
	}
	if !strings.Contains(out, "dest=@alpha") {
		t.Fatalf("field missing: %q", out)
	}
	if strings.Contains(out, "caller") || strings.Contains(out, "2026-01-02") {
		t.Fatalf("noise fields leaked: %q", out)
	}

	// Non-JSON input falls back to the raw line.
	if got := formatNotifyLine([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("raw fallback: %q", got)
	}
}

type captureNotifier struct{ msgs []string }

func (c *captureNotifier) Notify(text string) { c.msgs = append(c.msgs, text) }

func TestNotifyWriterLevelFloor(t *testing.T) {
	t.Parallel()

	svc, _ := New(Config{
		Level:   "DEBUG",
		Console: false,
		Notify:  NotifyConfig{Enabled: true, MinLevel: "WARN", RatePerSec: 100},
	})
	defer svc.Close()

	sink := &captureNotifier{}
	svc.SetNotifier(sink)

	w := &notifyWriter{svc: svc}
	if _, err := w.WriteLevel(zerolog.InfoLevel, []byte(`{"level":"info","message":"quiet"}`)); err != nil {
		t.Fatalf("WriteLevel: %v", err)
	}
	if _, err := w.WriteLevel(zerolog.ErrorLevel, []byte(`{"level":"error","message":"loud"}`)); err != nil {
		t.Fatalf("WriteLevel: %v", err)
	}

	if len(sink.msgs) != 1 || !strings.Contains(sink.msgs[0], "loud") {
		t.Fatalf("notify messages %v, want only the error line", sink.msgs)
	}
}

func TestNopLoggerIsSilentAndSafe(t *testing.T) {
	t.Parallel()

	log := Nop()
	log.Info("ignored", String("k", "v"))
	log = log.With(Int("n", 1))
	log.Error("still ignored")

	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger must report IsZero")
	}
	zero.Warn("must not panic")
}
