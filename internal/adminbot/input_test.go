package adminbot

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"groupcast/internal/snapshot"
)

func TestNormalizeHandle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"@mygroup", "@mygroup", false},
		{"mygroup", "@mygroup", false},
		{"https://t.me/mygroup", "@mygroup", false},
		{"http://t.me/mygroup", "@mygroup", false},
		{"t.me/mygroup", "@mygroup", false},
		{"https://telegram.me/mygroup", "@mygroup", false},
		{"https://t.me/mygroup/", "@mygroup", false},
		{"  @mygroup  ", "@mygroup", false},
		{"", "", true},
		{"https://t.me/", "", true},
		{"not a link", "", true},
		{"https://t.me/a/b", "", true},
	}
	for _, tc := range tests {
		got, err := normalizeHandle(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("normalizeHandle(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("normalizeHandle(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("normalizeHandle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseDelayPart(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"", 0, false},
		{" 15 ", 15, false},
		{"-3", 0, true},
		{"ten", 0, true},
	} {
		got, err := parseDelayPart(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseDelayPart(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("parseDelayPart(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestKeepCurrent(t *testing.T) {
	t.Parallel()

	if !keepCurrent("0") || !keepCurrent(" 0 ") {
		t.Fatal("0 must mean keep")
	}
	if keepCurrent("00:00:00") || keepCurrent("") {
		t.Fatal("only a bare 0 means keep")
	}
}

func TestConvertEntities(t *testing.T) {
	t.Parallel()

	in := []tele.MessageEntity{
		{Type: tele.EntityBold, Offset: 0, Length: 4},
		{Type: tele.EntityTextLink, Offset: 5, Length: 3, URL: "https://example.com"},
		{Type: tele.EntityTMention, Offset: 9, Length: 4, User: &tele.User{ID: 77}},
		{Type: tele.EntityCustomEmoji, Offset: 14, Length: 2, CustomEmojiID: "5368324170671202286"},
	}
	got := convertEntities(in)
	if len(got) != 4 {
		t.Fatalf("got %d entities", len(got))
	}
	if got[0].Type != "bold" || got[0].Length != 4 {
		t.Fatalf("bold span %+v", got[0])
	}
	if got[1].Type != "text_link" || got[1].URL != "https://example.com" {
		t.Fatalf("link span %+v", got[1])
	}
	if got[2].Type != "text_mention" || got[2].UserID != 77 {
		t.Fatalf("mention span %+v", got[2])
	}
	if got[3].Type != "custom_emoji" || got[3].CustomEmojiID != "5368324170671202286" {
		t.Fatalf("emoji span %+v", got[3])
	}

	if convertEntities(nil) != nil {
		t.Fatal("nil in, nil out")
	}
}

func TestPayloadFromMessage(t *testing.T) {
	t.Parallel()

	download := func(*tele.Photo) (string, error) { return "abcd1234.jpg", nil }

	t.Run("text", func(t *testing.T) {
		p, err := payloadFromMessage(&tele.Message{Text: "hello"}, download)
		if err != nil {
			t.Fatalf("payloadFromMessage: %v", err)
		}
		if p.Message != "hello" || p.HasMedia() {
			t.Fatalf("payload %+v", p)
		}
	})

	t.Run("photo becomes local blob", func(t *testing.T) {
		m := &tele.Message{Photo: &tele.Photo{}, Caption: "look"}
		p, err := payloadFromMessage(m, download)
		if err != nil {
			t.Fatalf("payloadFromMessage: %v", err)
		}
		if p.Media != "abcd1234.jpg" || p.Message != "look" {
			t.Fatalf("payload %+v", p)
		}
	})

	t.Run("document keeps remote reference", func(t *testing.T) {
		m := &tele.Message{Document: &tele.Document{File: tele.File{FileID: "BQACAgIAAxkB"}}}
		p, err := payloadFromMessage(m, download)
		if err != nil {
			t.Fatalf("payloadFromMessage: %v", err)
		}
		if p.Media != "BQACAgIAAxkB" {
			t.Fatalf("payload %+v", p)
		}
	})

	t.Run("empty message rejected", func(t *testing.T) {
		if _, err := payloadFromMessage(&tele.Message{Text: "   "}, download); err == nil {
			t.Fatal("expected error for empty message")
		}
	})
}

func TestRenderStatus(t *testing.T) {
	t.Parallel()

	snap := snapshot.Empty()
	_ = snap.AddDestination("@alpha")
	_, _ = snap.SetDelayPayload("@alpha", snapshot.TextPayload("a very long announcement line that keeps going", nil))
	_ = snap.SetDelaySeconds("@alpha", 120)
	_ = snap.AddScheduleEntry("@alpha", "09:00:00", snapshot.TextPayload("morning", nil))
	snap.DelayActive = true

	out := renderStatus(snap)
	for _, want := range []string{"Broadcast: on", "Schedules: off", "@alpha", "every 120s", "at 09:00:00", "morning"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}

	empty := renderStatus(snapshot.Empty())
	if !strings.Contains(empty, "No groups configured.") {
		t.Errorf("empty status:\n%s", empty)
	}
}
