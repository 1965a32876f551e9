package adminbot

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"groupcast/internal/snapshot"
)

// normalizeHandle turns the forms admins paste into a canonical "@name"
// destination: bare names, "@name", and t.me links all map to the same
// handle.
func normalizeHandle(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{
		"https://t.me/",
		"http://t.me/",
		"t.me/",
		"https://telegram.me/",
		"telegram.me/",
	} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return "", fmt.Errorf("empty group link")
	}
	if strings.ContainsAny(s, " /?&") {
		return "", fmt.Errorf("unrecognized group link %q", raw)
	}
	return "@" + s, nil
}

// parseDelayPart reads one of the hour/minute/second answers. Blank and
// "0" both mean zero.
func parseDelayPart(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("expected a non-negative number, got %q", raw)
	}
	return n, nil
}

// keepCurrent reports the "leave this field as is" answer in edit flows.
func keepCurrent(raw string) bool {
	return strings.TrimSpace(raw) == "0"
}

// convertEntities carries Telegram formatting spans into the stored
// form. Bot API type names are kept verbatim.
func convertEntities(in []tele.MessageEntity) []snapshot.Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]snapshot.Entity, 0, len(in))
	for _, e := range in {
		ent := snapshot.Entity{
			Type:          string(e.Type),
			Offset:        e.Offset,
			Length:        e.Length,
			URL:           e.URL,
			Language:      e.Language,
			CustomEmojiID: e.CustomEmojiID,
		}
		if e.User != nil {
			ent.UserID = e.User.ID
		}
		out = append(out, ent)
	}
	return out
}

// payloadFromMessage maps an incoming admin message onto the stored
// payload shape. Photos become cached blobs via the download callback,
// documents stay remote file references, everything else is text.
func payloadFromMessage(m *tele.Message, download func(*tele.Photo) (string, error)) (snapshot.Payload, error) {
	switch {
	case m.Photo != nil:
		ref, err := download(m.Photo)
		if err != nil {
			return snapshot.Payload{}, fmt.Errorf("photo download: %w", err)
		}
		return snapshot.MediaPayload(ref, m.Caption, convertEntities(m.CaptionEntities)), nil
	case m.Document != nil:
		return snapshot.MediaPayload(m.Document.FileID, m.Caption, convertEntities(m.CaptionEntities)), nil
	case strings.TrimSpace(m.Text) != "":
		return snapshot.TextPayload(m.Text, convertEntities(m.Entities)), nil
	default:
		return snapshot.Payload{}, fmt.Errorf("send text, a photo or a document")
	}
}
