package delivery

import (
	"testing"

	"github.com/zelenin/go-tdlib/client"

	"groupcast/internal/snapshot"
)

func TestEntityTypeMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   snapshot.Entity
		want client.TextEntityType
	}{
		{"bold", snapshot.Entity{Type: "bold"}, &client.TextEntityTypeBold{}},
		{"italic", snapshot.Entity{Type: "italic"}, &client.TextEntityTypeItalic{}},
		{"underline", snapshot.Entity{Type: "underline"}, &client.TextEntityTypeUnderline{}},
		{"strikethrough", snapshot.Entity{Type: "strikethrough"}, &client.TextEntityTypeStrikethrough{}},
		{"spoiler", snapshot.Entity{Type: "spoiler"}, &client.TextEntityTypeSpoiler{}},
		{"code", snapshot.Entity{Type: "code"}, &client.TextEntityTypeCode{}},
		{"pre", snapshot.Entity{Type: "pre"}, &client.TextEntityTypePre{}},
		{"pre with language", snapshot.Entity{Type: "pre", Language: "go"}, &client.TextEntityTypePreCode{Language: "go"}},
		{"text_link", snapshot.Entity{Type: "text_link", URL: "https://example.com"}, &client.TextEntityTypeTextUrl{Url: "https://example.com"}},
		{"url", snapshot.Entity{Type: "url"}, &client.TextEntityTypeUrl{}},
		{"mention", snapshot.Entity{Type: "mention"}, &client.TextEntityTypeMention{}},
		{"mention_name", snapshot.Entity{Type: "mention_name", UserID: 42}, &client.TextEntityTypeMentionName{UserId: 42}},
		{"hashtag", snapshot.Entity{Type: "hashtag"}, &client.TextEntityTypeHashtag{}},
		{"cashtag", snapshot.Entity{Type: "cashtag"}, &client.TextEntityTypeCashtag{}},
		{"bot_command", snapshot.Entity{Type: "bot_command"}, &client.TextEntityTypeBotCommand{}},
		{"email", snapshot.Entity{Type: "email"}, &client.TextEntityTypeEmailAddress{}},
		{"phone_number", snapshot.Entity{Type: "phone_number"}, &client.TextEntityTypePhoneNumber{}},
		{"bank_card", snapshot.Entity{Type: "bank_card"}, &client.TextEntityTypeBankCardNumber{}},
		{"custom_emoji", snapshot.Entity{Type: "custom_emoji", CustomEmojiID: "5368324170671202286"}, &client.TextEntityTypeCustomEmoji{CustomEmojiId: 5368324170671202286}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := entityType(tc.in)
			if !ok {
				t.Fatalf("entityType(%q) not mapped", tc.in.Type)
			}
			switch want := tc.want.(type) {
			case *client.TextEntityTypePreCode:
				g, gok := got.(*client.TextEntityTypePreCode)
				if !gok || g.Language != want.Language {
					t.Fatalf("got %#v, want %#v", got, want)
				}
			case *client.TextEntityTypeTextUrl:
				g, gok := got.(*client.TextEntityTypeTextUrl)
				if !gok || g.Url != want.Url {
					t.Fatalf("got %#v, want %#v", got, want)
				}
			case *client.TextEntityTypeMentionName:
				g, gok := got.(*client.TextEntityTypeMentionName)
				if !gok || g.UserId != want.UserId {
					t.Fatalf("got %#v, want %#v", got, want)
				}
			case *client.TextEntityTypeCustomEmoji:
				g, gok := got.(*client.TextEntityTypeCustomEmoji)
				if !gok || g.CustomEmojiId != want.CustomEmojiId {
					t.Fatalf("got %#v, want %#v", got, want)
				}
			default:
				if got.TextEntityTypeType() != tc.want.TextEntityTypeType() {
					t.Fatalf("got %s, want %s", got.TextEntityTypeType(), tc.want.TextEntityTypeType())
				}
			}
		})
	}
}

func TestEntityTypeUnknownDropped(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{"", "blockquote", "whatever"} {
		if _, ok := entityType(snapshot.Entity{Type: typ}); ok {
			t.Fatalf("entityType(%q) unexpectedly mapped", typ)
		}
	}
	// Malformed custom emoji ids are dropped rather than sent as zero.
	if _, ok := entityType(snapshot.Entity{Type: "custom_emoji", CustomEmojiID: "not-a-number"}); ok {
		t.Fatalf("malformed custom emoji id mapped")
	}
}

func TestFormattedDropsUnknownSpans(t *testing.T) {
	t.Parallel()

	ft := formatted("hello world", []snapshot.Entity{
		{Type: "bold", Offset: 0, Length: 5},
		{Type: "unknown_kind", Offset: 6, Length: 5},
	})
	if ft.Text != "hello world" {
		t.Fatalf("text %q", ft.Text)
	}
	if len(ft.Entities) != 1 {
		t.Fatalf("expected 1 surviving span, got %d", len(ft.Entities))
	}
	if ft.Entities[0].Offset != 0 || ft.Entities[0].Length != 5 {
		t.Fatalf("span bounds %+v", ft.Entities[0])
	}
}
