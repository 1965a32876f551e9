package delivery

import (
	"strconv"

	"github.com/zelenin/go-tdlib/client"

	"groupcast/internal/snapshot"
)

// entityType translates a Bot API style entity type name into the TDLib
// representation. Unknown names return false and the span is dropped.
func entityType(e snapshot.Entity) (client.TextEntityType, bool) {
	switch e.Type {
	case "bold":
		return &client.TextEntityTypeBold{}, true
	case "italic":
		return &client.TextEntityTypeItalic{}, true
	case "underline":
		return &client.TextEntityTypeUnderline{}, true
	case "strikethrough":
		return &client.TextEntityTypeStrikethrough{}, true
	case "spoiler":
		return &client.TextEntityTypeSpoiler{}, true
	case "code":
		return &client.TextEntityTypeCode{}, true
	case "pre":
		if e.Language != "" {
			return &client.TextEntityTypePreCode{Language: e.Language}, true
		}
		return &client.TextEntityTypePre{}, true
	case "text_link":
		return &client.TextEntityTypeTextUrl{Url: e.URL}, true
	case "url":
		return &client.TextEntityTypeUrl{}, true
	case "mention":
		return &client.TextEntityTypeMention{}, true
	case "mention_name", "text_mention":
		return &client.TextEntityTypeMentionName{UserId: e.UserID}, true
	case "hashtag":
		return &client.TextEntityTypeHashtag{}, true
	case "cashtag":
		return &client.TextEntityTypeCashtag{}, true
	case "bot_command":
		return &client.TextEntityTypeBotCommand{}, true
	case "email":
		return &client.TextEntityTypeEmailAddress{}, true
	case "phone_number":
		return &client.TextEntityTypePhoneNumber{}, true
	case "bank_card":
		return &client.TextEntityTypeBankCardNumber{}, true
	case "custom_emoji":
		id, err := strconv.ParseInt(e.CustomEmojiID, 10, 64)
		if err != nil {
			return nil, false
		}
		return &client.TextEntityTypeCustomEmoji{CustomEmojiId: client.JsonInt64(id)}, true
	default:
		return nil, false
	}
}

// formatted builds the TDLib formatted text for a message body and its
// spans, silently dropping spans of unknown type.
func formatted(text string, entities []snapshot.Entity) *client.FormattedText {
	out := &client.FormattedText{Text: text}
	for _, e := range entities {
		typ, ok := entityType(e)
		if !ok {
			continue
		}
		out.Entities = append(out.Entities, &client.TextEntity{
			Offset: int32(e.Offset),
			Length: int32(e.Length),
			Type:   typ,
		})
	}
	return out
}
