package snapshot

// Entity is one opaque rich-text formatting span, order-preserving and carried
// to the transport unchanged. Type values follow Bot API naming ("bold",
// "text_link", "custom_emoji", ...); kind-specific fields are populated only
// for the types that need them.
type Entity struct {
	Type          string `json:"type"`
	Offset        int    `json:"offset"`
	Length        int    `json:"length"`
	URL           string `json:"url,omitempty"`
	UserID        int64  `json:"user,omitempty"`
	CustomEmojiID string `json:"custom_emoji_id,omitempty"`
	Language      string `json:"language,omitempty"`
}

// Payload is the content unit to deliver: text with formatting spans, or a
// media reference with a caption and caption spans. At most one shape is
// populated; the constructors enforce that switching shapes drops the stale
// fields of the other one.
//
// Media holds either a local blob path (photos downloaded by the admin bot)
// or an opaque Telegram file reference (documents).
type Payload struct {
	Message         string   `json:"message,omitempty"`
	Entities        []Entity `json:"entities,omitempty"`
	Media           string   `json:"media,omitempty"`
	CaptionEntities []Entity `json:"caption_entities,omitempty"`
}

// TextPayload builds a text-shaped payload; any media fields are absent.
func TextPayload(message string, entities []Entity) Payload {
	return Payload{Message: message, Entities: cloneEntities(entities)}
}

// MediaPayload builds a media-shaped payload with an optional caption.
// Message doubles as the caption for media payloads, matching the wire format.
func MediaPayload(media, caption string, captionEntities []Entity) Payload {
	return Payload{Media: media, Message: caption, CaptionEntities: cloneEntities(captionEntities)}
}

func (p Payload) IsEmpty() bool { return p.Message == "" && p.Media == "" }

func (p Payload) HasMedia() bool { return p.Media != "" }

func (p Payload) Clone() Payload {
	p.Entities = cloneEntities(p.Entities)
	p.CaptionEntities = cloneEntities(p.CaptionEntities)
	return p
}

func cloneEntities(in []Entity) []Entity {
	if in == nil {
		return nil
	}
	out := make([]Entity, len(in))
	copy(out, in)
	return out
}
