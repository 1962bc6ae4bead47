package domain

import "context"

// EmbedField is one name/value row of a rich message.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is a rich message card.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// OutboundMessage is a rendered message ready for the chat platform.
type OutboundMessage struct {
	Content string
	Embed   *Embed
}

// SendResult identifies the delivered message on the chat platform.
type SendResult struct {
	ChannelID string
	MessageID string
}

// Sender delivers rendered messages. SendDirectMessage returns a
// *core_domain.PermanentRecipientError when the user cannot receive DMs.
type Sender interface {
	SendToChannel(ctx context.Context, channelID string, msg OutboundMessage) (SendResult, error)
	SendDirectMessage(ctx context.Context, userID string, msg OutboundMessage) (SendResult, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
}
