package model

import "time"

type Channel string

const (
	ChannelBotAPI   Channel = "bot-api"
	ChannelPersonal Channel = "personal-session"
	ChannelBridgeA  Channel = "bridge-a"
	ChannelBridgeB  Channel = "bridge-b"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelBotAPI, ChannelPersonal, ChannelBridgeA, ChannelBridgeB:
		return true
	}
	return false
}

// Channels lists every known channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelBotAPI, ChannelPersonal, ChannelBridgeA, ChannelBridgeB}
}

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentAudio    AttachmentKind = "audio"
)

type Attachment struct {
	URL      string         `json:"url"`
	Kind     AttachmentKind `json:"kind"`
	Filename string         `json:"filename"`
}

// Message is one outbound (or inbound) delivery unit. The ID is generated
// locally at insert time; the remote channel's id arrives later in
// ExternalID once the send is confirmed.
type Message struct {
	ID           string      `json:"id"`
	Conversation string      `json:"conversation"`
	Recipient    string      `json:"recipient"`
	Channel      Channel     `json:"channel"`
	Content      string      `json:"content"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	Direction    Direction   `json:"direction"`
	Status       Status      `json:"status"`

	// Optimistic marks a locally-inserted entry that has not yet been
	// confirmed or rejected by the remote channel.
	Optimistic bool `json:"optimistic"`

	// BroadcastID ties per-recipient broadcast outcomes into the same
	// audit trail as interactive sends. Empty for interactive messages.
	BroadcastID string `json:"broadcastId,omitempty"`

	ExternalID *string    `json:"externalId,omitempty"`
	Annotation *string    `json:"annotation,omitempty"`
	SentAt     *time.Time `json:"sentAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
