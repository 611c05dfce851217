package realtime

import "encoding/json"

// Wire frame types.
const (
	TypeNewMessage        = "new_message"
	TypeMessageStatus     = "message_status"
	TypeTypingIndicator   = "typing_indicator"
	TypeReactionAdded     = "reaction_added"
	TypeReactionRemoved   = "reaction_removed"
	TypeMessagePinned     = "message_pinned"
	TypeMessageUnpinned   = "message_unpinned"
	TypeBroadcastComplete = "broadcast_complete"
	TypePing              = "ping"
)

// Envelope is the wire format for every frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outgoing struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// DeliveryStatus is the lifecycle stage of a message.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Rank orders statuses along sent → delivered → read. Failed and unknown
// statuses rank zero.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Advances reports whether next may replace s. Statuses only move forward;
// failed may only replace sent or an unknown status.
func (s DeliveryStatus) Advances(next DeliveryStatus) bool {
	if s == next {
		return false
	}
	if next == StatusFailed {
		return s.Rank() <= StatusSent.Rank()
	}
	return next.Rank() > s.Rank()
}

// Priority of a message or notification.
type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityImportant Priority = "important"
	PriorityUrgent    Priority = "urgent"
)

// Message is the new_message payload.
type Message struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	SenderName     string   `json:"senderName"`
	SenderType     string   `json:"senderType,omitempty"`
	Content        string   `json:"content"`
	MessageType    string   `json:"messageType,omitempty"`
	Priority       Priority `json:"priority,omitempty"`
	Timestamp      int64    `json:"timestamp"`
}

// MessageStatus is the message_status payload.
type MessageStatus struct {
	MessageID      string         `json:"messageId"`
	ConversationID string         `json:"conversationId,omitempty"`
	Status         DeliveryStatus `json:"status"`
	Error          string         `json:"error,omitempty"`
}

// TypingIndicator travels in both directions.
type TypingIndicator struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

// Reaction is the reaction_added / reaction_removed payload. Added is
// derived from the frame type.
type Reaction struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Emoji          string `json:"emoji"`
	Added          bool   `json:"-"`
}

// Pin is the message_pinned / message_unpinned payload. Pinned is derived
// from the frame type.
type Pin struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	PinnedBy       string `json:"pinnedBy,omitempty"`
	Pinned         bool   `json:"-"`
}

// BroadcastComplete reports the end of a bulk send.
type BroadcastComplete struct {
	BroadcastID    string `json:"broadcastId"`
	Title          string `json:"title,omitempty"`
	RecipientCount int    `json:"recipientCount"`
	FailedCount    int    `json:"failedCount"`
}

type ping struct {
	Timestamp int64 `json:"timestamp"`
}
