package notify

import (
	"time"

	"github.com/matheus3301/officechat/internal/store"
)

type Type string

const (
	TypeNewMessage        Type = "new_message"
	TypeMessageRead       Type = "message_read"
	TypeBroadcastComplete Type = "broadcast_complete"
	TypeDeliveryFailed    Type = "delivery_failed"
)

type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityImportant Priority = "important"
	PriorityUrgent    Priority = "urgent"
)

func (p Priority) rank() int {
	switch p {
	case PriorityImportant:
		return 1
	case PriorityUrgent:
		return 2
	}
	return 0
}

// State is where a notification sits in its lifecycle.
type State string

const (
	StateActive     State = "active"
	StateSnoozed    State = "snoozed"
	StateSuppressed State = "suppressed"
)

// Notification is a user-facing alert. Timestamp is the latest arrival
// folded into it.
type Notification struct {
	ID             string
	Type           Type
	SenderID       string
	SenderName     string
	ConversationID string
	MessageID      string
	Message        string
	Priority       Priority
	Timestamp      time.Time
	Read           bool
	GroupCount     int
	State          State
	SnoozedUntil   time.Time
}

func (n *Notification) toRow(now time.Time) *store.NotificationRow {
	row := &store.NotificationRow{
		ID:             n.ID,
		Type:           string(n.Type),
		SenderID:       n.SenderID,
		SenderName:     n.SenderName,
		ConversationID: n.ConversationID,
		MessageID:      n.MessageID,
		Message:        n.Message,
		Priority:       string(n.Priority),
		GroupCount:     n.GroupCount,
		Read:           n.Read,
		State:          string(n.State),
		Timestamp:      n.Timestamp.UnixMilli(),
		UpdatedAt:      now.UnixMilli(),
	}
	if !n.SnoozedUntil.IsZero() {
		row.SnoozedUntil = n.SnoozedUntil.UnixMilli()
	}
	return row
}

func fromRow(row store.NotificationRow) *Notification {
	n := &Notification{
		ID:             row.ID,
		Type:           Type(row.Type),
		SenderID:       row.SenderID,
		SenderName:     row.SenderName,
		ConversationID: row.ConversationID,
		MessageID:      row.MessageID,
		Message:        row.Message,
		Priority:       Priority(row.Priority),
		Timestamp:      time.UnixMilli(row.Timestamp),
		Read:           row.Read,
		GroupCount:     row.GroupCount,
		State:          State(row.State),
	}
	if row.SnoozedUntil > 0 {
		n.SnoozedUntil = time.UnixMilli(row.SnoozedUntil)
	}
	if n.GroupCount < 1 {
		n.GroupCount = 1
	}
	return n
}

// Repository persists notifications. *store.DB implements it.
type Repository interface {
	SaveNotification(n *store.NotificationRow) error
	DeleteNotification(id string) error
	DeleteAllNotifications() error
	ListNotifications() ([]store.NotificationRow, error)
}

// Event is a notification-worthy occurrence handed to the scheduler. A zero
// At means now.
type Event struct {
	Type           Type
	SenderID       string
	SenderName     string
	ConversationID string
	MessageID      string
	Text           string
	Priority       Priority
	At             time.Time
}

// Outcome of evaluating an Event.
type Outcome string

const (
	Created    Outcome = "created"
	Grouped    Outcome = "grouped"
	Suppressed Outcome = "suppressed"
)

// Suppression reasons.
const (
	ReasonMuted               = "muted"
	ReasonConversationSnoozed = "conversation_snoozed"
	ReasonQuietHours          = "quiet_hours"
)

// Decision is the result of Evaluate. Notification is set unless the event
// was suppressed.
type Decision struct {
	Outcome      Outcome
	Reason       string
	Sound        SoundMode
	Notification *Notification
}

// Op names a change delivered to listeners.
type Op string

const (
	OpCreated    Op = "created"
	OpGrouped    Op = "grouped"
	OpRead       Op = "read"
	OpSnoozed    Op = "snoozed"
	OpResurfaced Op = "resurfaced"
	OpSuppressed Op = "suppressed"
	OpDismissed  Op = "dismissed"
	OpCleared    Op = "cleared"
)

// Change describes one mutation. Notification is a copy and is nil for
// OpCleared.
type Change struct {
	Op           Op
	Notification *Notification
}

// Listener receives changes after they are applied.
type Listener func(Change)
