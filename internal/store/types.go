package store

// Message is a persisted conversation message.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	SenderName     string
	Body           string
	MessageType    string
	FromMe         bool
	Status         string // sent, delivered, read, failed, sending
	Timestamp      int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Body           string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
	CreatedAt      int64
}

// NotificationRow is the persisted form of a notification.
type NotificationRow struct {
	ID             string
	Type           string
	SenderID       string
	SenderName     string
	ConversationID string
	MessageID      string
	Message        string
	Priority       string
	GroupCount     int
	Read           bool
	State          string // active, snoozed, suppressed
	SnoozedUntil   int64
	Timestamp      int64
	UpdatedAt      int64
}
