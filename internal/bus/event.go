package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix ("rt.", "network.", ...).
const (
	KindNewMessage      = "rt.new_message"
	KindMessageStatus   = "rt.message_status"
	KindTyping          = "rt.typing_indicator"
	KindReaction        = "rt.reaction"
	KindPin             = "rt.pin"
	KindBroadcast       = "rt.broadcast_complete"
	KindStateChanged    = "rt.state_changed"
	KindNetworkOnline   = "network.online"
	KindNetworkOffline  = "network.offline"
	KindNotification    = "notify.changed"
	KindMessageUpserted = "message.upserted"
	KindSendAck         = "message.send_ack"
	KindSendFailed      = "message.send_failed"
)
