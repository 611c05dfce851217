// Package ingest turns realtime bus events into durable state: it feeds the
// conversation tracker, persists messages and delivery status, and hands
// notification-worthy events to the scheduler.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/officechat/internal/bus"
	"github.com/matheus3301/officechat/internal/cache"
	"github.com/matheus3301/officechat/internal/conversation"
	"github.com/matheus3301/officechat/internal/notify"
	"github.com/matheus3301/officechat/internal/outbox"
	"github.com/matheus3301/officechat/internal/realtime"
	"github.com/matheus3301/officechat/internal/store"
	"go.uber.org/zap"
)

const (
	previewLen = 100

	// SnapshotKeyPrefix namespaces cached conversation snapshots.
	SnapshotKeyPrefix  = "conversation:"
	DefaultSnapshotTTL = 24 * time.Hour
)

// Notifier accepts notification events. *notify.Scheduler implements it.
type Notifier interface {
	Notify(ev notify.Event) notify.Decision
}

// Engine handles idempotent ingestion of realtime events.
type Engine struct {
	userID   string
	db       *store.DB
	tracker  *conversation.Tracker
	notifier Notifier
	bus      *bus.Bus
	logger   *zap.Logger
	cache    *cache.Manager
	cacheTTL time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEngine creates a new ingest engine for the user identified by userID.
// db and notifier may be nil.
func NewEngine(userID string, db *store.DB, tracker *conversation.Tracker, notifier Notifier, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		userID:   userID,
		db:       db,
		tracker:  tracker,
		notifier: notifier,
		bus:      b,
		logger:   logger,
	}
}

// CacheSnapshots makes the engine write each touched conversation's
// snapshot to c under SnapshotKeyPrefix+id. Call before Start.
func (e *Engine) CacheSnapshots(c *cache.Manager, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	e.cache, e.cacheTTL = c, ttl
}

func (e *Engine) cacheSnapshot(conversationID string) {
	if e.cache == nil || conversationID == "" {
		return
	}
	snap, ok := e.tracker.Snapshot(conversationID)
	if !ok {
		return
	}
	e.cache.Set(SnapshotKeyPrefix+conversationID, snap, cache.Options{TTL: e.cacheTTL})
}

// Start subscribes to realtime and outbox events on the bus. The
// subscriptions are lossless: a burst larger than any buffer is queued and
// ingested in arrival order.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	rt, unsubRT := e.bus.SubscribeAll("rt.")
	sends, unsubSends := e.bus.SubscribeAll("message.send_")

	go func() {
		defer close(e.done)
		defer unsubRT()
		defer unsubSends()
		for {
			select {
			case evt := <-rt:
				e.handleEvent(evt)
			case evt := <-sends:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the current event to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case realtime.Message:
		if err := e.IngestMessage(p); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", p.ID))
		}
	case realtime.MessageStatus:
		if err := e.ApplyStatus(p); err != nil {
			e.logger.Error("failed to apply status", zap.Error(err), zap.String("msg_id", p.MessageID))
		}
	case realtime.TypingIndicator:
		if p.UserID != e.userID {
			e.tracker.SetTyping(p)
		}
	case realtime.Reaction:
		e.tracker.ApplyReaction(p)
	case realtime.Pin:
		e.tracker.ApplyPin(p)
	case realtime.BroadcastComplete:
		e.BroadcastComplete(p)
	case outbox.Ack:
		e.tracker.AddMessage(conversation.Message{
			ID:             p.ServerMsgID,
			ConversationID: p.ConversationID,
			SenderID:       e.userID,
			Content:        p.Body,
			FromMe:         true,
			Status:         realtime.StatusSent,
			Timestamp:      time.UnixMilli(p.Timestamp),
		})
	case outbox.Failure:
		e.notify(notify.Event{
			Type:           notify.TypeDeliveryFailed,
			ConversationID: p.ConversationID,
			MessageID:      p.ClientMsgID,
			Text:           "Message not sent: " + truncate(p.Body, previewLen),
			Priority:       notify.PriorityImportant,
		})
	}
}

// IngestMessage records a new_message frame. Replays of a message already
// seen this session are stored again but do not notify twice.
func (e *Engine) IngestMessage(p realtime.Message) error {
	fromMe := p.SenderID != "" && p.SenderID == e.userID
	fresh := e.tracker.AddMessage(conversation.FromRealtime(p, fromMe))

	if e.db != nil {
		ts := p.Timestamp
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		status := string(realtime.StatusDelivered)
		if fromMe {
			status = string(realtime.StatusSent)
		}
		msgType := p.MessageType
		if msgType == "" {
			msgType = "text"
		}
		if err := e.db.UpsertMessage(&store.Message{
			ConversationID: p.ConversationID,
			MsgID:          p.ID,
			SenderID:       p.SenderID,
			SenderName:     p.SenderName,
			Body:           p.Content,
			MessageType:    msgType,
			FromMe:         fromMe,
			Status:         status,
			Timestamp:      ts,
		}); err != nil {
			return fmt.Errorf("upsert message: %w", err)
		}
		if err := e.UpdateCheckpoint(p.ConversationID, ts); err != nil {
			e.logger.Warn("failed to update checkpoint", zap.Error(err))
		}
		e.bus.Publish(bus.Event{
			Kind:      bus.KindMessageUpserted,
			Timestamp: time.Now(),
			Payload:   map[string]string{"conversation_id": p.ConversationID, "msg_id": p.ID},
		})
	}

	if fresh {
		e.cacheSnapshot(p.ConversationID)
	}
	if fresh && !fromMe {
		priority := notify.Priority(p.Priority)
		if priority == "" {
			priority = notify.PriorityNormal
		}
		e.notify(notify.Event{
			Type:           notify.TypeNewMessage,
			SenderID:       p.SenderID,
			SenderName:     p.SenderName,
			ConversationID: p.ConversationID,
			MessageID:      p.ID,
			Text:           p.Content,
			Priority:       priority,
		})
	}
	return nil
}

// ApplyStatus records a message_status frame. Statuses never move
// backwards. A read receipt or failure on one of the user's own messages
// produces a notification.
func (e *Engine) ApplyStatus(p realtime.MessageStatus) error {
	tracked, changed := e.tracker.UpdateStatus(p.MessageID, p.Status)
	fromMe := changed && tracked.FromMe
	body := tracked.Content
	conv := p.ConversationID
	if conv == "" {
		conv = tracked.ConversationID
	}

	if e.db != nil {
		stored, err := e.db.GetMessage(p.MessageID)
		if err != nil {
			return fmt.Errorf("get message: %w", err)
		}
		if stored != nil && realtime.DeliveryStatus(stored.Status).Advances(p.Status) {
			if _, err := e.db.UpdateMessageStatus(p.MessageID, string(p.Status)); err != nil {
				return fmt.Errorf("update status: %w", err)
			}
			changed = true
			fromMe = fromMe || stored.FromMe
			if body == "" {
				body = stored.Body
			}
			if conv == "" {
				conv = stored.ConversationID
			}
		}
	}
	if !changed {
		return nil
	}
	e.cacheSnapshot(conv)
	if !fromMe {
		return nil
	}

	switch p.Status {
	case realtime.StatusRead:
		e.notify(notify.Event{
			Type:           notify.TypeMessageRead,
			ConversationID: conv,
			MessageID:      p.MessageID,
			Text:           "Read: " + truncate(body, previewLen),
			Priority:       notify.PriorityNormal,
		})
	case realtime.StatusFailed:
		text := "Message failed to deliver"
		if p.Error != "" {
			text += ": " + p.Error
		}
		e.notify(notify.Event{
			Type:           notify.TypeDeliveryFailed,
			ConversationID: conv,
			MessageID:      p.MessageID,
			Text:           text,
			Priority:       notify.PriorityImportant,
		})
	}
	return nil
}

// BroadcastComplete notifies the sender of a finished bulk send.
func (e *Engine) BroadcastComplete(p realtime.BroadcastComplete) {
	title := p.Title
	if title == "" {
		title = "Broadcast"
	}
	text := fmt.Sprintf("%s delivered to %d recipients", title, p.RecipientCount-p.FailedCount)
	priority := notify.PriorityNormal
	if p.FailedCount > 0 {
		text += fmt.Sprintf(", %d failed", p.FailedCount)
		priority = notify.PriorityImportant
	}
	e.notify(notify.Event{
		Type:      notify.TypeBroadcastComplete,
		MessageID: p.BroadcastID,
		Text:      text,
		Priority:  priority,
	})
}

func (e *Engine) notify(ev notify.Event) {
	if e.notifier == nil {
		return
	}
	d := e.notifier.Notify(ev)
	e.logger.Debug("notification evaluated",
		zap.String("type", string(ev.Type)),
		zap.String("outcome", string(d.Outcome)),
		zap.String("reason", d.Reason))
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
