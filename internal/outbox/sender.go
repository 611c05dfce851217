package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/officechat/internal/bus"
	"github.com/matheus3301/officechat/internal/metrics"
	"github.com/matheus3301/officechat/internal/restapi"
	"github.com/matheus3301/officechat/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultRate         = 5
	DefaultBurst        = 3
)

// MessageSender delivers one message to the server. *restapi.Client
// implements it.
type MessageSender interface {
	SendMessage(ctx context.Context, req restapi.SendMessageRequest) (*restapi.SentMessage, error)
}

// Gate reports whether sends should be attempted. *offline.Detector
// implements it.
type Gate interface {
	IsOnline() bool
}

type Config struct {
	PollInterval time.Duration
	// Rate is sends per second; Burst the bucket size.
	Rate  float64
	Burst int
}

// Ack is the payload of bus.KindSendAck.
type Ack struct {
	ClientMsgID    string
	ServerMsgID    string
	ConversationID string
	Body           string
	Timestamp      int64
}

// Failure is the payload of bus.KindSendFailed.
type Failure struct {
	ClientMsgID    string
	ConversationID string
	Body           string
	Error          string
}

// Sender drains the outbox through the REST API while the network is up.
type Sender struct {
	cfg     Config
	db      *store.DB
	api     MessageSender
	gate    Gate
	bus     *bus.Bus
	logger  *zap.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter
	wake    chan struct{}
	cancel  context.CancelFunc
}

// NewSender creates a new outbox sender. A nil gate always sends.
func NewSender(cfg Config, db *store.DB, api MessageSender, gate Gate, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *Sender {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		cfg:     cfg,
		db:      db,
		api:     api,
		gate:    gate,
		bus:     b,
		logger:  logger,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		wake:    make(chan struct{}, 1),
	}
}

// Queue persists an outgoing message and shows it optimistically with
// status "sending". It returns the client message id.
func (s *Sender) Queue(conversationID, body string) (string, error) {
	if conversationID == "" {
		return "", errors.New("outbox: conversation id is required")
	}
	clientID := uuid.NewString()
	if err := s.db.QueueOutbox(clientID, conversationID, body); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}
	s.upsertOwn(clientID, conversationID, body, "sending", time.Now().UnixMilli())
	s.kick()
	return clientID, nil
}

func (s *Sender) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start begins polling the outbox for pending messages. Entries interrupted
// mid-send by a previous run go back to the queue first.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.requeueStale()
	online, unsub := s.bus.Subscribe(bus.KindNetworkOnline, 4)
	go func() {
		defer unsub()
		s.loop(ctx, online)
	}()
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) requeueStale() {
	entries, err := s.db.ListOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.Status == "sending" {
			_ = s.db.RequeueOutbox(e.ClientMsgID)
		}
	}
}

func (s *Sender) loop(ctx context.Context, online <-chan bus.Event) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.wake:
		case <-online:
		case <-ctx.Done():
			return
		}
		s.processPending(ctx)
	}
}

func (s *Sender) online() bool {
	return s.gate == nil || s.gate.IsOnline()
}

func (s *Sender) processPending(ctx context.Context) {
	if !s.online() {
		return
	}
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		if !s.online() {
			return
		}
		if !s.send(ctx, entry) {
			return
		}
	}
}

// send delivers one entry. It returns false when draining should pause.
func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) bool {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return true
	}

	sent, err := s.api.SendMessage(ctx, restapi.SendMessageRequest{
		ConversationID:  entry.ConversationID,
		Content:         entry.Body,
		ClientMessageID: entry.ClientMsgID,
	})
	if err != nil {
		var apiErr *restapi.APIError
		if !errors.As(err, &apiErr) || apiErr.Retryable() {
			// Transport trouble: keep it queued for the next pass.
			s.logger.Warn("send deferred", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.RequeueOutbox(entry.ClientMsgID)
			s.metrics.OutboxResult("requeued")
			return false
		}
		s.fail(entry, err)
		return true
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, sent.ID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	ts := sent.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	s.upsertOwn(entry.ClientMsgID, entry.ConversationID, entry.Body, "sent", ts)
	if sent.ID != "" && sent.ID != entry.ClientMsgID {
		if err := s.db.RenameMessage(entry.ConversationID, entry.ClientMsgID, sent.ID); err != nil {
			s.logger.Warn("failed to rename optimistic message", zap.Error(err))
		}
	}

	s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("server_msg_id", sent.ID))
	s.metrics.OutboxResult("sent")
	s.bus.Publish(bus.Event{
		Kind:      bus.KindSendAck,
		Timestamp: time.Now(),
		Payload: Ack{
			ClientMsgID:    entry.ClientMsgID,
			ServerMsgID:    sent.ID,
			ConversationID: entry.ConversationID,
			Body:           entry.Body,
			Timestamp:      ts,
		},
	})
	return true
}

func (s *Sender) fail(entry store.OutboxEntry, err error) {
	s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
	s.upsertOwn(entry.ClientMsgID, entry.ConversationID, entry.Body, "failed", entry.CreatedAt)
	s.metrics.OutboxResult("failed")
	s.bus.Publish(bus.Event{
		Kind:      bus.KindSendFailed,
		Timestamp: time.Now(),
		Payload: Failure{
			ClientMsgID:    entry.ClientMsgID,
			ConversationID: entry.ConversationID,
			Body:           entry.Body,
			Error:          err.Error(),
		},
	})
}

// upsertOwn writes the local copy of an outgoing message.
func (s *Sender) upsertOwn(clientID, conversationID, body, status string, ts int64) {
	if err := s.db.UpsertMessage(&store.Message{
		ConversationID: conversationID,
		MsgID:          clientID,
		Body:           body,
		MessageType:    "text",
		FromMe:         true,
		Status:         status,
		Timestamp:      ts,
	}); err != nil {
		s.logger.Warn("failed to upsert outgoing message", zap.Error(err))
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload:   map[string]string{"conversation_id": conversationID, "msg_id": clientID},
	})
}
