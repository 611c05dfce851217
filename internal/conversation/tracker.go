// Package conversation aggregates per-conversation session state from
// realtime events: messages, delivery status, typing users, reactions and
// pins.
package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/officechat/internal/clock"
	"github.com/matheus3301/officechat/internal/realtime"
	"go.uber.org/zap"
)

// DefaultTypingTTL clears a typing flag that was never explicitly stopped.
const DefaultTypingTTL = 5 * time.Second

// Message is a tracked message. Reactions maps emoji to reacting user ids.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	FromMe         bool
	Status         realtime.DeliveryStatus
	Timestamp      time.Time
	Reactions      map[string][]string
}

// Snapshot is a read-only copy of one conversation.
type Snapshot struct {
	ConversationID string
	Messages       []Message
	Typing         []string
	Pinned         []string
}

type typist struct {
	name  string
	timer clock.Timer
}

type conversation struct {
	messages []*Message
	index    map[string]*Message
	typing   map[string]*typist
	pinned   map[string]bool
}

func newConversation() *conversation {
	return &conversation{
		index:  make(map[string]*Message),
		typing: make(map[string]*typist),
		pinned: make(map[string]bool),
	}
}

// Tracker holds state for every conversation seen this session.
type Tracker struct {
	clock     clock.Clock
	logger    *zap.Logger
	typingTTL time.Duration

	mu    sync.Mutex
	convs map[string]*conversation
}

// NewTracker creates an empty tracker. A zero typingTTL uses DefaultTypingTTL.
func NewTracker(typingTTL time.Duration, clk clock.Clock, logger *zap.Logger) *Tracker {
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{clock: clk, logger: logger, typingTTL: typingTTL, convs: make(map[string]*conversation)}
}

func (t *Tracker) convLocked(id string) *conversation {
	c, ok := t.convs[id]
	if !ok {
		c = newConversation()
		t.convs[id] = c
	}
	return c
}

// AddMessage appends msg in arrival order. Duplicate ids are ignored and
// reported as false. A message from a sender who was typing clears the
// typing flag.
func (t *Tracker) AddMessage(msg Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.convLocked(msg.ConversationID)
	if _, dup := c.index[msg.ID]; dup {
		return false
	}
	m := msg
	if m.Timestamp.IsZero() {
		m.Timestamp = t.clock.Now()
	}
	if m.Status == "" {
		m.Status = realtime.StatusSent
	}
	m.Reactions = nil
	c.messages = append(c.messages, &m)
	c.index[m.ID] = &m
	if ty, ok := c.typing[m.SenderID]; ok {
		ty.timer.Stop()
		delete(c.typing, m.SenderID)
	}
	return true
}

// FromRealtime converts a new_message payload.
func FromRealtime(p realtime.Message, fromMe bool) Message {
	m := Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		SenderName:     p.SenderName,
		Content:        p.Content,
		FromMe:         fromMe,
		Status:         realtime.StatusDelivered,
	}
	if fromMe {
		m.Status = realtime.StatusSent
	}
	if p.Timestamp > 0 {
		m.Timestamp = time.UnixMilli(p.Timestamp)
	}
	return m
}

// UpdateStatus moves a message forward along sent → delivered → read.
// Backward moves are ignored; failed only replaces sent. It reports whether
// the status changed.
func (t *Tracker) UpdateStatus(messageID string, status realtime.DeliveryStatus) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.findLocked(messageID)
	if m == nil {
		return Message{}, false
	}
	if !m.Status.Advances(status) {
		return *m, false
	}
	m.Status = status
	return copyMessage(m), true
}

func (t *Tracker) findLocked(messageID string) *Message {
	for _, c := range t.convs {
		if m, ok := c.index[messageID]; ok {
			return m
		}
	}
	return nil
}

// SetTyping records a typing indicator. A true flag expires after the
// typing TTL unless refreshed.
func (t *Tracker) SetTyping(ti realtime.TypingIndicator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.convLocked(ti.ConversationID)
	if ty, ok := c.typing[ti.UserID]; ok {
		ty.timer.Stop()
		delete(c.typing, ti.UserID)
	}
	if !ti.IsTyping {
		return
	}
	conv, user := ti.ConversationID, ti.UserID
	ty := &typist{name: ti.UserName}
	ty.timer = t.clock.AfterFunc(t.typingTTL, func() { t.expireTyping(conv, user, ty) })
	c.typing[user] = ty
}

func (t *Tracker) expireTyping(conv, user string, ty *typist) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.convs[conv]
	if !ok || c.typing[user] != ty {
		return
	}
	delete(c.typing, user)
	t.logger.Debug("typing indicator expired", zap.String("conversation_id", conv), zap.String("user_id", user))
}

// TypingUsers returns display names of users typing in conversationID.
func (t *Tracker) TypingUsers(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.convs[conversationID]
	if !ok {
		return nil
	}
	return typingNames(c)
}

func typingNames(c *conversation) []string {
	names := make([]string, 0, len(c.typing))
	for id, ty := range c.typing {
		if ty.name != "" {
			names = append(names, ty.name)
		} else {
			names = append(names, id)
		}
	}
	sort.Strings(names)
	return names
}

// ApplyReaction adds or removes a user's reaction.
func (t *Tracker) ApplyReaction(r realtime.Reaction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.findLocked(r.MessageID)
	if m == nil {
		return false
	}
	users := m.Reactions[r.Emoji]
	idx := -1
	for i, u := range users {
		if u == r.UserID {
			idx = i
			break
		}
	}
	switch {
	case r.Added && idx < 0:
		if m.Reactions == nil {
			m.Reactions = make(map[string][]string)
		}
		m.Reactions[r.Emoji] = append(users, r.UserID)
	case !r.Added && idx >= 0:
		users = append(users[:idx:idx], users[idx+1:]...)
		if len(users) == 0 {
			delete(m.Reactions, r.Emoji)
		} else {
			m.Reactions[r.Emoji] = users
		}
	default:
		return false
	}
	return true
}

// ApplyPin pins or unpins a message.
func (t *Tracker) ApplyPin(p realtime.Pin) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.convLocked(p.ConversationID)
	if p.Pinned {
		c.pinned[p.MessageID] = true
	} else {
		delete(c.pinned, p.MessageID)
	}
}

// Snapshot copies the state of conversationID.
func (t *Tracker) Snapshot(conversationID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.convs[conversationID]
	if !ok {
		return Snapshot{}, false
	}
	s := Snapshot{ConversationID: conversationID, Typing: typingNames(c)}
	for _, m := range c.messages {
		s.Messages = append(s.Messages, copyMessage(m))
	}
	for id := range c.pinned {
		s.Pinned = append(s.Pinned, id)
	}
	sort.Strings(s.Pinned)
	return s, true
}

// Conversations lists tracked conversation ids.
func (t *Tracker) Conversations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.convs))
	for id := range t.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop cancels every typing timer.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.convs {
		for id, ty := range c.typing {
			ty.timer.Stop()
			delete(c.typing, id)
		}
	}
}

func copyMessage(m *Message) Message {
	out := *m
	if m.Reactions != nil {
		out.Reactions = make(map[string][]string, len(m.Reactions))
		for k, v := range m.Reactions {
			out.Reactions[k] = append([]string(nil), v...)
		}
	}
	return out
}
