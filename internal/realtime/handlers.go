package realtime

import (
	"sync"

	"github.com/matheus3301/officechat/internal/status"
)

// Handlers are per-kind callbacks. Nil fields leave the current handler for
// that kind in place.
type Handlers struct {
	OnMessage               func(Message)
	OnMessageStatus         func(MessageStatus)
	OnTypingIndicator       func(TypingIndicator)
	OnReaction              func(Reaction)
	OnMessagePinned         func(Pin)
	OnBroadcastComplete     func(BroadcastComplete)
	OnConnectionStateChange func(status.State)
	OnError                 func(error)
}

// registry holds at most one handler per kind; later registrations replace
// earlier ones.
type registry struct {
	mu sync.RWMutex
	h  Handlers
}

func (r *registry) merge(h Handlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.OnMessage != nil {
		r.h.OnMessage = h.OnMessage
	}
	if h.OnMessageStatus != nil {
		r.h.OnMessageStatus = h.OnMessageStatus
	}
	if h.OnTypingIndicator != nil {
		r.h.OnTypingIndicator = h.OnTypingIndicator
	}
	if h.OnReaction != nil {
		r.h.OnReaction = h.OnReaction
	}
	if h.OnMessagePinned != nil {
		r.h.OnMessagePinned = h.OnMessagePinned
	}
	if h.OnBroadcastComplete != nil {
		r.h.OnBroadcastComplete = h.OnBroadcastComplete
	}
	if h.OnConnectionStateChange != nil {
		r.h.OnConnectionStateChange = h.OnConnectionStateChange
	}
	if h.OnError != nil {
		r.h.OnError = h.OnError
	}
}

func (r *registry) get() Handlers {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.h
}
