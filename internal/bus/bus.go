package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Delivery to a single subscriber preserves publish order.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
	dropped   int

	// Set for SubscribeAll: Publish appends to queue and pump feeds ch.
	reliable bool
	qmu      sync.Mutex
	queue    []Event
	wake     chan struct{}
	done     chan struct{}
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of event.Kind.
// A zero Timestamp is filled with the current time. Publish never blocks.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		if sub.reliable {
			sub.enqueue(evt)
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow subscribers lose events rather than stall publishers.
			sub.dropped++
		}
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer; events that do not fit are dropped.
// Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.add(&subscription{namespace: namespace, ch: make(chan Event, bufSize)})
}

// SubscribeAll is Subscribe without loss: events queue in memory until the
// subscriber reads them, in publish order. For consumers that must see
// every event, such as persistence.
func (b *Bus) SubscribeAll(namespace string) (<-chan Event, func()) {
	sub := &subscription{
		namespace: namespace,
		ch:        make(chan Event),
		reliable:  true,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go sub.pump()
	return b.add(sub)
}

func (b *Bus) add(sub *subscription) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			if sub.done != nil {
				close(sub.done)
			}
		})
	}
}

func (s *subscription) enqueue(evt Event) {
	s.qmu.Lock()
	s.queue = append(s.queue, evt)
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pump() {
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
		for {
			s.qmu.Lock()
			batch := s.queue
			s.queue = nil
			s.qmu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, evt := range batch {
				select {
				case s.ch <- evt:
				case <-s.done:
					return
				}
			}
		}
	}
}

// Pending returns the number of events queued for SubscribeAll subscribers
// and not yet read.
func (b *Bus) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sub := range b.subs {
		if sub.reliable {
			sub.qmu.Lock()
			n += len(sub.queue)
			sub.qmu.Unlock()
		}
	}
	return n
}

// Dropped returns the total number of events dropped across live subscribers.
func (b *Bus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sub := range b.subs {
		n += sub.dropped
	}
	return n
}
