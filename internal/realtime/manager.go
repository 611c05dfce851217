// Package realtime owns the live WebSocket connection to the messaging
// server: handshake, heartbeat, exponential-backoff reconnection and typed
// event fan-out.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/officechat/internal/bus"
	"github.com/matheus3301/officechat/internal/clock"
	"github.com/matheus3301/officechat/internal/metrics"
	"github.com/matheus3301/officechat/internal/status"
	"go.uber.org/zap"
)

var (
	// ErrNoCurrentUser is returned by Connect before SetCurrentUser.
	ErrNoCurrentUser = errors.New("realtime: no current user bound")
	// ErrReconnectExhausted is passed to OnError when retries run out.
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
)

var allStates = []string{
	string(status.Disconnected),
	string(status.Connecting),
	string(status.Connected),
	string(status.Reconnecting),
}

// Manager maintains a single authenticated, self-healing connection.
//
// Each dial bumps a generation counter; the reader goroutine and timers
// carry the generation they were started under and do nothing once it is
// superseded.
type Manager struct {
	cfg      Config
	dialer   Dialer
	clock    clock.Clock
	bus      *bus.Bus
	logger   *zap.Logger
	metrics  *metrics.Metrics
	machine  *status.Machine
	handlers registry

	mu             sync.Mutex
	user           *User
	conn           Conn
	gen            uint64
	intentional    bool
	attempts       int
	lastHeartbeat  time.Time
	reconnectTimer clock.Timer
	heartbeatTimer clock.Timer
	dialCancel     context.CancelFunc

	writeMu sync.Mutex
}

// New creates a disconnected manager. A nil dialer uses GorillaDialer.
func New(cfg Config, dialer Dialer, clk clock.Clock, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *Manager {
	cfg.defaults()
	if dialer == nil {
		dialer = GorillaDialer{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m.ConnectionState(string(status.Disconnected), allStates)
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		clock:   clk,
		bus:     b,
		logger:  logger,
		metrics: m,
		machine: status.NewMachine(b),
	}
}

// effects are callbacks collected under the lock and run after it is
// released.
type effects []func()

func (e *effects) add(f func()) { *e = append(*e, f) }

func (e effects) run() {
	for _, f := range e {
		f()
	}
}

// SetCurrentUser binds the identity used for the handshake.
func (m *Manager) SetCurrentUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = &u
}

// On merges h into the handler registry.
func (m *Manager) On(h Handlers) {
	m.handlers.merge(h)
}

// Connect opens the connection. It is a no-op while connecting or
// connected. Dial failures are not returned; they feed the reconnect loop.
//
// Connect blocks until the dial settles, at most Config.HandshakeTimeout.
// Callers that must not wait, such as lifecycle hooks, run it in a
// goroutine and follow progress through OnConnectionStateChange.
func (m *Manager) Connect() error {
	return m.connect(nil)
}

// Disconnect closes the connection intentionally. No reconnect follows.
func (m *Manager) Disconnect() {
	var fx effects
	m.mu.Lock()
	m.intentional = true
	m.gen++
	conn := m.teardownLocked()
	m.transitionLocked(status.Disconnected, &fx)
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("close socket", zap.Error(err))
		}
		m.logger.Info("realtime disconnected")
	}
	fx.run()
}

// Reconnect tears down the connection and starts a fresh one with the
// retry counter reset.
func (m *Manager) Reconnect() error {
	m.Disconnect()
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	return m.Connect()
}

// IsConnected reports whether the state is connected with an open socket.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.machine.Current() == status.Connected
}

// ConnectionState returns the current state.
func (m *Manager) ConnectionState() status.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Current()
}

// ReconnectAttempts returns the attempts made since the last successful open.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastHeartbeat returns when the last ping was written, or zero.
func (m *Manager) LastHeartbeat() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeat
}

// SendTypingIndicator tells the server the current user is typing in
// conversationID. Silently skipped when not connected.
func (m *Manager) SendTypingIndicator(conversationID string) {
	m.sendTyping(conversationID, true)
}

// StopTypingIndicator clears the typing flag for conversationID.
func (m *Manager) StopTypingIndicator(conversationID string) {
	m.sendTyping(conversationID, false)
}

func (m *Manager) sendTyping(conversationID string, typing bool) {
	m.mu.Lock()
	if m.user == nil || m.conn == nil || m.machine.Current() != status.Connected {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	u := *m.user
	m.mu.Unlock()

	err := m.write(conn, TypeTypingIndicator, TypingIndicator{
		ConversationID: conversationID,
		UserID:         u.ID,
		UserName:       u.Name,
		IsTyping:       typing,
	})
	if err != nil {
		m.logger.Warn("send typing indicator", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// connect runs a dial attempt. guard, when set, is checked under the lock
// and aborts the attempt if it returns false.
func (m *Manager) connect(guard func() bool) error {
	var fx effects
	m.mu.Lock()
	if guard != nil && !guard() {
		m.mu.Unlock()
		return nil
	}
	if m.user == nil {
		m.mu.Unlock()
		return ErrNoCurrentUser
	}
	current := m.machine.Current()
	if current == status.Connecting || current == status.Connected {
		m.mu.Unlock()
		return nil
	}
	if guard == nil && current == status.Disconnected {
		m.attempts = 0
	}
	m.intentional = false

	target, err := endpoint(m.cfg.URL, *m.user)
	if err != nil {
		stale := m.teardownLocked()
		m.transitionLocked(status.Disconnected, &fx)
		m.mu.Unlock()
		if stale != nil {
			_ = stale.Close()
		}
		m.logger.Error("invalid websocket url", zap.String("url", m.cfg.URL), zap.Error(err))
		m.reportError(err)
		fx.run()
		return err
	}

	stale := m.teardownLocked()
	m.gen++
	gen := m.gen
	m.transitionLocked(status.Connecting, &fx)
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	m.dialCancel = cancel
	m.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	fx.run()
	fx = nil

	conn, err := m.dialer.Dial(ctx, target)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	m.dialCancel = nil
	if err != nil {
		m.scheduleReconnectLocked(&fx)
		m.mu.Unlock()
		m.logger.Warn("websocket dial failed", zap.Error(err))
		m.reportError(fmt.Errorf("dial: %w", err))
		fx.run()
		return nil
	}

	m.conn = conn
	m.attempts = 0
	m.transitionLocked(status.Connected, &fx)
	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.heartbeat(gen) })
	userID := m.user.ID
	m.mu.Unlock()

	m.logger.Info("realtime connected", zap.String("user_id", userID))
	fx.run()
	go m.readLoop(gen, conn)
	return nil
}

// teardownLocked stops every timer, cancels an in-flight dial and detaches
// the socket. The caller closes the returned socket after unlocking.
func (m *Manager) teardownLocked() Conn {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	conn := m.conn
	m.conn = nil
	return conn
}

func (m *Manager) scheduleReconnectLocked(fx *effects) {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		attempts := m.attempts
		m.transitionLocked(status.Disconnected, fx)
		m.logger.Error("reconnect attempts exhausted", zap.Int("attempts", attempts))
		fx.add(func() {
			m.reportError(fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempts))
		})
		return
	}
	m.attempts++
	delay := BackoffDelay(m.cfg.ReconnectInterval, m.cfg.MaxBackoff, m.attempts)
	m.transitionLocked(status.Reconnecting, fx)
	gen := m.gen
	m.reconnectTimer = m.clock.AfterFunc(delay, func() { m.reconnectTick(gen) })
	m.metrics.ReconnectScheduled()
	m.logger.Info("reconnect scheduled",
		zap.Int("attempt", m.attempts),
		zap.Int("max_attempts", m.cfg.MaxReconnectAttempts),
		zap.Duration("delay", delay))
}

func (m *Manager) reconnectTick(gen uint64) {
	err := m.connect(func() bool {
		return gen == m.gen && m.machine.Current() == status.Reconnecting
	})
	if err != nil {
		m.logger.Warn("reconnect", zap.Error(err))
	}
}

func (m *Manager) transitionLocked(to status.State, fx *effects) {
	changed, err := m.machine.Transition(to)
	if err != nil {
		m.logger.Error("connection state", zap.Error(err))
		return
	}
	if !changed {
		return
	}
	m.metrics.ConnectionState(string(to), allStates)
	fx.add(func() {
		if h := m.handlers.get().OnConnectionStateChange; h != nil {
			h(to)
		}
	})
}

func (m *Manager) heartbeat(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil || m.machine.Current() != status.Connected {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	now := m.clock.Now()
	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.heartbeat(gen) })
	m.mu.Unlock()

	if err := m.write(conn, TypePing, ping{Timestamp: now.UnixMilli()}); err != nil {
		m.logger.Warn("heartbeat", zap.Error(err))
		return
	}
	m.mu.Lock()
	if gen == m.gen {
		m.lastHeartbeat = now
	}
	m.mu.Unlock()
}

func (m *Manager) write(conn Conn, typ string, payload any) error {
	data, err := json.Marshal(outgoing{Type: typ, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(data)
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		if !m.isCurrent(gen) {
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// handleClose drives reconnection after the socket of generation gen
// closes. Closes of superseded sockets and intentional closes are ignored.
func (m *Manager) handleClose(gen uint64, cause error) {
	var fx effects
	m.mu.Lock()
	if gen != m.gen || m.intentional {
		m.mu.Unlock()
		return
	}
	conn := m.teardownLocked()
	m.scheduleReconnectLocked(&fx)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if cleanClose(cause) {
		m.logger.Info("websocket closed by server", zap.Error(cause))
	} else {
		m.logger.Warn("websocket closed unexpectedly", zap.Error(cause))
		m.reportError(cause)
	}
	fx.run()
}

func (m *Manager) reportError(err error) {
	if h := m.handlers.get().OnError; h != nil {
		h(err)
	}
}

// dispatch decodes one frame and fans it out to the registered handler and
// the bus, in that order. Bad frames are logged and dropped.
func (m *Manager) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Warn("dropping malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
		m.metrics.FrameDropped("malformed")
		return
	}
	h := m.handlers.get()

	var ok bool
	switch env.Type {
	case TypeNewMessage:
		var p Message
		if ok = m.decode(env, &p); ok {
			if h.OnMessage != nil {
				h.OnMessage(p)
			}
			m.publish(bus.KindNewMessage, p)
		}
	case TypeMessageStatus:
		var p MessageStatus
		if ok = m.decode(env, &p); ok {
			if h.OnMessageStatus != nil {
				h.OnMessageStatus(p)
			}
			m.publish(bus.KindMessageStatus, p)
		}
	case TypeTypingIndicator:
		var p TypingIndicator
		if ok = m.decode(env, &p); ok {
			if h.OnTypingIndicator != nil {
				h.OnTypingIndicator(p)
			}
			m.publish(bus.KindTyping, p)
		}
	case TypeReactionAdded, TypeReactionRemoved:
		var p Reaction
		if ok = m.decode(env, &p); ok {
			p.Added = env.Type == TypeReactionAdded
			if h.OnReaction != nil {
				h.OnReaction(p)
			}
			m.publish(bus.KindReaction, p)
		}
	case TypeMessagePinned, TypeMessageUnpinned:
		var p Pin
		if ok = m.decode(env, &p); ok {
			p.Pinned = env.Type == TypeMessagePinned
			if h.OnMessagePinned != nil {
				h.OnMessagePinned(p)
			}
			m.publish(bus.KindPin, p)
		}
	case TypeBroadcastComplete:
		var p BroadcastComplete
		if ok = m.decode(env, &p); ok {
			if h.OnBroadcastComplete != nil {
				h.OnBroadcastComplete(p)
			}
			m.publish(bus.KindBroadcast, p)
		}
	default:
		m.logger.Debug("dropping unknown frame type", zap.String("type", env.Type))
		m.metrics.FrameDropped("unknown_type")
		return
	}
	if ok {
		m.metrics.FrameReceived(env.Type)
	}
}

func (m *Manager) decode(env Envelope, v any) bool {
	if len(env.Payload) == 0 {
		m.logger.Warn("dropping frame without payload", zap.String("type", env.Type))
		m.metrics.FrameDropped("malformed")
		return false
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		m.logger.Warn("dropping frame with bad payload", zap.String("type", env.Type), zap.Error(err))
		m.metrics.FrameDropped("malformed")
		return false
	}
	return true
}

func (m *Manager) publish(kind string, payload any) {
	m.bus.Publish(bus.Event{Kind: kind, Timestamp: m.clock.Now(), Payload: payload})
}
