// Package notify decides whether inbound events become user-facing
// notifications and manages their lifecycle: grouping, snooze, read state
// and dismissal.
package notify

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/officechat/internal/bus"
	"github.com/matheus3301/officechat/internal/clock"
	"github.com/matheus3301/officechat/internal/metrics"
	"go.uber.org/zap"
)

// DefaultGroupWindow is how close two messages from one sender must arrive
// to be folded into a single notification.
const DefaultGroupWindow = 30 * time.Second

var ErrNotFound = errors.New("notify: notification not found")

// Config tunes a Scheduler. Zero fields take defaults.
type Config struct {
	GroupWindow time.Duration
}

// Scheduler owns the notification list and the user's settings.
type Scheduler struct {
	cfg      Config
	settings *SettingsStore
	repo     Repository
	clock    clock.Clock
	bus      *bus.Bus
	logger   *zap.Logger
	metrics  *metrics.Metrics

	// settingsMu serializes UpdateSettings from clone to store.
	settingsMu sync.Mutex

	mu        sync.Mutex
	current   Settings
	items     map[string]*Notification
	seq       map[string]uint64
	nextSeq   uint64
	timers    map[string]clock.Timer
	listeners map[int]Listener
	nextID    int
}

// New creates a scheduler with default settings. Call Load to restore
// persisted settings and notifications. repo may be nil to keep
// notifications in memory only.
func New(cfg Config, settings *SettingsStore, repo Repository, clk clock.Clock, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.GroupWindow <= 0 {
		cfg.GroupWindow = DefaultGroupWindow
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:       cfg,
		settings:  settings,
		repo:      repo,
		clock:     clk,
		bus:       b,
		logger:    logger,
		metrics:   m,
		current:   DefaultSettings(),
		items:     make(map[string]*Notification),
		seq:       make(map[string]uint64),
		timers:    make(map[string]clock.Timer),
		listeners: make(map[int]Listener),
	}
}

// Load restores settings and notifications. Snoozed notifications are
// re-armed; those whose snooze already elapsed are re-evaluated at once.
func (s *Scheduler) Load() error {
	var errs []error
	if s.settings != nil {
		loaded, err := s.settings.Load()
		if err != nil {
			s.logger.Warn("load notification settings, using defaults", zap.Error(err))
			errs = append(errs, err)
		}
		s.mu.Lock()
		s.current = loaded
		s.mu.Unlock()
	}
	if s.repo == nil {
		return errors.Join(errs...)
	}
	rows, err := s.repo.ListNotifications()
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("list notifications: %w", err))...)
	}

	now := s.clock.Now()
	s.mu.Lock()
	// rows are newest first; assign sequence oldest first.
	for i := len(rows) - 1; i >= 0; i-- {
		n := fromRow(rows[i])
		s.items[n.ID] = n
		s.nextSeq++
		s.seq[n.ID] = s.nextSeq
		if n.State == StateSnoozed {
			wait := n.SnoozedUntil.Sub(now)
			if wait < 0 {
				wait = 0
			}
			s.armLocked(n.ID, wait)
		}
	}
	count := len(rows)
	s.mu.Unlock()

	s.logger.Info("notifications restored", zap.Int("count", count))
	return errors.Join(errs...)
}

// Settings returns a copy of the current settings.
func (s *Scheduler) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// UpdateSettings applies fn to a copy of the settings, writes the result
// durably and then makes it current. A failed write is logged and returned,
// but the new settings still take effect for this session.
func (s *Scheduler) UpdateSettings(fn func(*Settings)) error {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	s.mu.Lock()
	next := s.current.Clone()
	s.mu.Unlock()
	fn(&next)

	var err error
	if s.settings != nil {
		if err = s.settings.Save(next); err != nil {
			s.logger.Warn("persist notification settings", zap.Error(err))
		}
	}
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return err
}

func (s *Scheduler) SetQuietHours(enabled bool, start, end TimeOfDay) error {
	return s.UpdateSettings(func(st *Settings) {
		st.QuietHours = QuietHours{Enabled: enabled, Start: start, End: end}
	})
}

func (s *Scheduler) SetGrouping(enabled bool) error {
	return s.UpdateSettings(func(st *Settings) { st.Grouping = enabled })
}

func (s *Scheduler) SetSound(mode SoundMode) error {
	return s.UpdateSettings(func(st *Settings) { st.Sound = mode })
}

func (s *Scheduler) SetPreview(level PreviewLevel) error {
	return s.UpdateSettings(func(st *Settings) { st.Preview = level })
}

func (s *Scheduler) MuteConversation(conversationID string) error {
	return s.UpdateSettings(func(st *Settings) {
		o := st.override(conversationID)
		o.Muted = true
		st.setOverride(conversationID, o)
	})
}

// UnmuteConversation clears both mute and snooze for conversationID.
func (s *Scheduler) UnmuteConversation(conversationID string) error {
	return s.UpdateSettings(func(st *Settings) {
		st.setOverride(conversationID, ConversationOverride{})
	})
}

func (s *Scheduler) SnoozeConversation(conversationID string, until time.Time) error {
	return s.UpdateSettings(func(st *Settings) {
		o := st.override(conversationID)
		o.SnoozedUntil = &until
		st.setOverride(conversationID, o)
	})
}

// Notify evaluates ev against the current settings.
func (s *Scheduler) Notify(ev Event) Decision {
	return s.Evaluate(ev, s.Settings())
}

// Evaluate decides whether ev creates a notification, folds into an
// existing one, or is suppressed. Rules apply in order: conversation mute
// or snooze, quiet hours, then grouping.
func (s *Scheduler) Evaluate(ev Event, settings Settings) Decision {
	now := s.clock.Now()
	if ev.At.IsZero() {
		ev.At = now
	}
	if ev.Priority == "" {
		ev.Priority = PriorityNormal
	}

	if reason := suppression(ev.ConversationID, ev.Priority, settings, now); reason != "" {
		s.metrics.NotificationDecision(string(Suppressed))
		s.logger.Debug("notification suppressed",
			zap.String("type", string(ev.Type)),
			zap.String("conversation_id", ev.ConversationID),
			zap.String("reason", reason))
		return Decision{Outcome: Suppressed, Reason: reason}
	}

	s.mu.Lock()
	var (
		n  *Notification
		op Op
	)
	if target := s.groupTargetLocked(ev, settings); target != nil {
		n = target
		n.GroupCount++
		n.Message = fmt.Sprintf("%d new messages from %s", n.GroupCount, senderLabel(n.SenderName, n.SenderID))
		n.Timestamp = ev.At
		n.MessageID = ev.MessageID
		if ev.Priority.rank() > n.Priority.rank() {
			n.Priority = ev.Priority
		}
		op = OpGrouped
	} else {
		n = &Notification{
			ID:             uuid.NewString(),
			Type:           ev.Type,
			SenderID:       ev.SenderID,
			SenderName:     ev.SenderName,
			ConversationID: ev.ConversationID,
			MessageID:      ev.MessageID,
			Message:        previewText(ev, settings.Preview),
			Priority:       ev.Priority,
			Timestamp:      ev.At,
			GroupCount:     1,
			State:          StateActive,
		}
		s.items[n.ID] = n
		s.nextSeq++
		s.seq[n.ID] = s.nextSeq
		op = OpCreated
	}
	s.persistLocked(n)
	snapshot := *n
	listeners := s.listenersLocked()
	s.mu.Unlock()

	outcome := Created
	if op == OpGrouped {
		outcome = Grouped
	}
	s.metrics.NotificationDecision(string(outcome))
	s.emit(listeners, Change{Op: op, Notification: &snapshot})
	return Decision{Outcome: outcome, Sound: settings.Sound, Notification: &snapshot}
}

// suppression returns the reason ev must not surface, or "".
func suppression(conversationID string, p Priority, settings Settings, now time.Time) string {
	if o, ok := settings.Conversations[conversationID]; ok && conversationID != "" {
		reason := ""
		if o.Muted {
			reason = ReasonMuted
		} else if o.SnoozedUntil != nil && now.Before(*o.SnoozedUntil) {
			reason = ReasonConversationSnoozed
		}
		if reason != "" && !(p == PriorityUrgent && settings.UrgentBypassesMute) {
			return reason
		}
	}
	if settings.QuietHours.Active(now) && p != PriorityUrgent {
		return ReasonQuietHours
	}
	return ""
}

// groupTargetLocked finds the most recent unread new_message notification
// from the same sender whose last arrival is within the group window.
func (s *Scheduler) groupTargetLocked(ev Event, settings Settings) *Notification {
	if !settings.Grouping || ev.Type != TypeNewMessage {
		return nil
	}
	if ev.SenderID == "" && ev.SenderName == "" {
		return nil
	}
	var best *Notification
	for _, n := range s.items {
		if n.Type != TypeNewMessage || n.Read || n.State != StateActive {
			continue
		}
		if !sameSender(n, ev) {
			continue
		}
		gap := ev.At.Sub(n.Timestamp)
		if gap < 0 {
			gap = -gap
		}
		if gap > s.cfg.GroupWindow {
			continue
		}
		if best == nil || s.seq[n.ID] > s.seq[best.ID] {
			best = n
		}
	}
	return best
}

func sameSender(n *Notification, ev Event) bool {
	if n.SenderID != "" && ev.SenderID != "" {
		return n.SenderID == ev.SenderID
	}
	return n.SenderName == ev.SenderName
}

func senderLabel(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func previewText(ev Event, level PreviewLevel) string {
	sender := senderLabel(ev.SenderName, ev.SenderID)
	switch ev.Type {
	case TypeNewMessage:
		switch level {
		case PreviewCountOnly:
			return "1 new message"
		case PreviewSenderOnly:
			return "New message from " + sender
		}
		if ev.Text == "" {
			return "New message from " + sender
		}
		return ev.Text
	case TypeMessageRead:
		if ev.Text != "" {
			return ev.Text
		}
		return sender + " read your message"
	case TypeBroadcastComplete:
		if ev.Text != "" {
			return ev.Text
		}
		return "Broadcast complete"
	case TypeDeliveryFailed:
		if ev.Text != "" {
			return ev.Text
		}
		return "Message could not be delivered"
	}
	return ev.Text
}

// Snooze hides a notification and schedules it to come back unread after
// d. On return it is re-evaluated against the settings at that moment.
func (s *Scheduler) Snooze(id string, d time.Duration) error {
	s.mu.Lock()
	n, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("snooze %s: %w", id, ErrNotFound)
	}
	s.stopTimerLocked(id)
	n.State = StateSnoozed
	n.SnoozedUntil = s.clock.Now().Add(d)
	s.armLocked(id, d)
	s.persistLocked(n)
	snapshot := *n
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.logger.Debug("notification snoozed", zap.String("id", id), zap.Duration("for", d))
	s.emit(listeners, Change{Op: OpSnoozed, Notification: &snapshot})
	return nil
}

func (s *Scheduler) armLocked(id string, d time.Duration) {
	s.timers[id] = s.clock.AfterFunc(d, func() { s.resurface(id) })
}

func (s *Scheduler) stopTimerLocked(id string) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) resurface(id string) {
	s.mu.Lock()
	n, ok := s.items[id]
	if !ok || n.State != StateSnoozed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	now := s.clock.Now()
	n.SnoozedUntil = time.Time{}
	op := OpResurfaced
	if reason := suppression(n.ConversationID, n.Priority, s.current, now); reason != "" {
		n.State = StateSuppressed
		op = OpSuppressed
		s.logger.Debug("snoozed notification suppressed on return", zap.String("id", id), zap.String("reason", reason))
	} else {
		n.State = StateActive
		n.Read = false
	}
	s.persistLocked(n)
	snapshot := *n
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.metrics.NotificationDecision(string(op))
	s.emit(listeners, Change{Op: op, Notification: &snapshot})
}

// Dismiss removes a notification permanently and cancels its snooze.
func (s *Scheduler) Dismiss(id string) error {
	s.mu.Lock()
	n, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("dismiss %s: %w", id, ErrNotFound)
	}
	s.stopTimerLocked(id)
	delete(s.items, id)
	delete(s.seq, id)
	if s.repo != nil {
		if err := s.repo.DeleteNotification(id); err != nil {
			s.logger.Warn("delete notification", zap.String("id", id), zap.Error(err))
		}
	}
	snapshot := *n
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.emit(listeners, Change{Op: OpDismissed, Notification: &snapshot})
	return nil
}

// ClearAll dismisses every notification.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	for id := range s.timers {
		s.stopTimerLocked(id)
	}
	s.items = make(map[string]*Notification)
	s.seq = make(map[string]uint64)
	if s.repo != nil {
		if err := s.repo.DeleteAllNotifications(); err != nil {
			s.logger.Warn("delete all notifications", zap.Error(err))
		}
	}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.emit(listeners, Change{Op: OpCleared})
}

// MarkAsRead sets the read flag. A snoozed notification marked read will not
// come back.
func (s *Scheduler) MarkAsRead(id string) error {
	s.mu.Lock()
	n, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("mark read %s: %w", id, ErrNotFound)
	}
	changed := s.markReadLocked(n)
	snapshot := *n
	listeners := s.listenersLocked()
	s.mu.Unlock()

	if changed {
		s.emit(listeners, Change{Op: OpRead, Notification: &snapshot})
	}
	return nil
}

// MarkAllAsRead marks every unread notification read.
func (s *Scheduler) MarkAllAsRead() {
	s.mu.Lock()
	var changes []Change
	for _, n := range s.sortedLocked() {
		if s.markReadLocked(n) {
			snapshot := *n
			changes = append(changes, Change{Op: OpRead, Notification: &snapshot})
		}
	}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, c := range changes {
		s.emit(listeners, c)
	}
}

func (s *Scheduler) markReadLocked(n *Notification) bool {
	if n.Read && n.State != StateSnoozed {
		return false
	}
	if n.State == StateSnoozed {
		s.stopTimerLocked(n.ID)
		n.State = StateActive
		n.SnoozedUntil = time.Time{}
	}
	n.Read = true
	s.persistLocked(n)
	return true
}

// UnreadCount counts unread notifications in the active list.
func (s *Scheduler) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.items {
		if !n.Read && n.State == StateActive {
			count++
		}
	}
	return count
}

// Get returns a copy of the notification with id.
func (s *Scheduler) Get(id string) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return Notification{}, false
	}
	return *n, true
}

// Active returns visible notifications, newest first.
func (s *Scheduler) Active() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.sortedLocked() {
		if n.State == StateActive {
			out = append(out, *n)
		}
	}
	return out
}

// History returns every retained notification, newest first, including
// snoozed and suppressed ones.
func (s *Scheduler) History() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.sortedLocked()
	out := make([]Notification, 0, len(sorted))
	for _, n := range sorted {
		out = append(out, *n)
	}
	return out
}

func (s *Scheduler) sortedLocked() []*Notification {
	out := make([]*Notification, 0, len(s.items))
	for _, n := range s.items {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	return out
}

// Subscribe registers l for every change and returns its unsubscribe func.
func (s *Scheduler) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Stop cancels every pending snooze timer. Snoozed notifications stay
// persisted and are re-armed by the next Load.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.timers {
		s.stopTimerLocked(id)
	}
}

func (s *Scheduler) listenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *Scheduler) persistLocked(n *Notification) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveNotification(n.toRow(s.clock.Now())); err != nil {
		s.logger.Warn("persist notification", zap.String("id", n.ID), zap.Error(err))
	}
}

func (s *Scheduler) emit(listeners []Listener, c Change) {
	s.bus.Publish(bus.Event{Kind: bus.KindNotification, Timestamp: s.clock.Now(), Payload: c})
	for _, l := range listeners {
		l(c)
	}
}
