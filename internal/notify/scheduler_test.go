package notify

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/officechat/internal/clock"
	"github.com/matheus3301/officechat/internal/storage"
	"github.com/matheus3301/officechat/internal/store"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *clock.Fake, *storage.Memory) {
	t.Helper()
	clk := clock.NewFake(now)
	kv := storage.NewMemory()
	s := New(Config{}, NewSettingsStore(kv), nil, clk, nil, nil, nil)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s, clk, kv
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, _, err := store.OpenMigrated(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func fromAlice(text string) Event {
	return Event{Type: TypeNewMessage, SenderID: "s-1", SenderName: "Alice", ConversationID: "C1", Text: text}
}

func quiet(t *testing.T, s *Scheduler) {
	t.Helper()
	start, _ := ParseTimeOfDay("22:00")
	end, _ := ParseTimeOfDay("08:00")
	if err := s.SetQuietHours(true, start, end); err != nil {
		t.Fatal(err)
	}
}

func TestQuietHoursActive(t *testing.T) {
	tests := []struct {
		name         string
		q            QuietHours
		hour, minute int
		wantActive   bool
	}{
		{"wrap late evening", QuietHours{true, TimeOfDay{22, 0}, TimeOfDay{8, 0}}, 23, 30, true},
		{"wrap early morning", QuietHours{true, TimeOfDay{22, 0}, TimeOfDay{8, 0}}, 7, 59, true},
		{"wrap end exclusive", QuietHours{true, TimeOfDay{22, 0}, TimeOfDay{8, 0}}, 8, 0, false},
		{"wrap midday", QuietHours{true, TimeOfDay{22, 0}, TimeOfDay{8, 0}}, 12, 0, false},
		{"same day inside", QuietHours{true, TimeOfDay{12, 0}, TimeOfDay{13, 30}}, 13, 0, true},
		{"same day outside", QuietHours{true, TimeOfDay{12, 0}, TimeOfDay{13, 30}}, 14, 0, false},
		{"start equals end", QuietHours{true, TimeOfDay{9, 0}, TimeOfDay{9, 0}}, 9, 0, false},
		{"disabled", QuietHours{false, TimeOfDay{0, 0}, TimeOfDay{23, 59}}, 12, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Active(at(tt.hour, tt.minute)); got != tt.wantActive {
				t.Errorf("Active(%02d:%02d) = %v, want %v", tt.hour, tt.minute, got, tt.wantActive)
			}
		})
	}
}

func TestQuietHoursSuppressesAllButUrgent(t *testing.T) {
	s, _, _ := newTestScheduler(t, at(23, 30))
	quiet(t, s)

	d := s.Notify(fromAlice("see you tomorrow"))
	if d.Outcome != Suppressed || d.Reason != ReasonQuietHours {
		t.Errorf("normal: %+v, want suppressed by quiet hours", d)
	}

	ev := fromAlice("fire drill moved")
	ev.Priority = PriorityUrgent
	d = s.Notify(ev)
	if d.Outcome != Created {
		t.Errorf("urgent: outcome = %s, want created", d.Outcome)
	}
	if len(s.Active()) != 1 || s.UnreadCount() != 1 {
		t.Errorf("active = %d, unread = %d; want 1, 1", len(s.Active()), s.UnreadCount())
	}
}

func TestGroupingWindow(t *testing.T) {
	t.Run("5s apart", func(t *testing.T) {
		s, clk, _ := newTestScheduler(t, at(10, 0))
		s.Notify(fromAlice("hi"))
		clk.Advance(5 * time.Second)
		d := s.Notify(fromAlice("are you there?"))

		if d.Outcome != Grouped {
			t.Fatalf("second outcome = %s, want grouped", d.Outcome)
		}
		active := s.Active()
		if len(active) != 1 {
			t.Fatalf("active = %d, want 1", len(active))
		}
		if active[0].Message != "2 new messages from Alice" {
			t.Errorf("message = %q", active[0].Message)
		}
		if active[0].GroupCount != 2 {
			t.Errorf("group count = %d", active[0].GroupCount)
		}
	})

	t.Run("45s apart", func(t *testing.T) {
		s, clk, _ := newTestScheduler(t, at(10, 0))
		s.Notify(fromAlice("hi"))
		clk.Advance(45 * time.Second)
		d := s.Notify(fromAlice("are you there?"))

		if d.Outcome != Created {
			t.Fatalf("second outcome = %s, want created", d.Outcome)
		}
		if len(s.Active()) != 2 {
			t.Errorf("active = %d, want 2", len(s.Active()))
		}
	})

	t.Run("window slides with each arrival", func(t *testing.T) {
		s, clk, _ := newTestScheduler(t, at(10, 0))
		s.Notify(fromAlice("1"))
		clk.Advance(20 * time.Second)
		s.Notify(fromAlice("2"))
		clk.Advance(20 * time.Second)
		s.Notify(fromAlice("3"))

		active := s.Active()
		if len(active) != 1 || active[0].Message != "3 new messages from Alice" {
			t.Errorf("active = %+v", active)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		s, clk, _ := newTestScheduler(t, at(10, 0))
		_ = s.SetGrouping(false)
		s.Notify(fromAlice("hi"))
		clk.Advance(time.Second)
		s.Notify(fromAlice("again"))
		if len(s.Active()) != 2 {
			t.Errorf("active = %d, want 2", len(s.Active()))
		}
	})

	t.Run("read notification is not a target", func(t *testing.T) {
		s, clk, _ := newTestScheduler(t, at(10, 0))
		first := s.Notify(fromAlice("hi"))
		_ = s.MarkAsRead(first.Notification.ID)
		clk.Advance(time.Second)
		if d := s.Notify(fromAlice("again")); d.Outcome != Created {
			t.Errorf("outcome = %s, want created", d.Outcome)
		}
	})

	t.Run("different senders", func(t *testing.T) {
		s, clk, _ := newTestScheduler(t, at(10, 0))
		s.Notify(fromAlice("hi"))
		clk.Advance(time.Second)
		s.Notify(Event{Type: TypeNewMessage, SenderID: "s-2", SenderName: "Bob", ConversationID: "C2", Text: "hey"})
		if len(s.Active()) != 2 {
			t.Errorf("active = %d, want 2", len(s.Active()))
		}
	})
}

func TestMutedConversation(t *testing.T) {
	s, _, _ := newTestScheduler(t, at(10, 0))
	if err := s.MuteConversation("C1"); err != nil {
		t.Fatal(err)
	}

	if d := s.Notify(fromAlice("hi")); d.Outcome != Suppressed || d.Reason != ReasonMuted {
		t.Errorf("muted normal: %+v", d)
	}
	urgent := fromAlice("urgent")
	urgent.Priority = PriorityUrgent
	if d := s.Notify(urgent); d.Outcome != Created {
		t.Errorf("muted urgent with override: %s, want created", d.Outcome)
	}

	_ = s.UpdateSettings(func(st *Settings) { st.UrgentBypassesMute = false })
	if d := s.Notify(urgent); d.Outcome != Suppressed {
		t.Errorf("muted urgent without override: %s, want suppressed", d.Outcome)
	}

	_ = s.UnmuteConversation("C1")
	if d := s.Notify(fromAlice("back")); d.Outcome == Suppressed {
		t.Error("unmuted conversation still suppressed")
	}
}

func TestSnoozedConversation(t *testing.T) {
	s, clk, _ := newTestScheduler(t, at(10, 0))
	_ = s.SnoozeConversation("C1", at(11, 0))

	if d := s.Notify(fromAlice("hi")); d.Reason != ReasonConversationSnoozed {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonConversationSnoozed)
	}
	clk.Set(at(11, 0))
	if d := s.Notify(fromAlice("hi")); d.Outcome != Created {
		t.Errorf("after snooze: %s, want created", d.Outcome)
	}
}

func TestSnoozeResurfacesUnread(t *testing.T) {
	s, clk, _ := newTestScheduler(t, at(10, 0))
	d := s.Notify(fromAlice("hi"))
	id := d.Notification.ID

	if err := s.Snooze(id, 15*time.Minute); err != nil {
		t.Fatal(err)
	}
	if len(s.Active()) != 0 || s.UnreadCount() != 0 {
		t.Fatal("snoozed notification still visible")
	}

	clk.Advance(15 * time.Minute)
	n, _ := s.Get(id)
	if n.State != StateActive || n.Read {
		t.Errorf("after snooze: state = %s, read = %v", n.State, n.Read)
	}
	if s.UnreadCount() != 1 {
		t.Errorf("unread = %d, want 1", s.UnreadCount())
	}
}

func TestSnoozeReSuppressedByQuietHours(t *testing.T) {
	s, clk, _ := newTestScheduler(t, at(21, 50))
	quiet(t, s)

	d := s.Notify(fromAlice("last question"))
	if d.Outcome != Created {
		t.Fatalf("outcome = %s before quiet hours", d.Outcome)
	}
	_ = s.Snooze(d.Notification.ID, 15*time.Minute)

	clk.Advance(15 * time.Minute)
	n, _ := s.Get(d.Notification.ID)
	if n.State != StateSuppressed {
		t.Errorf("state at 22:05 = %s, want suppressed", n.State)
	}
	if len(s.Active()) != 0 || s.UnreadCount() != 0 {
		t.Error("re-suppressed notification surfaced")
	}
	if len(s.History()) != 1 {
		t.Errorf("history = %d, want 1", len(s.History()))
	}
}

func TestDismissCancelsSnooze(t *testing.T) {
	s, clk, _ := newTestScheduler(t, at(10, 0))
	d := s.Notify(fromAlice("hi"))
	_ = s.Snooze(d.Notification.ID, time.Minute)

	if err := s.Dismiss(d.Notification.ID); err != nil {
		t.Fatal(err)
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d after dismiss", clk.Pending())
	}
	clk.Advance(time.Hour)
	if len(s.History()) != 0 {
		t.Error("dismissed notification came back")
	}
	if err := s.Dismiss(d.Notification.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Dismiss error = %v, want ErrNotFound", err)
	}
}

func TestMarkReadWhileSnoozedPreventsReturn(t *testing.T) {
	s, clk, _ := newTestScheduler(t, at(10, 0))
	d := s.Notify(fromAlice("hi"))
	_ = s.Snooze(d.Notification.ID, time.Minute)
	_ = s.MarkAsRead(d.Notification.ID)

	clk.Advance(time.Hour)
	n, _ := s.Get(d.Notification.ID)
	if !n.Read || s.UnreadCount() != 0 {
		t.Errorf("notification = %+v, unread = %d", n, s.UnreadCount())
	}
}

func TestMarkAsReadKeepsHistory(t *testing.T) {
	s, _, _ := newTestScheduler(t, at(10, 0))
	s.Notify(fromAlice("hi"))
	s.Notify(Event{Type: TypeBroadcastComplete, Text: "Exam reminder sent to 120 students"})
	s.Notify(Event{Type: TypeDeliveryFailed, ConversationID: "C3"})

	if s.UnreadCount() != 3 {
		t.Fatalf("unread = %d, want 3", s.UnreadCount())
	}
	first := s.Active()[0]
	_ = s.MarkAsRead(first.ID)
	if s.UnreadCount() != 2 {
		t.Errorf("unread = %d, want 2", s.UnreadCount())
	}
	s.MarkAllAsRead()
	if s.UnreadCount() != 0 {
		t.Errorf("unread = %d, want 0", s.UnreadCount())
	}
	if len(s.History()) != 3 || len(s.Active()) != 3 {
		t.Error("mark-as-read removed notifications")
	}
	if err := s.MarkAsRead("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestClearAll(t *testing.T) {
	s, clk, _ := newTestScheduler(t, at(10, 0))
	d := s.Notify(fromAlice("hi"))
	s.Notify(Event{Type: TypeBroadcastComplete})
	_ = s.Snooze(d.Notification.ID, time.Minute)

	s.ClearAll()
	if len(s.History()) != 0 || clk.Pending() != 0 {
		t.Errorf("history = %d, pending = %d", len(s.History()), clk.Pending())
	}
}

func TestPreviewLevels(t *testing.T) {
	tests := []struct {
		level PreviewLevel
		want  string
	}{
		{PreviewFull, "Room 204 is free"},
		{PreviewSenderOnly, "New message from Alice"},
		{PreviewCountOnly, "1 new message"},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			s, _, _ := newTestScheduler(t, at(10, 0))
			_ = s.SetPreview(tt.level)
			d := s.Notify(fromAlice("Room 204 is free"))
			if d.Notification.Message != tt.want {
				t.Errorf("message = %q, want %q", d.Notification.Message, tt.want)
			}
		})
	}
}

func TestSubscribe(t *testing.T) {
	s, _, _ := newTestScheduler(t, at(10, 0))
	var ops []Op
	unsub := s.Subscribe(func(c Change) { ops = append(ops, c.Op) })

	d := s.Notify(fromAlice("hi"))
	s.Notify(fromAlice("again"))
	_ = s.MarkAsRead(d.Notification.ID)
	unsub()
	_ = s.Dismiss(d.Notification.ID)

	want := []Op{OpCreated, OpGrouped, OpRead}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("ops[%d] = %s, want %s", i, ops[i], want[i])
		}
	}
}

func TestSettingsPersistedBeforeApplied(t *testing.T) {
	s, _, kv := newTestScheduler(t, at(10, 0))
	if err := s.MuteConversation("C9"); err != nil {
		t.Fatal(err)
	}

	reloaded := New(Config{}, NewSettingsStore(kv), nil, clock.NewFake(at(10, 0)), nil, nil, nil)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if !reloaded.Settings().Conversations["C9"].Muted {
		t.Error("mute did not survive reload")
	}
}

func TestConcurrentSettingsUpdatesAllLand(t *testing.T) {
	s, _, kv := newTestScheduler(t, at(10, 0))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.MuteConversation(fmt.Sprintf("C%d", i)); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.SetGrouping(false); err != nil {
			t.Error(err)
		}
	}()
	wg.Wait()

	stored, err := NewSettingsStore(kv).Load()
	if err != nil {
		t.Fatal(err)
	}
	for name, st := range map[string]Settings{"memory": s.Settings(), "stored": stored} {
		if st.Grouping {
			t.Errorf("%s: grouping change lost", name)
		}
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("C%d", i)
			if !st.Conversations[id].Muted {
				t.Errorf("%s: mute of %s lost", name, id)
			}
		}
	}
}

func TestSettingsWriteFailureStillApplies(t *testing.T) {
	s, _, kv := newTestScheduler(t, at(10, 0))
	kv.FailWrites = true

	err := s.SetGrouping(false)
	if !errors.Is(err, storage.ErrWriteFailed) {
		t.Fatalf("error = %v, want ErrWriteFailed", err)
	}
	if s.Settings().Grouping {
		t.Error("in-memory settings not updated after failed write")
	}
}

func TestSettingsRoundTripTimeOfDay(t *testing.T) {
	kv := storage.NewMemory()
	ss := NewSettingsStore(kv)
	in := DefaultSettings()
	in.QuietHours = QuietHours{Enabled: true, Start: TimeOfDay{22, 15}, End: TimeOfDay{6, 45}}
	if err := ss.Save(in); err != nil {
		t.Fatal(err)
	}
	raw, _, _ := kv.Get(SettingsKey)
	out, err := ss.Load()
	if err != nil {
		t.Fatal(err)
	}
	if out.QuietHours != in.QuietHours {
		t.Errorf("quiet hours = %+v, want %+v (raw %s)", out.QuietHours, in.QuietHours, raw)
	}
}

func TestNotificationsSurviveRestart(t *testing.T) {
	db := testDB(t)
	clk := clock.NewFake(at(10, 0))

	s := New(Config{}, NewSettingsStore(db), db, clk, nil, nil, nil)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	keep := s.Notify(fromAlice("hi"))
	snoozed := s.Notify(Event{Type: TypeBroadcastComplete, Text: "done"})
	_ = s.MarkAsRead(keep.Notification.ID)
	_ = s.Snooze(snoozed.Notification.ID, 10*time.Minute)
	s.Stop()

	restored := New(Config{}, NewSettingsStore(db), db, clk, nil, nil, nil)
	if err := restored.Load(); err != nil {
		t.Fatal(err)
	}
	defer restored.Stop()

	if len(restored.History()) != 2 {
		t.Fatalf("history = %d, want 2", len(restored.History()))
	}
	n, ok := restored.Get(keep.Notification.ID)
	if !ok || !n.Read || n.SenderName != "Alice" {
		t.Errorf("restored = %+v", n)
	}

	clk.Advance(10 * time.Minute)
	n, _ = restored.Get(snoozed.Notification.ID)
	if n.State != StateActive || n.Read {
		t.Errorf("re-armed snooze: state = %s, read = %v", n.State, n.Read)
	}
}
