package conversation

import (
	"testing"
	"time"

	"github.com/matheus3301/officechat/internal/clock"
	"github.com/matheus3301/officechat/internal/realtime"
)

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestTracker() (*Tracker, *clock.Fake) {
	clk := clock.NewFake(epoch)
	return NewTracker(0, clk, nil), clk
}

func TestAddMessageDeduplicates(t *testing.T) {
	tr, _ := newTestTracker()
	msg := Message{ID: "m1", ConversationID: "C1", SenderID: "s1", Content: "hi"}

	if !tr.AddMessage(msg) {
		t.Fatal("first AddMessage = false")
	}
	if tr.AddMessage(msg) {
		t.Error("duplicate AddMessage = true")
	}
	tr.AddMessage(Message{ID: "m2", ConversationID: "C1", Content: "second"})

	s, ok := tr.Snapshot("C1")
	if !ok || len(s.Messages) != 2 || s.Messages[0].ID != "m1" || s.Messages[1].ID != "m2" {
		t.Errorf("snapshot = %+v", s)
	}
	if s.Messages[0].Timestamp != epoch {
		t.Errorf("timestamp = %v, want clock time", s.Messages[0].Timestamp)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	tests := []struct {
		name  string
		steps []realtime.DeliveryStatus
		want  realtime.DeliveryStatus
	}{
		{"forward", []realtime.DeliveryStatus{realtime.StatusDelivered, realtime.StatusRead}, realtime.StatusRead},
		{"skip delivered", []realtime.DeliveryStatus{realtime.StatusRead}, realtime.StatusRead},
		{"late delivered after read", []realtime.DeliveryStatus{realtime.StatusRead, realtime.StatusDelivered}, realtime.StatusRead},
		{"failed from sent", []realtime.DeliveryStatus{realtime.StatusFailed}, realtime.StatusFailed},
		{"failed after delivered ignored", []realtime.DeliveryStatus{realtime.StatusDelivered, realtime.StatusFailed}, realtime.StatusDelivered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracker()
			tr.AddMessage(Message{ID: "m1", ConversationID: "C1", FromMe: true})
			for _, s := range tt.steps {
				tr.UpdateStatus("m1", s)
			}
			snap, _ := tr.Snapshot("C1")
			if got := snap.Messages[0].Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUpdateStatusUnknownMessage(t *testing.T) {
	tr, _ := newTestTracker()
	if _, changed := tr.UpdateStatus("nope", realtime.StatusRead); changed {
		t.Error("UpdateStatus on unknown message reported a change")
	}
}

func TestTypingExpires(t *testing.T) {
	tr, clk := newTestTracker()
	tr.SetTyping(realtime.TypingIndicator{ConversationID: "C1", UserID: "s1", UserName: "Alice", IsTyping: true})

	if got := tr.TypingUsers("C1"); len(got) != 1 || got[0] != "Alice" {
		t.Fatalf("typing = %v", got)
	}
	clk.Advance(3 * time.Second)
	tr.SetTyping(realtime.TypingIndicator{ConversationID: "C1", UserID: "s1", UserName: "Alice", IsTyping: true})
	clk.Advance(3 * time.Second)
	if len(tr.TypingUsers("C1")) != 1 {
		t.Fatal("refreshed typing flag expired early")
	}
	clk.Advance(2 * time.Second)
	if len(tr.TypingUsers("C1")) != 0 {
		t.Error("typing flag did not expire")
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d", clk.Pending())
	}
}

func TestTypingStopAndMessageClear(t *testing.T) {
	tr, clk := newTestTracker()
	tr.SetTyping(realtime.TypingIndicator{ConversationID: "C1", UserID: "s1", UserName: "Alice", IsTyping: true})
	tr.SetTyping(realtime.TypingIndicator{ConversationID: "C1", UserID: "s1", IsTyping: false})
	if len(tr.TypingUsers("C1")) != 0 || clk.Pending() != 0 {
		t.Error("explicit stop left typing state behind")
	}

	tr.SetTyping(realtime.TypingIndicator{ConversationID: "C1", UserID: "s2", UserName: "Bob", IsTyping: true})
	tr.AddMessage(Message{ID: "m1", ConversationID: "C1", SenderID: "s2"})
	if len(tr.TypingUsers("C1")) != 0 || clk.Pending() != 0 {
		t.Error("message from typing user did not clear the flag")
	}
}

func TestReactions(t *testing.T) {
	tr, _ := newTestTracker()
	tr.AddMessage(Message{ID: "m1", ConversationID: "C1"})

	tr.ApplyReaction(realtime.Reaction{MessageID: "m1", UserID: "u1", Emoji: "👍", Added: true})
	tr.ApplyReaction(realtime.Reaction{MessageID: "m1", UserID: "u2", Emoji: "👍", Added: true})
	if tr.ApplyReaction(realtime.Reaction{MessageID: "m1", UserID: "u2", Emoji: "👍", Added: true}) {
		t.Error("duplicate reaction reported a change")
	}
	tr.ApplyReaction(realtime.Reaction{MessageID: "m1", UserID: "u1", Emoji: "👍", Added: false})

	s, _ := tr.Snapshot("C1")
	got := s.Messages[0].Reactions["👍"]
	if len(got) != 1 || got[0] != "u2" {
		t.Errorf("reactions = %v, want [u2]", got)
	}

	tr.ApplyReaction(realtime.Reaction{MessageID: "m1", UserID: "u2", Emoji: "👍", Added: false})
	s, _ = tr.Snapshot("C1")
	if _, ok := s.Messages[0].Reactions["👍"]; ok {
		t.Error("empty reaction set not removed")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr, _ := newTestTracker()
	tr.AddMessage(Message{ID: "m1", ConversationID: "C1"})
	tr.ApplyReaction(realtime.Reaction{MessageID: "m1", UserID: "u1", Emoji: "🎉", Added: true})

	s, _ := tr.Snapshot("C1")
	s.Messages[0].Reactions["🎉"][0] = "mutated"
	s.Messages[0].Status = realtime.StatusFailed

	again, _ := tr.Snapshot("C1")
	if again.Messages[0].Reactions["🎉"][0] != "u1" || again.Messages[0].Status != realtime.StatusSent {
		t.Error("snapshot shares memory with tracker state")
	}
}

func TestPins(t *testing.T) {
	tr, _ := newTestTracker()
	tr.ApplyPin(realtime.Pin{MessageID: "m2", ConversationID: "C1", Pinned: true})
	tr.ApplyPin(realtime.Pin{MessageID: "m1", ConversationID: "C1", Pinned: true})
	tr.ApplyPin(realtime.Pin{MessageID: "m2", ConversationID: "C1", Pinned: false})

	s, _ := tr.Snapshot("C1")
	if len(s.Pinned) != 1 || s.Pinned[0] != "m1" {
		t.Errorf("pinned = %v, want [m1]", s.Pinned)
	}
	if ids := tr.Conversations(); len(ids) != 1 || ids[0] != "C1" {
		t.Errorf("conversations = %v", ids)
	}
}

func TestFromRealtime(t *testing.T) {
	m := FromRealtime(realtime.Message{ID: "m1", ConversationID: "C1", SenderName: "Alice", Content: "hi", Timestamp: epoch.UnixMilli()}, false)
	if m.Status != realtime.StatusDelivered || !m.Timestamp.Equal(epoch) || m.SenderName != "Alice" {
		t.Errorf("converted = %+v", m)
	}
	if own := FromRealtime(realtime.Message{ID: "m2"}, true); own.Status != realtime.StatusSent || !own.FromMe {
		t.Errorf("own = %+v", own)
	}
}
