package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/officechat/internal/clock"
	"github.com/matheus3301/officechat/internal/status"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// chatServer pushes one new_message on connect and forwards every client
// frame to received.
func chatServer(t *testing.T, received chan<- Envelope, query chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query <- r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		push := map[string]any{
			"type": TypeNewMessage,
			"payload": Message{
				ID: "m1", ConversationID: "C1", SenderID: "s-7",
				SenderName: "Alice", Content: "Is the lab open?", Timestamp: 1700000000000,
			},
		}
		if err := conn.WriteJSON(push); err != nil {
			t.Errorf("write: %v", err)
			return
		}
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			received <- env
		}
	}))
}

func TestGorillaEndToEnd(t *testing.T) {
	received := make(chan Envelope, 8)
	query := make(chan string, 1)
	server := chatServer(t, received, query)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	m := New(Config{URL: wsURL}, GorillaDialer{}, clock.Real{}, nil, nil, nil)
	defer m.Disconnect()

	messages := make(chan Message, 4)
	m.On(Handlers{OnMessage: func(msg Message) { messages <- msg }})
	m.SetCurrentUser(User{ID: "office-1", Type: "office", Name: "Front Desk"})

	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}
	if m.ConnectionState() != status.Connected {
		t.Fatalf("state = %s, want connected", m.ConnectionState())
	}

	select {
	case q := <-query:
		if !strings.Contains(q, "userId=office-1") || !strings.Contains(q, "userType=office") {
			t.Errorf("handshake query = %q", q)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server saw no handshake")
	}

	select {
	case msg := <-messages:
		if msg.SenderName != "Alice" || msg.ConversationID != "C1" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessage not called")
	}
	select {
	case msg := <-messages:
		t.Errorf("unexpected second message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	m.SendTypingIndicator("C1")
	select {
	case env := <-received:
		var ti TypingIndicator
		if err := json.Unmarshal(env.Payload, &ti); err != nil {
			t.Fatal(err)
		}
		if env.Type != TypeTypingIndicator || !ti.IsTyping || ti.UserName != "Front Desk" {
			t.Errorf("server received %s %+v", env.Type, ti)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive typing indicator")
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"ws://chat.local/ws", "ws://chat.local/ws?userId=u1&userType=staff", false},
		{"https://chat.local/ws?v=2", "wss://chat.local/ws?userId=u1&userType=staff&v=2", false},
		{"chat.local/ws", "", true},
		{"ws://", "", true},
		{"::bad", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := endpoint(tt.raw, User{ID: "u1", Type: "staff"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("endpoint(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("endpoint(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
