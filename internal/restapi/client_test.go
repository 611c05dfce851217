package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessage(t *testing.T) {
	var got SendMessageRequest
	var userHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/messages" {
			http.NotFound(w, r)
			return
		}
		userHeader = r.Header.Get("X-User-Id")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"srv-1","conversationId":"C1","status":"sent","timestamp":1700}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithUser("u1"))
	sent, err := c.SendMessage(context.Background(), SendMessageRequest{ConversationID: "C1", Content: "hello", ClientMessageID: "cid"})
	if err != nil {
		t.Fatal(err)
	}
	if sent.ID != "srv-1" || sent.Timestamp != 1700 {
		t.Errorf("sent = %+v", sent)
	}
	if got.Content != "hello" || got.MessageType != "text" || got.ClientMessageID != "cid" {
		t.Errorf("request body = %+v", got)
	}
	if userHeader != "u1" {
		t.Errorf("X-User-Id = %q, want u1", userHeader)
	}
}

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, `{"error":"content is required"}`, "content is required", false},
		{"server error", http.StatusInternalServerError, `{"error":"database down"}`, "database down", true},
		{"non-json failure", http.StatusBadGateway, `<html>bad gateway</html>`, "", true},
		{"error with 200", http.StatusOK, `{"error":"conversation archived"}`, "conversation archived", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL).SendMessage(context.Background(), SendMessageRequest{ConversationID: "C1", Content: "x"})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.Message != tt.wantMsg || apiErr.StatusCode != tt.status {
				t.Errorf("APIError = %+v", apiErr)
			}
			if apiErr.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", apiErr.Retryable(), tt.retryable)
			}
		})
	}
}

func TestSendMessageRequiresConversation(t *testing.T) {
	if _, err := New("http://127.0.0.1:1").SendMessage(context.Background(), SendMessageRequest{Content: "x"}); err == nil {
		t.Fatal("expected error for missing conversation id")
	}
}

func TestReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	c := New(srv.URL)
	if !c.Reachable(context.Background()) {
		t.Error("Reachable = false for a live server")
	}
	srv.Close()
	if c.Reachable(context.Background()) {
		t.Error("Reachable = true after server closed")
	}
}
