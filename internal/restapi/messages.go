package restapi

import (
	"context"
	"errors"
	"net/http"
)

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	ConversationID  string `json:"conversationId"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	MessageType     string `json:"messageType,omitempty"`
}

// SentMessage is the server's view of an accepted message.
type SentMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
	Timestamp      int64  `json:"timestamp"`
}

// SendMessage posts a message and returns the server-assigned id.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SentMessage, error) {
	if req.ConversationID == "" {
		return nil, errors.New("restapi: conversation id is required")
	}
	if req.MessageType == "" {
		req.MessageType = "text"
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/api/messages", req)
	if err != nil {
		return nil, err
	}
	return decode[SentMessage](data)
}
