package store

import "time"

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(clientMsgID, conversationID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, conversation_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, conversationID, body, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, "sending", "", "")
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	return db.setOutboxStatus(clientMsgID, "sent", "", serverMsgID)
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	return db.setOutboxStatus(clientMsgID, "failed", errMsg, "")
}

// RequeueOutbox moves a sending entry back to 'queued', e.g. after the
// network dropped mid-send.
func (db *DB) RequeueOutbox(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, "queued", "", "")
}

func (db *DB) setOutboxStatus(clientMsgID, status, errMsg, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET status = ?, error_message = ?,
			server_msg_id = CASE WHEN ? = '' THEN server_msg_id ELSE ? END,
			updated_at = ?
		WHERE client_msg_id = ?`,
		status, errMsg, serverMsgID, serverMsgID, now, clientMsgID)
	return err
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.listOutbox(`WHERE status = 'queued'`)
}

// ListOutbox returns every outbox entry, oldest first.
func (db *DB) ListOutbox() ([]OutboxEntry, error) {
	return db.listOutbox("")
}

func (db *DB) listOutbox(where string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, conversation_id, body, status, error_message, server_msg_id, created_at
		FROM outbox ` + where + ` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
