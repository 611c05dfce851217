package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, sender_name, body, message_type, from_me, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			body = excluded.body,
			status = excluded.status`,
		m.ConversationID, m.MsgID, m.SenderID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Status, m.Timestamp, now)
	return err
}

// UpdateMessageStatus sets the delivery status of every stored copy of msgID.
// Returns the number of rows touched.
func (db *DB) UpdateMessageStatus(msgID, status string) (int64, error) {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE msg_id = ?`, status, msgID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetMessage returns the first message with msgID, or nil.
func (db *DB) GetMessage(msgID string) (*Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, sender_name, body, message_type, from_me, status, timestamp
		FROM messages WHERE msg_id = ? LIMIT 1`, msgID)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// ListMessages returns messages for a conversation using keyset pagination by timestamp.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, sender_name, body, message_type, from_me, status, timestamp
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanMessages(rows rowScanner) ([]Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.SenderName, &m.Body, &m.MessageType, &m.FromMe, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RenameMessage swaps an optimistic client id for the server-assigned one.
// If the server copy already arrived, the optimistic row is dropped.
func (db *DB) RenameMessage(conversationID, oldID, newID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE OR IGNORE messages SET msg_id = ? WHERE conversation_id = ? AND msg_id = ?`,
		newID, conversationID, oldID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, oldID); err != nil {
		return err
	}
	return tx.Commit()
}
