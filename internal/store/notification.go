package store

// SaveNotification upserts a notification row.
func (db *DB) SaveNotification(n *NotificationRow) error {
	_, err := db.Exec(`
		INSERT INTO notifications (id, type, sender_id, sender_name, conversation_id, message_id, message, priority,
			group_count, read, state, snoozed_until, timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message = excluded.message,
			priority = excluded.priority,
			group_count = excluded.group_count,
			read = excluded.read,
			state = excluded.state,
			snoozed_until = excluded.snoozed_until,
			timestamp = excluded.timestamp,
			updated_at = excluded.updated_at`,
		n.ID, n.Type, n.SenderID, n.SenderName, n.ConversationID, n.MessageID, n.Message, n.Priority,
		n.GroupCount, n.Read, n.State, n.SnoozedUntil, n.Timestamp, n.UpdatedAt)
	return err
}

// DeleteNotification removes a notification permanently.
func (db *DB) DeleteNotification(id string) error {
	_, err := db.Exec(`DELETE FROM notifications WHERE id = ?`, id)
	return err
}

// DeleteAllNotifications removes every notification.
func (db *DB) DeleteAllNotifications() error {
	_, err := db.Exec(`DELETE FROM notifications`)
	return err
}

// ListNotifications returns all notifications, newest first.
func (db *DB) ListNotifications() ([]NotificationRow, error) {
	rows, err := db.Query(`
		SELECT id, type, sender_id, sender_name, conversation_id, message_id, message, priority,
			group_count, read, state, snoozed_until, timestamp, updated_at
		FROM notifications ORDER BY timestamp DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []NotificationRow
	for rows.Next() {
		var n NotificationRow
		if err := rows.Scan(&n.ID, &n.Type, &n.SenderID, &n.SenderName, &n.ConversationID, &n.MessageID, &n.Message, &n.Priority,
			&n.GroupCount, &n.Read, &n.State, &n.SnoozedUntil, &n.Timestamp, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
