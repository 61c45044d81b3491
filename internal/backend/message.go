package backend

import "time"

// InsertMessage stores a new message (idempotent on msg_id).
func (db *DB) InsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (msg_id, sender_id, receiver_id, body, is_read, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO NOTHING`,
		m.MsgID, m.SenderID, m.ReceiverID, m.Body, m.Read, m.CreatedAt, m.ExpiresAt)
	return err
}

// ListMessagesForUser returns every live message where the user is sender or
// receiver, newest first. Expired rows are excluded here so downstream
// projection never has to consult expires_at. Ties on created_at break on
// row id descending, which follows insertion order.
func (db *DB) ListMessagesForUser(userID string) ([]Message, error) {
	now := time.Now().UnixMilli()
	rows, err := db.Query(`
		SELECT id, msg_id, sender_id, receiver_id, body, is_read, created_at, expires_at
		FROM messages
		WHERE (sender_id = ? OR receiver_id = ?)
		  AND (expires_at = 0 OR expires_at > ?)
		ORDER BY created_at DESC, id DESC`,
		userID, userID, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MsgID, &m.SenderID, &m.ReceiverID, &m.Body, &m.Read, &m.CreatedAt, &m.ExpiresAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListConversation returns messages between two users using keyset
// pagination by created_at, newest first.
func (db *DB) ListConversation(userID, peerID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	now := time.Now().UnixMilli()
	rows, err := db.Query(`
		SELECT id, msg_id, sender_id, receiver_id, body, is_read, created_at, expires_at
		FROM messages
		WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		  AND (expires_at = 0 OR expires_at > ?)
		  AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		userID, peerID, peerID, userID, now, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MsgID, &m.SenderID, &m.ReceiverID, &m.Body, &m.Read, &m.CreatedAt, &m.ExpiresAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkConversationRead flags every unread message from peerID to userID as
// read. Only the receiver side may flip the flag. Returns the number of
// rows updated.
func (db *DB) MarkConversationRead(userID, peerID string) (int64, error) {
	res, err := db.Exec(`
		UPDATE messages SET is_read = 1
		WHERE receiver_id = ? AND sender_id = ? AND is_read = 0`,
		userID, peerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MessageCount returns the total number of messages involving the user.
func (db *DB) MessageCount(userID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE sender_id = ? OR receiver_id = ?`,
		userID, userID).Scan(&count)
	return count, err
}
