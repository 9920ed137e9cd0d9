package storage

import "database/sql"

// Message statuses, in promotion order. A status never moves backwards:
// read stays read even if a late delivery receipt arrives.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Message types.
const (
	TypeText  = "text"
	TypeImage = "image"
)

// Message is one chat message between two peers.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	MediaURL   string `json:"mediaUrl,omitempty"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
	Status     string `json:"status"`
}

func statusRank(s string) int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return 0
	}
}

// InsertMessage stores a message; duplicate IDs are ignored so a relay
// redelivery cannot duplicate history.
func (d *DB) InsertMessage(m Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO messages (id, sender_id, receiver_id, content, type, media_url, timestamp, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.SenderID, m.ReceiverID, m.Content, m.Type, m.MediaURL, m.Timestamp, m.Status)
	return err
}

// SetMessageStatus promotes a message's status. Demotions are silently
// dropped.
func (d *DB) SetMessageStatus(id, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		UPDATE messages SET status = ?
		WHERE id = ?
		  AND CASE status WHEN 'read' THEN 2 WHEN 'delivered' THEN 1 ELSE 0 END
		    < ?`,
		status, id, statusRank(status))
	return err
}

// MarkConversationRead promotes every message from peer to self to read and
// returns the IDs that changed, so receipts can be sent for exactly those.
func (d *DB) MarkConversationRead(selfID, peerID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows, err := d.db.Query(`
		SELECT id FROM messages
		WHERE sender_id = ? AND receiver_id = ? AND status != 'read'`,
		peerID, selfID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}
	_, err = d.db.Exec(`
		UPDATE messages SET status = 'read'
		WHERE sender_id = ? AND receiver_id = ? AND status != 'read'`,
		peerID, selfID)
	return ids, err
}

// Conversation returns the messages between a and b, oldest first, capped at
// limit (0 means no cap).
func (d *DB) Conversation(a, b string, limit int) ([]Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	q := `
		SELECT id, sender_id, receiver_id, content, type, media_url, timestamp, status
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY timestamp ASC`
	args := []any{a, b, b, a}
	if limit > 0 {
		// Cap from the tail: the newest messages win.
		q = `SELECT * FROM (
			SELECT id, sender_id, receiver_id, content, type, media_url, timestamp, status
			FROM messages
			WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
			ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`
		args = append(args, limit)
	}
	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// UnreadCounts returns, per sending peer, how many messages to selfID are
// not yet read.
func (d *DB) UnreadCounts(selfID string) (map[string]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT sender_id, COUNT(*) FROM messages
		WHERE receiver_id = ? AND status != 'read'
		GROUP BY sender_id`, selfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// SearchMessages finds messages involving selfID whose content contains the
// query, newest first.
func (d *DB) SearchMessages(selfID, query string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, sender_id, receiver_id, content, type, media_url, timestamp, status
		FROM messages
		WHERE (sender_id = ? OR receiver_id = ?)
		  AND content LIKE '%' || ? || '%'
		ORDER BY timestamp DESC LIMIT ?`,
		selfID, selfID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ClearConversation deletes the history between a and b on this device.
func (d *DB) ClearConversation(a, b string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		DELETE FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)`,
		a, b, b, a)
	return err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Type,
			&m.MediaURL, &m.Timestamp, &m.Status); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
