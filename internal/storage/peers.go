package storage

import "time"

// CachedPeer is the persistent record of a remote peer's last known state,
// written on every presence announcement so contacts survive restarts.
type CachedPeer struct {
	PeerID   string
	Username string
	Avatar   string
	LastSeen time.Time
}

// UpsertCachedPeer stores or replaces the cached state for a peer.
func (d *DB) UpsertCachedPeer(p CachedPeer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO peer_cache (peer_id, username, avatar, last_seen)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(peer_id) DO UPDATE SET
			username  = excluded.username,
			avatar    = excluded.avatar,
			last_seen = CURRENT_TIMESTAMP`,
		p.PeerID, p.Username, p.Avatar)
	return err
}

// ListCachedPeers returns every cached peer, most recently seen first.
func (d *DB) ListCachedPeers() ([]CachedPeer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT peer_id, username, avatar, last_seen
		FROM peer_cache ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var peers []CachedPeer
	for rows.Next() {
		var p CachedPeer
		var lastSeen string
		if err := rows.Scan(&p.PeerID, &p.Username, &p.Avatar, &lastSeen); err != nil {
			return nil, err
		}
		p.LastSeen, _ = time.Parse("2006-01-02 15:04:05", lastSeen)
		peers = append(peers, p)
	}
	return peers, rows.Err()
}
