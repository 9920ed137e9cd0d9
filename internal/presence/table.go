// Package presence tracks which peers are reachable. Peers announce
// themselves periodically on a broadcast topic; a table keeps the last known
// state of everyone and marks peers offline when their announcements stop.
package presence

import (
	"sync"
	"time"
)

// Peer is one contact as shown in the sidebar.
type Peer struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"lastSeen"`
	Assistant bool      `json:"assistant,omitempty"` // built-in, always online, not callable
}

// Event describes one table change for subscribers.
type Event struct {
	Type   string          `json:"type"` // "update" or "remove"
	PeerID string          `json:"peer_id,omitempty"`
	Peer   *Peer           `json:"peer,omitempty"`
	Peers  map[string]Peer `json:"peers,omitempty"`
}

// Table is the in-memory peer registry. Safe for concurrent use.
type Table struct {
	mu        sync.Mutex
	peers     map[string]Peer
	listeners []chan Event
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{peers: map[string]Peer{}}
}

// Upsert records an announcement: the peer is online and was seen now.
func (t *Table) Upsert(id, username, avatar string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := Peer{ID: id, Username: username, Avatar: avatar, Online: true, LastSeen: time.Now()}
	if existing, ok := t.peers[id]; ok && existing.Assistant {
		return // the assistant's seeded entry is authoritative
	}
	t.peers[id] = p
	t.notifyLocked(Event{Type: "update", PeerID: id, Peer: &p})
}

// Seed inserts a peer only if absent, typically from the on-disk cache so
// known contacts show up (offline) before their first announcement.
func (t *Table) Seed(p Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[p.ID]; ok {
		return
	}
	t.peers[p.ID] = p
	t.notifyLocked(Event{Type: "update", PeerID: p.ID, Peer: &p})
}

// MarkOffline flips a peer to offline. Only the first flip notifies.
func (t *Table) MarkOffline(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok || !p.Online || p.Assistant {
		return
	}
	p.Online = false
	t.peers[id] = p
	t.notifyLocked(Event{Type: "update", PeerID: id, Peer: &p})
}

// Remove drops a peer entirely (explicit leave).
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; !ok || p.Assistant {
		return
	}
	delete(t.peers, id)
	t.notifyLocked(Event{Type: "remove", PeerID: id})
}

// Get returns one peer.
func (t *Table) Get(id string) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	return p, ok
}

// List returns a copy of every known peer.
func (t *Table) List() map[string]Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Peer, len(t.peers))
	for id, p := range t.peers {
		out[id] = p
	}
	return out
}

// sweep marks peers offline whose last announcement is older than maxAge.
func (t *Table) sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	t.mu.Lock()
	var stale []string
	for id, p := range t.peers {
		if p.Online && !p.Assistant && p.LastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	t.mu.Unlock()
	for _, id := range stale {
		t.MarkOffline(id)
	}
}

// Subscribe returns a channel of table events plus a cancel func. The first
// event is a snapshot of the whole table. Slow consumers drop events.
func (t *Table) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	t.mu.Lock()
	snapshot := make(map[string]Peer, len(t.peers))
	for id, p := range t.peers {
		snapshot[id] = p
	}
	t.listeners = append(t.listeners, ch)
	t.mu.Unlock()

	ch <- Event{Type: "snapshot", Peers: snapshot}

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, l := range t.listeners {
			if l == ch {
				t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (t *Table) notifyLocked(ev Event) {
	for _, ch := range t.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}
