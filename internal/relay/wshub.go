package relay

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var hubUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is a self-hosted WebSocket relay server. Each peer connects once,
// identified by the ?peer query parameter; unicast frames are routed to the
// destination peer, broadcast frames go to every other peer. Frames for
// unknown or disconnected peers are silently dropped (best-effort contract).
//
// A second connection for the same peer ID replaces the first.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]*hubClient
}

type hubClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *hubClient) write(frame wsFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{peers: make(map[string]*hubClient)}
}

// ServeHTTP upgrades the connection and pumps frames until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peer")
	if peerID == "" {
		http.Error(w, "peer query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := hubUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("HUB: upgrade failed: %v", err)
		return
	}

	client := &hubClient{id: peerID, conn: conn}

	h.mu.Lock()
	if old, ok := h.peers[peerID]; ok {
		old.conn.Close()
	}
	h.peers[peerID] = client
	h.mu.Unlock()
	log.Printf("HUB: peer %s connected", peerID)

	defer func() {
		h.mu.Lock()
		if h.peers[peerID] == client {
			delete(h.peers, peerID)
		}
		h.mu.Unlock()
		conn.Close()
		log.Printf("HUB: peer %s disconnected", peerID)
	}()

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.To != "" {
			h.unicast(frame)
			continue
		}
		if frame.Topic != "" {
			h.broadcast(frame, peerID)
		}
	}
}

func (h *Hub) unicast(frame wsFrame) {
	h.mu.RLock()
	dst, ok := h.peers[frame.To]
	h.mu.RUnlock()
	if !ok {
		return // destination offline: best-effort, drop
	}
	if err := dst.write(frame); err != nil {
		log.Printf("HUB: write to %s failed: %v", frame.To, err)
	}
}

func (h *Hub) broadcast(frame wsFrame, from string) {
	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.peers))
	for id, c := range h.peers {
		if id != from {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(frame); err != nil {
			log.Printf("HUB: broadcast to %s failed: %v", c.id, err)
		}
	}
}

// Close disconnects every peer.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.peers {
		c.conn.Close()
	}
	h.peers = make(map[string]*hubClient)
	return nil
}
