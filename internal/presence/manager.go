package presence

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/aurachat/aura/internal/relay"
	"github.com/aurachat/aura/internal/util"
)

const (
	// DefaultHeartbeat is how often the local peer announces itself.
	DefaultHeartbeat = 10 * time.Second
	// DefaultStaleAfter is how long after the last announcement a peer is
	// considered offline. Three missed heartbeats.
	DefaultStaleAfter = 35 * time.Second
)

// announcement is the wire shape broadcast on the presence topic.
type announcement struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Leaving  bool   `json:"leaving,omitempty"`
}

// Manager announces the local peer on the presence topic and feeds remote
// announcements into the table.
type Manager struct {
	selfID   string
	username string
	avatar   string
	bus      relay.Bus
	table    *Table

	heartbeat  time.Duration
	staleAfter time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager starts announcing and listening immediately. heartbeat or
// staleAfter of zero pick the defaults.
func NewManager(selfID, username, avatar string, bus relay.Bus, table *Table, heartbeat, staleAfter time.Duration) *Manager {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		selfID:     selfID,
		username:   username,
		avatar:     avatar,
		bus:        bus,
		table:      table,
		heartbeat:  heartbeat,
		staleAfter: staleAfter,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Manager) run() {
	defer close(m.done)

	in, cancelSub := m.bus.SubscribeTopic(relay.TopicPresence)
	defer cancelSub()

	m.announce(false)
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	sweeper := time.NewTicker(m.heartbeat)
	defer sweeper.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.announce(false)
		case <-sweeper.C:
			m.table.sweep(m.staleAfter)
		case data, ok := <-in:
			if !ok {
				return
			}
			var a announcement
			if err := json.Unmarshal(data, &a); err != nil {
				log.Printf("PRESENCE: dropping malformed announcement: %v", err)
				continue
			}
			if a.ID == "" || a.ID == m.selfID {
				continue
			}
			if a.Leaving {
				m.table.MarkOffline(a.ID)
				continue
			}
			m.table.Upsert(a.ID, a.Username, a.Avatar)
		}
	}
}

func (m *Manager) announce(leaving bool) {
	data, err := json.Marshal(announcement{
		ID:       m.selfID,
		Username: m.username,
		Avatar:   m.avatar,
		Leaving:  leaving,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
	defer cancel()
	if err := m.bus.Publish(ctx, relay.TopicPresence, data); err != nil {
		log.Printf("PRESENCE: announce: %v", err)
	}
}

// Close broadcasts a leaving announcement and stops the loops.
func (m *Manager) Close() {
	m.announce(true)
	m.cancel()
	<-m.done
}
