// Package chat stores and exchanges direct messages. Messages travel as
// packets on a shared broadcast topic; every peer stores what is addressed
// to it and answers with delivery/read receipts so the sender's copy tracks
// the receiver's state.
package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aurachat/aura/internal/relay"
	"github.com/aurachat/aura/internal/storage"
	"github.com/aurachat/aura/internal/util"
)

// Message is the stored message record.
type Message = storage.Message

// recentSize bounds the in-memory tail of the conversation stream.
const recentSize = 64

// packet is the wire envelope on the packets topic.
type packet struct {
	Kind    string   `json:"kind"` // "message" or "receipt"
	Message *Message `json:"message,omitempty"`
	Receipt *receipt `json:"receipt,omitempty"`
}

// receipt reports a status change for sent messages back to their sender.
type receipt struct {
	From   string   `json:"from"` // who is reporting
	To     string   `json:"to"`   // original sender
	IDs    []string `json:"ids"`
	Status string   `json:"status"` // delivered or read
}

// Event is pushed to subscribers on every conversation change.
type Event struct {
	Type    string   `json:"type"` // "message" or "status"
	Message *Message `json:"message,omitempty"`
	Peer    string   `json:"peer,omitempty"`
	IDs     []string `json:"ids,omitempty"`
	Status  string   `json:"status,omitempty"`
}

// Responder produces the assistant's reply to one message.
type Responder func(ctx context.Context, content string) (string, error)

// Manager owns the local message store and the packet exchange.
type Manager struct {
	selfID string
	db     *storage.DB
	bus    relay.Bus

	mu          sync.Mutex
	listeners   []chan Event
	assistantID string
	responder   Responder

	recent *util.Ring[Message]

	cancelSub func()
	done      chan struct{}
}

// NewManager starts listening on the packets topic.
func NewManager(selfID string, db *storage.DB, bus relay.Bus) *Manager {
	m := &Manager{
		selfID: selfID,
		db:     db,
		bus:    bus,
		recent: util.NewRing[Message](recentSize),
		done:   make(chan struct{}),
	}
	ch, cancel := bus.SubscribeTopic(relay.TopicPackets)
	m.cancelSub = cancel
	go func() {
		defer close(m.done)
		for data := range ch {
			m.handlePacket(data)
		}
	}()
	return m
}

// SetResponder registers the assistant: messages sent to assistantID are
// marked read immediately and answered asynchronously.
func (m *Manager) SetResponder(assistantID string, r Responder) {
	m.mu.Lock()
	m.assistantID = assistantID
	m.responder = r
	m.mu.Unlock()
}

// Subscribe returns conversation events plus a cancel func.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	m.mu.Lock()
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l == ch {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (m *Manager) notify(ev Event) {
	m.mu.Lock()
	ls := make([]chan Event, len(m.listeners))
	copy(ls, m.listeners)
	m.mu.Unlock()
	for _, ch := range ls {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Send stores and broadcasts a new outgoing message.
func (m *Manager) Send(ctx context.Context, to, content, typ, mediaURL string) (Message, error) {
	if typ == "" {
		typ = storage.TypeText
	}
	msg := Message{
		ID:         "PKT-" + uuid.NewString(),
		SenderID:   m.selfID,
		ReceiverID: to,
		Content:    content,
		Type:       typ,
		MediaURL:   mediaURL,
		Timestamp:  time.Now().UnixMilli(),
		Status:     storage.StatusSent,
	}

	m.mu.Lock()
	isAssistant := m.assistantID != "" && to == m.assistantID
	responder := m.responder
	m.mu.Unlock()

	if isAssistant {
		// The assistant reads instantly; no packet leaves the machine.
		msg.Status = storage.StatusRead
	}
	if err := m.db.InsertMessage(msg); err != nil {
		return Message{}, err
	}
	m.recent.Append(msg)
	m.notify(Event{Type: "message", Message: &msg, Peer: to})

	if isAssistant {
		if responder != nil {
			go m.respond(msg.Content)
		}
		return msg, nil
	}

	if err := m.publish(ctx, packet{Kind: "message", Message: &msg}); err != nil {
		// Stored locally either way; delivery is best-effort.
		log.Printf("CHAT: publish message %s: %v", msg.ID, err)
	}
	return msg, nil
}

func (m *Manager) respond(prompt string) {
	m.mu.Lock()
	assistantID := m.assistantID
	responder := m.responder
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reply, err := responder(ctx, prompt)
	if err != nil {
		log.Printf("CHAT: assistant reply: %v", err)
		return
	}
	msg := Message{
		ID:         "PKT-" + uuid.NewString(),
		SenderID:   assistantID,
		ReceiverID: m.selfID,
		Content:    reply,
		Type:       storage.TypeText,
		Timestamp:  time.Now().UnixMilli(),
		Status:     storage.StatusDelivered,
	}
	if err := m.db.InsertMessage(msg); err != nil {
		log.Printf("CHAT: store assistant reply: %v", err)
		return
	}
	m.recent.Append(msg)
	m.notify(Event{Type: "message", Message: &msg, Peer: assistantID})
}

func (m *Manager) handlePacket(data []byte) {
	var p packet
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("CHAT: dropping malformed packet: %v", err)
		return
	}
	switch {
	case p.Kind == "message" && p.Message != nil:
		m.handleMessage(*p.Message)
	case p.Kind == "receipt" && p.Receipt != nil:
		m.handleReceipt(*p.Receipt)
	}
}

func (m *Manager) handleMessage(msg Message) {
	if msg.ReceiverID != m.selfID {
		return
	}
	msg.Status = storage.StatusDelivered
	if err := m.db.InsertMessage(msg); err != nil {
		log.Printf("CHAT: store message %s: %v", msg.ID, err)
		return
	}
	m.recent.Append(msg)
	m.notify(Event{Type: "message", Message: &msg, Peer: msg.SenderID})

	ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
	defer cancel()
	err := m.publish(ctx, packet{Kind: "receipt", Receipt: &receipt{
		From:   m.selfID,
		To:     msg.SenderID,
		IDs:    []string{msg.ID},
		Status: storage.StatusDelivered,
	}})
	if err != nil {
		log.Printf("CHAT: publish delivery receipt: %v", err)
	}
}

func (m *Manager) handleReceipt(r receipt) {
	if r.To != m.selfID {
		return
	}
	for _, id := range r.IDs {
		if err := m.db.SetMessageStatus(id, r.Status); err != nil {
			log.Printf("CHAT: apply receipt for %s: %v", id, err)
		}
	}
	m.notify(Event{Type: "status", Peer: r.From, IDs: r.IDs, Status: r.Status})
}

// MarkRead promotes everything from peerID to read and sends one read
// receipt covering exactly the messages that changed.
func (m *Manager) MarkRead(ctx context.Context, peerID string) error {
	ids, err := m.db.MarkConversationRead(m.selfID, peerID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	m.notify(Event{Type: "status", Peer: peerID, IDs: ids, Status: storage.StatusRead})

	m.mu.Lock()
	isAssistant := m.assistantID != "" && peerID == m.assistantID
	m.mu.Unlock()
	if isAssistant {
		return nil
	}
	return m.publish(ctx, packet{Kind: "receipt", Receipt: &receipt{
		From:   m.selfID,
		To:     peerID,
		IDs:    ids,
		Status: storage.StatusRead,
	}})
}

// Conversation returns the history with peerID, oldest first.
func (m *Manager) Conversation(peerID string, limit int) ([]Message, error) {
	return m.db.Conversation(m.selfID, peerID, limit)
}

// UnreadCounts returns unread totals per sending peer.
func (m *Manager) UnreadCounts() (map[string]int, error) {
	return m.db.UnreadCounts(m.selfID)
}

// Search finds messages involving the local peer.
func (m *Manager) Search(query string, limit int) ([]Message, error) {
	return m.db.SearchMessages(m.selfID, query, limit)
}

// Clear wipes the local history with peerID.
func (m *Manager) Clear(peerID string) error {
	return m.db.ClearConversation(m.selfID, peerID)
}

// Recent returns the in-memory tail of the message stream, oldest first.
func (m *Manager) Recent() []Message {
	return m.recent.Items()
}

func (m *Manager) publish(ctx context.Context, p packet) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return m.bus.Publish(ctx, relay.TopicPackets, data)
}

// Close stops the packet loop.
func (m *Manager) Close() {
	m.cancelSub()
	<-m.done
}
