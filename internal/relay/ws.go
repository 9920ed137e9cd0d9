package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aurachat/aura/internal/signal"
)

// wsFrame is the wire unit between a client and the hub. A frame with To set
// is a unicast signal; a frame with Topic set is a broadcast.
type wsFrame struct {
	To    string          `json:"to,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// WS is a relay client connected to a hub (see Hub in wshub.go). The hub
// performs the per-destination routing; this client only demultiplexes the
// frames addressed to it.
type WS struct {
	conn    *websocket.Conn
	selfID  string
	writeMu sync.Mutex

	mu        sync.Mutex
	sigSubs   map[chan *signal.Signal]*dedup
	topicSubs map[string]map[chan []byte]struct{}
	closed    bool
}

// DialWS connects to a relay hub, identifying as selfID.
func DialWS(ctx context.Context, hubURL, selfID string) (*WS, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	q := u.Query()
	q.Set("peer", selfID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect to relay hub: %w", err)
	}

	w := &WS{
		conn:      conn,
		selfID:    selfID,
		sigSubs:   make(map[chan *signal.Signal]*dedup),
		topicSubs: make(map[string]map[chan []byte]struct{}),
	}
	go w.readLoop()
	return w, nil
}

func (w *WS) readLoop() {
	for {
		var frame wsFrame
		if err := w.conn.ReadJSON(&frame); err != nil {
			w.Close()
			return
		}
		if frame.Topic != "" {
			w.mu.Lock()
			for ch := range w.topicSubs[frame.Topic] {
				select {
				case ch <- []byte(frame.Data):
				default:
				}
			}
			w.mu.Unlock()
			continue
		}

		var sig signal.Signal
		if err := json.Unmarshal(frame.Data, &sig); err != nil {
			log.Printf("RELAY: dropping malformed signal: %v", err)
			continue
		}
		if sig.To != w.selfID {
			continue
		}
		w.mu.Lock()
		for ch, d := range w.sigSubs {
			if !d.fresh(&sig) {
				continue
			}
			select {
			case ch <- &sig:
			default:
			}
		}
		w.mu.Unlock()
	}
}

func (w *WS) write(frame wsFrame) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(frame)
}

// Send publishes a signal through the hub.
func (w *WS) Send(_ context.Context, sig *signal.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return w.write(wsFrame{To: sig.To, Data: data})
}

// Subscribe yields signals addressed to this client.
func (w *WS) Subscribe(selfID string) (<-chan *signal.Signal, func()) {
	ch := make(chan *signal.Signal, subBuffer)
	w.mu.Lock()
	w.sigSubs[ch] = newDedup()
	w.mu.Unlock()

	return ch, func() {
		w.mu.Lock()
		if _, ok := w.sigSubs[ch]; ok {
			delete(w.sigSubs, ch)
			close(ch)
		}
		w.mu.Unlock()
	}
}

// Publish sends a broadcast frame through the hub.
func (w *WS) Publish(_ context.Context, topic string, data []byte) error {
	return w.write(wsFrame{Topic: topic, Data: data})
}

// SubscribeTopic subscribes to a broadcast topic.
func (w *WS) SubscribeTopic(topic string) (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	w.mu.Lock()
	if w.topicSubs[topic] == nil {
		w.topicSubs[topic] = make(map[chan []byte]struct{})
	}
	w.topicSubs[topic][ch] = struct{}{}
	w.mu.Unlock()

	return ch, func() {
		w.mu.Lock()
		if set, ok := w.topicSubs[topic]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
		}
		w.mu.Unlock()
	}
}

// Close closes the hub connection and all subscriptions. Idempotent.
func (w *WS) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for ch := range w.sigSubs {
		close(ch)
	}
	w.sigSubs = make(map[chan *signal.Signal]*dedup)
	for _, set := range w.topicSubs {
		for ch := range set {
			close(ch)
		}
	}
	w.topicSubs = make(map[string]map[chan []byte]struct{})
	w.mu.Unlock()
	return w.conn.Close()
}
