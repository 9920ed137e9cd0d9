package relay

import (
	"context"
	"sync"

	"github.com/aurachat/aura/internal/signal"
)

// subBuffer is the per-subscription channel depth. Candidates queue here
// individually; offer/answer/hangup occupy at most one logical slot each so
// the buffer only fills under pathological candidate storms.
const subBuffer = 256

// Memory is an in-process relay. It models the hosted store faithfully:
// offer/answer/hangup live in a last-value slot per destination and kind,
// while candidates are an append-only queue per destination. Signals sent
// before a peer subscribes are held and flushed on subscription, so the
// "callee comes online after the offer was written" case behaves like the
// hosted backends.
type Memory struct {
	mu     sync.Mutex
	slots  map[string]map[signal.Kind]*signal.Signal // destination -> kind -> latest
	queued map[string][]*signal.Signal               // destination -> pending candidates
	subs   map[string]map[chan *signal.Signal]*dedup // destination -> subscriber set

	topicMu   sync.Mutex
	topicSubs map[string]map[chan []byte]struct{}

	closed bool
}

// NewMemory creates an empty in-process relay.
func NewMemory() *Memory {
	return &Memory{
		slots:     make(map[string]map[signal.Kind]*signal.Signal),
		queued:    make(map[string][]*signal.Signal),
		subs:      make(map[string]map[chan *signal.Signal]*dedup),
		topicSubs: make(map[string]map[chan []byte]struct{}),
	}
}

// Send publishes sig to its destination. With no subscriber present the
// signal is retained: latest-wins per kind, except candidates which queue.
func (m *Memory) Send(_ context.Context, sig *signal.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil // best-effort: sends after close are silently dropped
	}

	subs := m.subs[sig.To]
	if len(subs) == 0 {
		if sig.Kind == signal.KindCandidate {
			m.queued[sig.To] = append(m.queued[sig.To], sig)
			return nil
		}
		slot := m.slots[sig.To]
		if slot == nil {
			slot = make(map[signal.Kind]*signal.Signal)
			m.slots[sig.To] = slot
		}
		slot[sig.Kind] = sig // latest writer wins, any sender
		return nil
	}

	for ch, d := range subs {
		if !d.fresh(sig) {
			continue
		}
		select {
		case ch <- sig:
		default:
			// Subscriber is not draining; dropping is the documented
			// best-effort behaviour.
		}
	}
	return nil
}

// Subscribe yields signals addressed to selfID, starting with anything
// retained while the peer was away (offer before candidates, so the engine
// exists by the time candidates arrive).
func (m *Memory) Subscribe(selfID string) (<-chan *signal.Signal, func()) {
	ch := make(chan *signal.Signal, subBuffer)
	d := newDedup()

	m.mu.Lock()
	if m.subs[selfID] == nil {
		m.subs[selfID] = make(map[chan *signal.Signal]*dedup)
	}
	m.subs[selfID][ch] = d

	var backlog []*signal.Signal
	if slot := m.slots[selfID]; slot != nil {
		for _, kind := range []signal.Kind{signal.KindOffer, signal.KindAnswer, signal.KindHangup} {
			if sig := slot[kind]; sig != nil {
				backlog = append(backlog, sig)
			}
		}
	}
	backlog = append(backlog, m.queued[selfID]...)
	delete(m.queued, selfID)
	m.mu.Unlock()

	for _, sig := range backlog {
		if d.fresh(sig) {
			ch <- sig
		}
	}

	cancel := func() {
		m.mu.Lock()
		if set, ok := m.subs[selfID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans data out to every subscriber of topic.
func (m *Memory) Publish(_ context.Context, topic string, data []byte) error {
	m.topicMu.Lock()
	defer m.topicMu.Unlock()
	for ch := range m.topicSubs[topic] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// SubscribeTopic subscribes to a broadcast topic.
func (m *Memory) SubscribeTopic(topic string) (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	m.topicMu.Lock()
	if m.topicSubs[topic] == nil {
		m.topicSubs[topic] = make(map[chan []byte]struct{})
	}
	m.topicSubs[topic][ch] = struct{}{}
	m.topicMu.Unlock()

	cancel := func() {
		m.topicMu.Lock()
		if set, ok := m.topicSubs[topic]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
		}
		m.topicMu.Unlock()
	}
	return ch, cancel
}

// Close drops all subscriptions. Further sends are no-ops.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	for _, set := range m.subs {
		for ch := range set {
			close(ch)
		}
	}
	m.subs = make(map[string]map[chan *signal.Signal]*dedup)
	m.mu.Unlock()

	m.topicMu.Lock()
	for _, set := range m.topicSubs {
		for ch := range set {
			close(ch)
		}
	}
	m.topicSubs = make(map[string]map[chan []byte]struct{})
	m.topicMu.Unlock()
	return nil
}
