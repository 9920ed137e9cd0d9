// Package relay abstracts delivery of signaling payloads between two
// identified peers. Implementations are backend-agnostic: an in-process
// store, a Redis pub/sub channel, a WebSocket hub, a hosted Firestore
// database or a libp2p gossipsub mesh. All backends share one contract:
//
//   - Send is fire-and-forget, best-effort, no retry.
//   - offer/answer/hangup are latest-wins per destination; a newer offer
//     supersedes any pending offer regardless of sender.
//   - candidates are delivered individually, never coalesced into a
//     last-value slot.
//   - resends of unchanged state are de-duplicated before delivery.
//   - a signal is only ever delivered to the peer named in its To field.
//
// Besides call signaling the relay carries two broadcast topics: presence
// announcements and message packets, mirroring how the hosted store syncs
// the contact list and chat history.
package relay

import (
	"context"

	"github.com/aurachat/aura/internal/signal"
)

// Broadcast topics carried by every backend.
const (
	TopicPresence = "presence" // presence.Announcement JSON
	TopicPackets  = "packets"  // chat.Packet JSON
)

// Relay delivers call signals between peers.
type Relay interface {
	// Send publishes a signal addressed to sig.To. Best-effort: delivery
	// failures are not reported beyond the returned error and are never
	// retried.
	Send(ctx context.Context, sig *signal.Signal) error

	// Subscribe yields signals addressed to selfID. The cancel func stops
	// delivery and releases the subscription.
	Subscribe(selfID string) (<-chan *signal.Signal, func())
}

// Bus carries broadcast topics (presence, packets) between all peers.
type Bus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	SubscribeTopic(topic string) (<-chan []byte, func())
}

// Conn is a full relay connection: signaling plus broadcast topics.
type Conn interface {
	Relay
	Bus
	Close() error
}

// dedup filters out resends of the same logical signal, as happens when a
// last-value backend re-emits unchanged state. Keyed by (from, kind): a
// signal is dropped only when it is identical to the previous one from the
// same sender and kind. Not safe for concurrent use; each subscription
// owns its own dedup.
type dedup struct {
	last map[string]string // from+kind -> signal key
}

func newDedup() *dedup {
	return &dedup{last: make(map[string]string)}
}

// fresh reports whether sig has not been seen before, recording it if so.
// Candidates are always fresh: every candidate must be processed.
func (d *dedup) fresh(sig *signal.Signal) bool {
	if sig.Kind == signal.KindCandidate {
		return true
	}
	k := sig.From + "/" + string(sig.Kind)
	key := sig.Key()
	if d.last[k] == key {
		return false
	}
	d.last[k] = key
	return true
}
