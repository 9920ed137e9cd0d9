package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/option"

	"github.com/aurachat/aura/internal/signal"
)

const (
	fsSignalCollection = "signals"
	fsTopicCollection  = "topics"
)

// Firestore is a relay backed by a hosted Firestore database — the closest
// Go equivalent of the realtime store the browser client syncs against.
// Offer/answer/hangup occupy one field each on the destination peer's
// signal document (latest writer wins); candidates are appended to a
// subcollection and deleted once consumed. Broadcast topics are append-only
// subcollections under topics/<name>.
type Firestore struct {
	app    *firebase.App
	client *firestore.Client
}

// NewFirestore opens the hosted database. credentialsFile may be empty when
// application-default credentials are available.
func NewFirestore(ctx context.Context, projectID, credentialsFile string) (*Firestore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Firestore{app: app, client: client}, nil
}

func (f *Firestore) signalDoc(peerID string) *firestore.DocumentRef {
	return f.client.Collection(fsSignalCollection).Doc(peerID)
}

// Send writes the signal into the destination's slot document, or appends it
// to the candidate subcollection for candidate kinds.
func (f *Firestore) Send(ctx context.Context, sig *signal.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}

	if sig.Kind == signal.KindCandidate {
		_, _, err := f.signalDoc(sig.To).Collection("candidates").Add(ctx, map[string]interface{}{
			"data":      string(data),
			"timestamp": sig.Timestamp,
		})
		return err
	}

	_, err = f.signalDoc(sig.To).Set(ctx, map[string]interface{}{
		string(sig.Kind): string(data),
	}, firestore.MergeAll)
	return err
}

// Subscribe watches the slot document and the candidate queue for selfID.
func (f *Firestore) Subscribe(selfID string) (<-chan *signal.Signal, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *signal.Signal, subBuffer)
	d := newDedup()

	emit := func(raw string) {
		var sig signal.Signal
		if err := json.Unmarshal([]byte(raw), &sig); err != nil {
			log.Printf("RELAY: dropping malformed signal: %v", err)
			return
		}
		if sig.To != selfID || !d.fresh(&sig) {
			return
		}
		select {
		case out <- &sig:
		case <-ctx.Done():
		}
	}

	done := make(chan struct{}, 2)

	// Slot watcher: every snapshot re-delivers all fields; the de-dup
	// filter reduces that to actual state changes.
	go func() {
		defer func() { done <- struct{}{} }()
		it := f.signalDoc(selfID).Snapshots(ctx)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				return
			}
			if !snap.Exists() {
				continue
			}
			for _, kind := range []signal.Kind{signal.KindOffer, signal.KindAnswer, signal.KindHangup} {
				if v, ok := snap.Data()[string(kind)]; ok {
					if raw, ok := v.(string); ok {
						emit(raw)
					}
				}
			}
		}
	}()

	// Candidate watcher: consume-and-delete, so each candidate is
	// observed exactly once and the queue never replays into a new call.
	go func() {
		defer func() { done <- struct{}{} }()
		col := f.signalDoc(selfID).Collection("candidates")
		it := col.Query.OrderBy("timestamp", firestore.Asc).Snapshots(ctx)
		defer it.Stop()
		for {
			qsnap, err := it.Next()
			if err != nil {
				return
			}
			for _, change := range qsnap.Changes {
				if change.Kind != firestore.DocumentAdded {
					continue
				}
				if v, ok := change.Doc.Data()["data"]; ok {
					if raw, ok := v.(string); ok {
						emit(raw)
					}
				}
				if _, err := change.Doc.Ref.Delete(ctx); err != nil && ctx.Err() == nil {
					log.Printf("RELAY: delete consumed candidate: %v", err)
				}
			}
		}
	}()

	go func() {
		<-done
		<-done
		close(out)
	}()

	return out, cancel
}

// Publish appends to the topic's item subcollection.
func (f *Firestore) Publish(ctx context.Context, topic string, data []byte) error {
	_, _, err := f.client.Collection(fsTopicCollection).Doc(topic).Collection("items").Add(ctx, map[string]interface{}{
		"data":      string(data),
		"timestamp": firestore.ServerTimestamp,
	})
	return err
}

// SubscribeTopic watches a topic's item subcollection for additions.
func (f *Firestore) SubscribeTopic(topic string) (<-chan []byte, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []byte, 64)

	go func() {
		defer close(out)
		col := f.client.Collection(fsTopicCollection).Doc(topic).Collection("items")
		it := col.Query.OrderBy("timestamp", firestore.Asc).Snapshots(ctx)
		defer it.Stop()
		for {
			qsnap, err := it.Next()
			if err != nil {
				return
			}
			for _, change := range qsnap.Changes {
				if change.Kind != firestore.DocumentAdded {
					continue
				}
				if v, ok := change.Doc.Data()["data"]; ok {
					if raw, ok := v.(string); ok {
						select {
						case out <- []byte(raw):
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}()

	return out, cancel
}

// Close releases the Firestore client.
func (f *Firestore) Close() error {
	return f.client.Close()
}
