package relay

import (
	"context"
	"testing"
	"time"

	"github.com/aurachat/aura/internal/signal"
)

func recvOne(t *testing.T, ch <-chan *signal.Signal) *signal.Signal {
	t.Helper()
	select {
	case sig := <-ch:
		return sig
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal")
		return nil
	}
}

func expectNone(t *testing.T, ch <-chan *signal.Signal) {
	t.Helper()
	select {
	case sig := <-ch:
		t.Fatalf("unexpected signal: %+v", sig)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryDeliversToDestinationOnly(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	u2, cancel2 := m.Subscribe("u2")
	defer cancel2()
	u3, cancel3 := m.Subscribe("u3")
	defer cancel3()

	m.Send(context.Background(), signal.NewHangup("u1", "u2"))

	if got := recvOne(t, u2); got.From != "u1" || got.Kind != signal.KindHangup {
		t.Fatalf("wrong signal: %+v", got)
	}
	expectNone(t, u3)
}

func TestMemoryLatestOfferWins(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	first := signal.NewOffer("u1", "u3", signal.SessionDescription{Type: "offer", SDP: "sdp-a"})
	second := signal.NewOffer("u2", "u3", signal.SessionDescription{Type: "offer", SDP: "sdp-b"})
	second.Timestamp = first.Timestamp + 1

	// No subscriber yet: second offer, from a different sender, replaces
	// the pending one.
	m.Send(context.Background(), first)
	m.Send(context.Background(), second)

	ch, cancel := m.Subscribe("u3")
	defer cancel()

	got := recvOne(t, ch)
	if got.From != "u2" || got.Description.SDP != "sdp-b" {
		t.Fatalf("expected superseding offer, got %+v", got)
	}
	expectNone(t, ch)
}

func TestMemoryCandidatesAreNotCoalesced(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	for i := 0; i < 5; i++ {
		m.Send(context.Background(), signal.NewCandidate("u1", "u2", signal.ICECandidateInit{
			Candidate:     "candidate:" + string(rune('a'+i)),
			SDPMLineIndex: uint16(i),
		}))
	}

	ch, cancel := m.Subscribe("u2")
	defer cancel()

	for i := 0; i < 5; i++ {
		got := recvOne(t, ch)
		if got.Candidate.SDPMLineIndex != uint16(i) {
			t.Fatalf("candidate %d out of order: %+v", i, got.Candidate)
		}
	}
}

func TestMemoryDeduplicatesResends(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ch, cancel := m.Subscribe("u2")
	defer cancel()

	sig := signal.NewHangup("u1", "u2")
	m.Send(context.Background(), sig)
	m.Send(context.Background(), sig) // unchanged state re-emitted

	recvOne(t, ch)
	expectNone(t, ch)
}

func TestMemoryTopics(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ch, cancel := m.SubscribeTopic(TopicPresence)
	defer cancel()

	m.Publish(context.Background(), TopicPresence, []byte(`{"id":"u1"}`))
	select {
	case data := <-ch:
		if string(data) != `{"id":"u1"}` {
			t.Fatalf("wrong payload: %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for topic payload")
	}
}

func TestMemoryCancelStopsDelivery(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ch, cancel := m.Subscribe("u2")
	cancel()
	cancel() // cancel twice is safe

	m.Send(context.Background(), signal.NewHangup("u1", "u2"))
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}
}
