package signal

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOfferRoundTrip(t *testing.T) {
	in := NewOffer("u1", "u2", SessionDescription{Type: "offer", SDP: "v=0\r\no=- 42 2 IN IP4 127.0.0.1\r\n"})

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Signal
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.From != "u1" || out.To != "u2" || out.Kind != KindOffer {
		t.Fatalf("envelope fields lost: %+v", out)
	}
	if out.Description == nil || out.Description.SDP != in.Description.SDP {
		t.Fatalf("sdp did not round-trip: %+v", out.Description)
	}
	if out.Timestamp != in.Timestamp {
		t.Fatalf("timestamp changed: %d != %d", out.Timestamp, in.Timestamp)
	}
}

func TestCandidateRoundTrip(t *testing.T) {
	cand := ICECandidateInit{
		Candidate:     "candidate:1 1 UDP 2122252543 192.168.1.7 53421 typ host",
		SDPMid:        "0",
		SDPMLineIndex: 0,
	}
	data, err := json.Marshal(NewCandidate("u2", "u1", cand))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Signal
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Candidate == nil || *out.Candidate != cand {
		t.Fatalf("candidate did not round-trip: %+v", out.Candidate)
	}
}

func TestHangupHasNoPayload(t *testing.T) {
	data, err := json.Marshal(NewHangup("u1", "u2"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "payload") {
		t.Fatalf("hangup should omit payload entirely: %s", data)
	}

	var out Signal
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Description != nil || out.Candidate != nil {
		t.Fatalf("hangup grew a payload: %+v", out)
	}
}

func TestUnknownKindRejected(t *testing.T) {
	var out Signal
	err := json.Unmarshal([]byte(`{"from":"a","to":"b","type":"renegotiate","timestamp":1}`), &out)
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestOfferWithoutSDPRejected(t *testing.T) {
	var out Signal
	err := json.Unmarshal([]byte(`{"from":"a","to":"b","type":"offer","payload":{},"timestamp":1}`), &out)
	if err == nil {
		t.Fatal("expected error for offer without sdp")
	}
}

func TestMarshalKindPayloadMismatch(t *testing.T) {
	s := &Signal{From: "a", To: "b", Kind: KindOffer, Timestamp: 1}
	if _, err := json.Marshal(s); err == nil {
		t.Fatal("expected error for offer without description")
	}
}
