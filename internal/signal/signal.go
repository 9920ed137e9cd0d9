// Package signal defines the out-of-band messages two peers exchange to
// establish or tear down a call: SDP offers/answers, trickle ICE candidates
// and hangups. The wire format is {from, to, type, payload, timestamp};
// payloads are decoded into their typed shape at the relay boundary so the
// rest of the code never touches raw JSON.
package signal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the kind of signal.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindHangup    Kind = "hangup"
)

// SessionDescription is the standard SDP blob produced by the negotiation
// engine. Type is "offer" or "answer"; the SDP body is passed through opaquely.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidateInit is the standard RTCIceCandidateInit shape (W3C WebRTC).
type ICECandidateInit struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// Signal is one negotiation message between two identified peers. Exactly one
// payload field is set, matching Kind; hangup carries none. Signals are
// immutable once created.
type Signal struct {
	From      string
	To        string
	Kind      Kind
	Timestamp int64 // unix milliseconds

	Description *SessionDescription // offer, answer
	Candidate   *ICECandidateInit   // candidate
}

// NewOffer creates an offer signal carrying the local session description.
func NewOffer(from, to string, desc SessionDescription) *Signal {
	return &Signal{From: from, To: to, Kind: KindOffer, Timestamp: now(), Description: &desc}
}

// NewAnswer creates an answer signal carrying the local session description.
func NewAnswer(from, to string, desc SessionDescription) *Signal {
	return &Signal{From: from, To: to, Kind: KindAnswer, Timestamp: now(), Description: &desc}
}

// NewCandidate creates a trickle ICE candidate signal.
func NewCandidate(from, to string, cand ICECandidateInit) *Signal {
	return &Signal{From: from, To: to, Kind: KindCandidate, Timestamp: now(), Candidate: &cand}
}

// NewHangup creates a hangup signal. Hangups carry no payload.
func NewHangup(from, to string) *Signal {
	return &Signal{From: from, To: to, Kind: KindHangup, Timestamp: now()}
}

func now() int64 { return time.Now().UnixMilli() }

// envelope is the wire shape shared by every signal.
type envelope struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      Kind            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// MarshalJSON encodes the signal into the {from,to,type,payload,timestamp}
// envelope. A signal whose payload does not match its kind is an error.
func (s *Signal) MarshalJSON() ([]byte, error) {
	env := envelope{From: s.From, To: s.To, Type: s.Kind, Timestamp: s.Timestamp}

	switch s.Kind {
	case KindOffer, KindAnswer:
		if s.Description == nil {
			return nil, fmt.Errorf("signal: %s without session description", s.Kind)
		}
		raw, err := json.Marshal(s.Description)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	case KindCandidate:
		if s.Candidate == nil {
			return nil, fmt.Errorf("signal: candidate without candidate payload")
		}
		raw, err := json.Marshal(s.Candidate)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	case KindHangup:
		// no payload
	default:
		return nil, fmt.Errorf("signal: unknown kind %q", s.Kind)
	}

	return json.Marshal(env)
}

// UnmarshalJSON decodes the wire envelope, rejecting unknown kinds and
// payloads that do not match the declared kind.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	out := Signal{From: env.From, To: env.To, Kind: env.Type, Timestamp: env.Timestamp}

	switch env.Type {
	case KindOffer, KindAnswer:
		var desc SessionDescription
		if err := json.Unmarshal(env.Payload, &desc); err != nil {
			return fmt.Errorf("signal: bad %s payload: %w", env.Type, err)
		}
		if desc.SDP == "" {
			return fmt.Errorf("signal: %s payload missing sdp", env.Type)
		}
		out.Description = &desc
	case KindCandidate:
		var cand ICECandidateInit
		if err := json.Unmarshal(env.Payload, &cand); err != nil {
			return fmt.Errorf("signal: bad candidate payload: %w", err)
		}
		out.Candidate = &cand
	case KindHangup:
		// no payload
	default:
		return fmt.Errorf("signal: unknown kind %q", env.Type)
	}

	*s = out
	return nil
}

// Key identifies a logical signal for de-duplication when a last-value relay
// backend resends unchanged state.
func (s *Signal) Key() string {
	return fmt.Sprintf("%s/%s/%d", s.From, s.Kind, s.Timestamp)
}
