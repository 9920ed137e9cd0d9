// Package call implements the signaling state machine for one-to-one
// audio/video calls. A Session owns the local peer's side of at most one call
// at a time: it drives offer/answer negotiation through an Engine, streams
// trickle ICE candidates over the relay, and converges every ending — local
// hangup, remote hangup, rejection, timeout, negotiation failure — onto a
// single idempotent teardown path.
package call

import (
	"errors"

	"github.com/aurachat/aura/internal/signal"
)

// Status is the call lifecycle phase as observed by the UI.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusCalling   Status = "calling"   // outgoing offer sent, awaiting answer
	StatusReceiving Status = "receiving" // incoming offer pending accept/reject
	StatusConnected Status = "connected" // media flowing both ways
)

var (
	// ErrBusy is returned when a call is started while another is in progress.
	ErrBusy = errors.New("call already in progress")

	// ErrAssistantTarget is returned when the assistant is dialed. The
	// assistant only takes audio input via dictation, never live calls.
	ErrAssistantTarget = errors.New("assistant does not take calls, use dictation")

	// ErrMediaUnavailable is returned when camera/microphone capture is
	// denied or not supported on this platform.
	ErrMediaUnavailable = errors.New("camera/microphone unavailable")

	// ErrNoPendingCall is returned by Accept when no offer is waiting.
	ErrNoPendingCall = errors.New("no incoming call to accept")

	// ErrClosed is returned once the session has been shut down.
	ErrClosed = errors.New("call session closed")
)

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// LocalTrack is one captured device track. SetEnabled(false) keeps the track
// attached to the connection but stops it producing media (mute / camera off).
type LocalTrack interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	Stop()
}

// MediaStream bundles the local capture tracks for one call. Stop releases
// the underlying devices.
type MediaStream interface {
	Tracks() []LocalTrack
	Stop()
}

// RemoteTrack describes an incoming media track from the remote peer.
type RemoteTrack struct {
	ID   string
	Kind TrackKind
}

// Engine is the negotiation side of one peer connection. Callbacks must be
// registered before the first SetLocalDescription; they may fire from the
// engine's own goroutines.
type Engine interface {
	CreateOffer() (signal.SessionDescription, error)
	CreateAnswer() (signal.SessionDescription, error)
	SetLocalDescription(signal.SessionDescription) error
	SetRemoteDescription(signal.SessionDescription) error
	AddICECandidate(signal.ICECandidateInit) error

	// OnICECandidate fires once per locally gathered candidate.
	OnICECandidate(func(signal.ICECandidateInit))
	// OnTrack fires when a remote media track starts arriving.
	OnTrack(func(RemoteTrack))
	// OnFailure fires when the transport fails irrecoverably.
	OnFailure(func())

	Close() error
}

// Stack abstracts platform media capture and engine construction so the
// session logic can be exercised without hardware or a network.
type Stack interface {
	// Acquire opens the local capture devices. Implementations return an
	// error wrapping ErrMediaUnavailable when capture is denied or the
	// platform has no capture support.
	Acquire(video, audio bool) (MediaStream, error)

	// NewEngine builds a negotiation engine with ms's tracks attached.
	NewEngine(ms MediaStream) (Engine, error)
}

// State is an immutable snapshot of the session, safe to hand to the UI.
type State struct {
	Status       Status `json:"status"`
	RemotePeer   string `json:"remotePeer,omitempty"`
	Muted        bool   `json:"muted"`
	CameraOff    bool   `json:"cameraOff"`
	RemoteTracks int    `json:"remoteTracks"`
}
