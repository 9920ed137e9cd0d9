package call

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aurachat/aura/internal/relay"
	"github.com/aurachat/aura/internal/signal"
	"github.com/aurachat/aura/internal/util"
)

// DefaultRingTimeout bounds how long a call may stay unanswered, on either
// side, before it is torn down automatically.
const DefaultRingTimeout = 60 * time.Second

// Options tune a Session.
type Options struct {
	// AssistantID, when set, marks a peer that can never be dialed.
	AssistantID string
	// RingTimeout overrides DefaultRingTimeout; zero means the default,
	// negative disables the timer.
	RingTimeout time.Duration
}

// Session is the local peer's call endpoint. It holds at most one active
// call; a second outgoing call while busy fails with ErrBusy, and incoming
// offers while busy are ignored (no call waiting).
//
// All transitions converge on teardown, which is idempotent: releasing
// media, closing the engine and notifying the remote peer (only when the
// ending was locally initiated — a teardown caused by a remote hangup must
// not echo a hangup back).
type Session struct {
	selfID string
	rel    relay.Relay
	stack  Stack
	opts   Options

	mu           sync.Mutex
	status       Status
	remote       string
	engine       Engine
	local        MediaStream
	pending      *signal.Signal // incoming offer awaiting Accept/Reject
	muted        bool
	cameraOff    bool
	remoteTracks int
	ringTimer    *time.Timer
	closed       bool
	listeners    []func(State)

	cancelSub func()
}

// NewSession subscribes to the relay as selfID and starts dispatching
// incoming signals. Close releases the subscription.
func NewSession(selfID string, rel relay.Relay, stack Stack, opts Options) *Session {
	if opts.RingTimeout == 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	s := &Session{
		selfID: selfID,
		rel:    rel,
		stack:  stack,
		opts:   opts,
		status: StatusIdle,
	}
	ch, cancel := rel.Subscribe(selfID)
	s.cancelSub = cancel
	go func() {
		for sig := range ch {
			s.HandleSignal(sig)
		}
	}()
	return s
}

// OnStateChange registers fn to be called after every observable transition.
// Callbacks run outside the session lock.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// State returns a snapshot of the current call state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	return State{
		Status:       s.status,
		RemotePeer:   s.remote,
		Muted:        s.muted,
		CameraOff:    s.cameraOff,
		RemoteTracks: s.remoteTracks,
	}
}

// notifyLocked snapshots state and listeners under the lock, releases it,
// and fires the callbacks.
func (s *Session) notifyLocked() {
	st := s.stateLocked()
	ls := make([]func(State), len(s.listeners))
	copy(ls, s.listeners)
	s.mu.Unlock()
	for _, fn := range ls {
		fn(st)
	}
}

// Start places an outgoing call: captures local media, creates an offer and
// sends it to peerID. The session rings in StatusCalling until an answer and
// the first remote track arrive, the remote hangs up, or the ring times out.
func (s *Session) Start(peerID string) error {
	if s.opts.AssistantID != "" && peerID == s.opts.AssistantID {
		return ErrAssistantTarget
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.status != StatusIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()

	ms, err := s.stack.Acquire(true, true)
	if err != nil {
		return err
	}
	engine, err := s.stack.NewEngine(ms)
	if err != nil {
		ms.Stop()
		return fmt.Errorf("negotiation engine: %w", err)
	}

	s.mu.Lock()
	if s.closed || s.status != StatusIdle {
		s.mu.Unlock()
		ms.Stop()
		engine.Close()
		return ErrBusy
	}
	s.status = StatusCalling
	s.remote = peerID
	s.engine = engine
	s.local = ms
	s.startRingTimerLocked()
	s.wireEngineLocked(engine)
	s.notifyLocked()

	offer, err := engine.CreateOffer()
	if err != nil {
		s.teardown(true)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := engine.SetLocalDescription(offer); err != nil {
		s.teardown(true)
		return fmt.Errorf("apply local offer: %w", err)
	}
	s.send(signal.NewOffer(s.selfID, peerID, offer))
	log.Printf("CALL [%s]: calling %s", s.selfID, peerID)
	return nil
}

// Accept answers the pending incoming call. Media capture failure aborts the
// call and notifies the caller.
func (s *Session) Accept() error {
	s.mu.Lock()
	if s.status != StatusReceiving || s.pending == nil {
		s.mu.Unlock()
		return ErrNoPendingCall
	}
	pending := s.pending
	s.mu.Unlock()

	ms, err := s.stack.Acquire(true, true)
	if err != nil {
		s.teardown(true)
		return err
	}
	engine, err := s.stack.NewEngine(ms)
	if err != nil {
		ms.Stop()
		s.teardown(true)
		return fmt.Errorf("negotiation engine: %w", err)
	}

	s.mu.Lock()
	if s.status != StatusReceiving || s.pending != pending {
		// The offer was superseded or the caller hung up mid-accept.
		s.mu.Unlock()
		ms.Stop()
		engine.Close()
		return ErrNoPendingCall
	}
	s.engine = engine
	s.local = ms
	s.pending = nil
	remote := s.remote
	s.wireEngineLocked(engine)
	s.notifyLocked()

	if err := engine.SetRemoteDescription(*pending.Description); err != nil {
		s.teardown(true)
		return fmt.Errorf("apply remote offer: %w", err)
	}
	answer, err := engine.CreateAnswer()
	if err != nil {
		s.teardown(true)
		return fmt.Errorf("create answer: %w", err)
	}
	if err := engine.SetLocalDescription(answer); err != nil {
		s.teardown(true)
		return fmt.Errorf("apply local answer: %w", err)
	}
	s.send(signal.NewAnswer(s.selfID, remote, answer))
	log.Printf("CALL [%s]: accepted call from %s", s.selfID, remote)
	return nil
}

// Reject declines the pending incoming call and notifies the caller. A
// no-op when nothing is ringing.
func (s *Session) Reject() {
	s.mu.Lock()
	receiving := s.status == StatusReceiving
	s.mu.Unlock()
	if receiving {
		log.Printf("CALL [%s]: rejected incoming call", s.selfID)
		s.teardown(true)
	}
}

// Hangup ends the current call, whatever phase it is in. Calling it while
// idle is a no-op.
func (s *Session) Hangup() {
	s.teardown(true)
}

// ToggleMicrophone flips the mute state and returns the new muted value.
func (s *Session) ToggleMicrophone() bool {
	return s.toggle(TrackAudio)
}

// ToggleCamera flips the camera state and returns true when the camera is
// now off.
func (s *Session) ToggleCamera() bool {
	return s.toggle(TrackVideo)
}

func (s *Session) toggle(kind TrackKind) bool {
	s.mu.Lock()
	if s.local == nil {
		var off bool
		if kind == TrackAudio {
			off = s.muted
		} else {
			off = s.cameraOff
		}
		s.mu.Unlock()
		return off
	}
	var off bool
	if kind == TrackAudio {
		s.muted = !s.muted
		off = s.muted
	} else {
		s.cameraOff = !s.cameraOff
		off = s.cameraOff
	}
	for _, t := range s.local.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(!off)
		}
	}
	s.notifyLocked()
	return off
}

// Close shuts the session down: any active call is hung up and the relay
// subscription is released.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancelSub
	s.mu.Unlock()
	s.teardown(true)
	if cancel != nil {
		cancel()
	}
}

// HandleSignal dispatches one incoming signal. Signals not addressed to this
// peer, or from a peer other than the current call party, are ignored.
func (s *Session) HandleSignal(sig *signal.Signal) {
	if sig == nil || sig.To != s.selfID {
		return
	}
	switch sig.Kind {
	case signal.KindOffer:
		s.handleOffer(sig)
	case signal.KindAnswer:
		s.handleAnswer(sig)
	case signal.KindCandidate:
		s.handleCandidate(sig)
	case signal.KindHangup:
		s.handleHangup(sig)
	}
}

func (s *Session) handleOffer(sig *signal.Signal) {
	s.mu.Lock()
	switch s.status {
	case StatusIdle:
		s.status = StatusReceiving
		s.remote = sig.From
		s.pending = sig
		s.startRingTimerLocked()
		log.Printf("CALL [%s]: incoming call from %s", s.selfID, sig.From)
	case StatusReceiving:
		// A re-sent or renewed offer replaces the pending one.
		s.remote = sig.From
		s.pending = sig
		s.startRingTimerLocked()
	default:
		// Busy: no call waiting. The caller's ring timeout ends it.
		s.mu.Unlock()
		log.Printf("CALL [%s]: ignoring offer from %s while %s", s.selfID, sig.From, s.status)
		return
	}
	s.notifyLocked()
}

func (s *Session) handleAnswer(sig *signal.Signal) {
	s.mu.Lock()
	if s.status != StatusCalling || sig.From != s.remote || s.engine == nil {
		s.mu.Unlock()
		return
	}
	engine := s.engine
	s.mu.Unlock()

	if err := engine.SetRemoteDescription(*sig.Description); err != nil {
		log.Printf("CALL [%s]: apply answer from %s: %v", s.selfID, sig.From, err)
		s.teardown(true)
		return
	}
	log.Printf("CALL [%s]: answer from %s applied", s.selfID, sig.From)
}

func (s *Session) handleCandidate(sig *signal.Signal) {
	s.mu.Lock()
	engine := s.engine
	fromParty := sig.From == s.remote
	s.mu.Unlock()
	if engine == nil || !fromParty {
		// No engine yet (e.g. ringing, not accepted): discard. Trickle
		// ICE resends candidates after the answer, so nothing is lost.
		return
	}
	if err := engine.AddICECandidate(*sig.Candidate); err != nil {
		log.Printf("CALL [%s]: add candidate from %s: %v", s.selfID, sig.From, err)
	}
}

func (s *Session) handleHangup(sig *signal.Signal) {
	s.mu.Lock()
	active := s.status != StatusIdle && sig.From == s.remote
	s.mu.Unlock()
	if active {
		log.Printf("CALL [%s]: remote %s hung up", s.selfID, sig.From)
		s.teardown(false)
	}
}

// wireEngineLocked registers the engine callbacks. The engine identity check
// in each callback makes stale engines (already torn down) inert.
func (s *Session) wireEngineLocked(e Engine) {
	e.OnICECandidate(func(c signal.ICECandidateInit) {
		s.mu.Lock()
		open := s.engine == e
		to := s.remote
		s.mu.Unlock()
		if !open || to == "" {
			return
		}
		s.send(signal.NewCandidate(s.selfID, to, c))
	})
	e.OnTrack(func(tr RemoteTrack) {
		s.mu.Lock()
		if s.engine != e {
			s.mu.Unlock()
			return
		}
		s.remoteTracks++
		if s.status == StatusCalling || s.status == StatusReceiving {
			s.status = StatusConnected
			s.stopRingTimerLocked()
			log.Printf("CALL [%s]: connected to %s (%s track)", s.selfID, s.remote, tr.Kind)
		}
		s.notifyLocked()
	})
	e.OnFailure(func() {
		s.mu.Lock()
		current := s.engine == e
		s.mu.Unlock()
		if current {
			log.Printf("CALL [%s]: transport failed", s.selfID)
			s.teardown(true)
		}
	})
}

func (s *Session) startRingTimerLocked() {
	if s.opts.RingTimeout < 0 {
		return
	}
	s.stopRingTimerLocked()
	s.ringTimer = time.AfterFunc(s.opts.RingTimeout, func() {
		s.mu.Lock()
		ringing := s.status == StatusCalling || s.status == StatusReceiving
		outgoing := s.status == StatusCalling
		s.mu.Unlock()
		if !ringing {
			return
		}
		log.Printf("CALL [%s]: unanswered after %s, giving up", s.selfID, s.opts.RingTimeout)
		// An expired incoming ring stays silent: the caller's own timer
		// ends their side, and a hangup from here would be redundant.
		s.teardown(outgoing)
	})
}

func (s *Session) stopRingTimerLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

// teardown releases everything and returns the session to idle. Safe to call
// any number of times, from any state. locallyInitiated controls whether the
// remote party is notified; a teardown triggered by the remote's own hangup
// must not echo one back.
func (s *Session) teardown(locallyInitiated bool) {
	s.mu.Lock()
	if s.status == StatusIdle && s.engine == nil && s.local == nil && s.pending == nil {
		s.mu.Unlock()
		return
	}
	remote := s.remote
	engine := s.engine
	local := s.local
	s.stopRingTimerLocked()
	s.status = StatusIdle
	s.remote = ""
	s.engine = nil
	s.local = nil
	s.pending = nil
	s.muted = false
	s.cameraOff = false
	s.remoteTracks = 0
	s.notifyLocked()

	if local != nil {
		local.Stop()
	}
	if engine != nil {
		if err := engine.Close(); err != nil {
			log.Printf("CALL [%s]: close engine: %v", s.selfID, err)
		}
	}
	if locallyInitiated && remote != "" {
		s.send(signal.NewHangup(s.selfID, remote))
	}
	if remote != "" {
		log.Printf("CALL [%s]: call with %s ended", s.selfID, remote)
	}
}

// send delivers a signal best-effort; signaling is unreliable by contract
// and failures only get logged.
func (s *Session) send(sig *signal.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultFetchTimeout)
	defer cancel()
	if err := s.rel.Send(ctx, sig); err != nil {
		log.Printf("CALL [%s]: send %s to %s: %v", s.selfID, sig.Kind, sig.To, err)
	}
}
