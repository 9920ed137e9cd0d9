package call

import (
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/aurachat/aura/internal/signal"
)

var iceServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// pionEngine adapts a webrtc.PeerConnection to the Engine interface.
type pionEngine struct {
	pc        *webrtc.PeerConnection
	closeOnce sync.Once
	closeErr  error
}

func newPionEngine(api *webrtc.API) (*pionEngine, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}
	return &pionEngine{pc: pc}, nil
}

// settingEngine applies generous ICE timeouts. The default disconnected
// timeout of 5 s is too short for relay paths that stall briefly during
// re-keying or failover; 30 s lets ICE recover without dropping the call.
func settingEngine() webrtc.SettingEngine {
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)
	return se
}

// addRecvOnlyTransceivers ensures the SDP carries audio and video m-lines
// with ICE credentials even when no local tracks are attached.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Printf("CALL: add recvonly %s transceiver: %v", kind, err)
		}
	}
}

func toWire(d webrtc.SessionDescription) signal.SessionDescription {
	return signal.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func fromWire(d signal.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func (e *pionEngine) CreateOffer() (signal.SessionDescription, error) {
	d, err := e.pc.CreateOffer(nil)
	if err != nil {
		return signal.SessionDescription{}, err
	}
	return toWire(d), nil
}

func (e *pionEngine) CreateAnswer() (signal.SessionDescription, error) {
	d, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return signal.SessionDescription{}, err
	}
	return toWire(d), nil
}

func (e *pionEngine) SetLocalDescription(d signal.SessionDescription) error {
	return e.pc.SetLocalDescription(fromWire(d))
}

func (e *pionEngine) SetRemoteDescription(d signal.SessionDescription) error {
	return e.pc.SetRemoteDescription(fromWire(d))
}

func (e *pionEngine) AddICECandidate(c signal.ICECandidateInit) error {
	mid := c.SDPMid
	idx := c.SDPMLineIndex
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
}

func (e *pionEngine) OnICECandidate(fn func(signal.ICECandidateInit)) {
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		j := c.ToJSON()
		out := signal.ICECandidateInit{Candidate: j.Candidate}
		if j.SDPMid != nil {
			out.SDPMid = *j.SDPMid
		}
		if j.SDPMLineIndex != nil {
			out.SDPMLineIndex = *j.SDPMLineIndex
		}
		fn(out)
	})
}

func (e *pionEngine) OnTrack(fn func(RemoteTrack)) {
	e.pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := TrackVideo
		if tr.Kind() == webrtc.RTPCodecTypeAudio {
			kind = TrackAudio
		}
		// Keep the receive buffers drained; without a reader the
		// interceptor queues fill up and the track stalls.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := tr.Read(buf); err != nil {
					return
				}
			}
		}()
		fn(RemoteTrack{ID: tr.ID(), Kind: kind})
	})
}

func (e *pionEngine) OnFailure(fn func()) {
	e.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Printf("CALL: connection state %s", st)
		if st == webrtc.PeerConnectionStateFailed {
			fn()
		}
	})
}

func (e *pionEngine) Close() error {
	e.closeOnce.Do(func() { e.closeErr = e.pc.Close() })
	return e.closeErr
}
