//go:build linux && cgo

package call

import (
	"fmt"
	"log"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// deviceStack captures camera/mic through pion/mediadevices (V4L2 + malgo).
type deviceStack struct{}

// NewDeviceStack returns the platform media stack.
func NewDeviceStack() Stack { return deviceStack{} }

// deviceTrack wraps a mediadevices track. Disabling detaches it from its
// RTP sender so no media leaves the machine while muted; the capture device
// stays open for instant re-enable.
type deviceTrack struct {
	track mediadevices.Track
	kind  TrackKind

	mu      sync.Mutex
	enabled bool
	sender  *webrtc.RTPSender
}

func (t *deviceTrack) Kind() TrackKind { return t.kind }

func (t *deviceTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *deviceTrack) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	sender := t.sender
	t.mu.Unlock()
	if sender == nil {
		return
	}
	var err error
	if on {
		err = sender.ReplaceTrack(t.track)
	} else {
		err = sender.ReplaceTrack(nil)
	}
	if err != nil {
		log.Printf("CALL: toggle %s track: %v", t.kind, err)
	}
}

func (t *deviceTrack) Stop() {
	if err := t.track.Close(); err != nil {
		log.Printf("CALL: close %s track: %v", t.kind, err)
	}
}

func (t *deviceTrack) attach(sender *webrtc.RTPSender) {
	t.mu.Lock()
	t.sender = sender
	t.mu.Unlock()
}

// deviceStream bundles captured tracks with the codec selector that must
// populate the media engine they get attached to.
type deviceStream struct {
	tracks   []*deviceTrack
	selector *mediadevices.CodecSelector
}

func (s *deviceStream) Tracks() []LocalTrack {
	out := make([]LocalTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *deviceStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

func (deviceStack) Acquire(video, audio bool) (MediaStream, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	constraints := mediadevices.MediaStreamConstraints{Codec: selector}
	if video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG — some cameras expose an MJPEG V4L2 node
			// whose malformed frames poison the VP8 encoder. Raw only.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			// Cap at 640×480 to keep VP8 encoding latency down.
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}
	if audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	ds := &deviceStream{selector: selector}
	for _, track := range stream.GetTracks() {
		kind := TrackVideo
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			kind = TrackAudio
		}
		track.OnEnded(func(err error) {
			if err != nil {
				log.Printf("CALL: local track ended: %v", err)
			}
		})
		ds.tracks = append(ds.tracks, &deviceTrack{track: track, kind: kind, enabled: true})
	}
	log.Printf("CALL: local media captured, %d tracks", len(ds.tracks))
	return ds, nil
}

func (deviceStack) NewEngine(ms MediaStream) (Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}

	ds, _ := ms.(*deviceStream)
	if ds != nil {
		ds.selector.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine()),
	)
	eng, err := newPionEngine(api)
	if err != nil {
		return nil, err
	}

	if ds == nil || len(ds.tracks) == 0 {
		addRecvOnlyTransceivers(eng.pc)
		return eng, nil
	}
	for _, t := range ds.tracks {
		sender, err := eng.pc.AddTrack(t.track)
		if err != nil {
			eng.Close()
			return nil, fmt.Errorf("add %s track: %w", t.kind, err)
		}
		t.attach(sender)
	}
	return eng, nil
}
