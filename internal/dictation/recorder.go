// Package dictation captures microphone audio for the assistant: float32
// frames pushed by the audio source are resampled to 16 kHz mono s16le and
// streamed to a transcription backend, whose text results flow back through
// a callback.
package dictation

import (
	"context"
	"errors"
	"log"
	"sync"
)

var (
	// ErrActive is returned when Start is called on a running recorder.
	ErrActive = errors.New("dictation already running")
	// ErrNotRunning is returned when audio is pushed without a session.
	ErrNotRunning = errors.New("dictation not running")
)

// Result is one transcription update. Partial results may be revised until
// a final one arrives.
type Result struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// StreamConfig describes the audio format of a transcription stream.
type StreamConfig struct {
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

// Stream is one open transcription session.
type Stream interface {
	// Write sends one encoded audio frame.
	Write(pcm []byte) error
	// Results yields transcription updates; closed when the stream ends.
	Results() <-chan Result
	Close() error
}

// Transcriber opens transcription streams.
type Transcriber interface {
	Start(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Disabled is the Transcriber used when no backend is configured: every
// session attempt fails cleanly.
type Disabled struct{}

func (Disabled) Start(context.Context, StreamConfig) (Stream, error) {
	return nil, errors.New("no transcription backend configured")
}

// Recorder owns at most one dictation session at a time.
type Recorder struct {
	tr Transcriber

	mu      sync.Mutex
	stream  Stream
	srcRate int
	onText  func(Result)
	cancel  context.CancelFunc
}

// NewRecorder creates a recorder on top of tr.
func NewRecorder(tr Transcriber) *Recorder {
	return &Recorder{tr: tr}
}

// OnTranscript registers the callback for transcription updates.
func (r *Recorder) OnTranscript(fn func(Result)) {
	r.mu.Lock()
	r.onText = fn
	r.mu.Unlock()
}

// Start opens a transcription stream for audio captured at srcRate.
func (r *Recorder) Start(ctx context.Context, srcRate int) error {
	if srcRate <= 0 {
		srcRate = TargetRate
	}
	r.mu.Lock()
	if r.stream != nil {
		r.mu.Unlock()
		return ErrActive
	}
	r.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	stream, err := r.tr.Start(sctx, StreamConfig{
		SampleRate: TargetRate,
		Channels:   1,
		Encoding:   "s16le",
	})
	if err != nil {
		cancel()
		return err
	}

	r.mu.Lock()
	if r.stream != nil {
		r.mu.Unlock()
		cancel()
		stream.Close()
		return ErrActive
	}
	r.stream = stream
	r.srcRate = srcRate
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		for res := range stream.Results() {
			r.mu.Lock()
			onText := r.onText
			r.mu.Unlock()
			if onText != nil {
				onText(res)
			}
		}
		// Stream ended on its own (backend closed): release the slot.
		r.mu.Lock()
		if r.stream == stream {
			r.stream = nil
			r.cancel = nil
		}
		r.mu.Unlock()
	}()

	log.Printf("DICTATE: session started (%d Hz source)", srcRate)
	return nil
}

// Push feeds one mono float32 frame from the capture device.
func (r *Recorder) Push(frame []float32) error {
	r.mu.Lock()
	stream := r.stream
	srcRate := r.srcRate
	r.mu.Unlock()
	if stream == nil {
		return ErrNotRunning
	}
	return stream.Write(pcm16(resample(frame, srcRate, TargetRate)))
}

// Active reports whether a session is open.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// Stop ends the session. Safe to call repeatedly.
func (r *Recorder) Stop() {
	r.mu.Lock()
	stream := r.stream
	cancel := r.cancel
	r.stream = nil
	r.cancel = nil
	r.mu.Unlock()
	if stream == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	if err := stream.Close(); err != nil {
		log.Printf("DICTATE: close stream: %v", err)
	}
	log.Printf("DICTATE: session stopped")
}
