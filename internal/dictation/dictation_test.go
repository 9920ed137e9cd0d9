package dictation

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"
)

// ── resampler ────────────────────────────────────────────────────────────

func TestResamplePassthrough(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := resample(in, 16000, 16000)
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
}

func TestResampleHalvesRate(t *testing.T) {
	in := make([]float32, 480) // 10 ms at 48 kHz
	out := resample(in, 48000, 16000)
	if len(out) != 160 { // 10 ms at 16 kHz
		t.Fatalf("len = %d, want 160", len(out))
	}
}

func TestResamplePreservesTone(t *testing.T) {
	// A 100 Hz sine sampled at 48 kHz should keep its shape at 16 kHz.
	in := make([]float32, 4800)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 100 * float64(i) / 48000))
	}
	out := resample(in, 48000, 16000)
	for i, s := range out {
		want := float32(math.Sin(2 * math.Pi * 100 * float64(i) / 16000))
		if diff := float64(s - want); math.Abs(diff) > 0.01 {
			t.Fatalf("sample %d = %f, want %f", i, s, want)
		}
	}
}

func TestPCM16ClampsAndEncodes(t *testing.T) {
	out := pcm16([]float32{0, 1, -1, 2, -2})
	if len(out) != 10 {
		t.Fatalf("len = %d", len(out))
	}
	if v := int16(binary.LittleEndian.Uint16(out[0:])); v != 0 {
		t.Fatalf("sample 0 = %d", v)
	}
	if v := int16(binary.LittleEndian.Uint16(out[2:])); v != 32767 {
		t.Fatalf("sample 1 = %d", v)
	}
	over := int16(binary.LittleEndian.Uint16(out[6:]))
	if over != 32767 {
		t.Fatalf("clipped sample = %d, want 32767", over)
	}
}

// ── recorder ─────────────────────────────────────────────────────────────

type fakeStream struct {
	mu      sync.Mutex
	frames  [][]byte
	results chan Result
	closed  bool
}

func (s *fakeStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *fakeStream) Results() <-chan Result { return s.results }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return nil
}

type fakeTranscriber struct {
	mu      sync.Mutex
	streams []*fakeStream
	cfg     StreamConfig
}

func (f *fakeTranscriber) Start(_ context.Context, cfg StreamConfig) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	s := &fakeStream{results: make(chan Result, 4)}
	f.streams = append(f.streams, s)
	return s, nil
}

func TestRecorderLifecycle(t *testing.T) {
	tr := &fakeTranscriber{}
	r := NewRecorder(tr)

	var mu sync.Mutex
	var texts []string
	r.OnTranscript(func(res Result) {
		mu.Lock()
		texts = append(texts, res.Text)
		mu.Unlock()
	})

	if err := r.Push([]float32{0}); err != ErrNotRunning {
		t.Fatalf("Push before Start err = %v, want ErrNotRunning", err)
	}

	if err := r.Start(context.Background(), 48000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tr.cfg.SampleRate != TargetRate || tr.cfg.Channels != 1 || tr.cfg.Encoding != "s16le" {
		t.Fatalf("stream config = %+v", tr.cfg)
	}
	if err := r.Start(context.Background(), 48000); err != ErrActive {
		t.Fatalf("second Start err = %v, want ErrActive", err)
	}

	if err := r.Push(make([]float32, 480)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	stream := tr.streams[0]
	stream.mu.Lock()
	frameLen := len(stream.frames[0])
	stream.mu.Unlock()
	if frameLen != 320 { // 160 samples * 2 bytes after 48k -> 16k
		t.Fatalf("frame bytes = %d, want 320", frameLen)
	}

	stream.results <- Result{Text: "hello", Final: false}
	stream.results <- Result{Text: "hello world", Final: true}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(texts)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	if len(texts) != 2 || texts[1] != "hello world" {
		t.Fatalf("transcripts = %v", texts)
	}
	mu.Unlock()

	r.Stop()
	r.Stop() // idempotent
	if r.Active() {
		t.Fatal("recorder still active after Stop")
	}
	if err := r.Push([]float32{0}); err != ErrNotRunning {
		t.Fatalf("Push after Stop err = %v, want ErrNotRunning", err)
	}

	// A fresh session may start again.
	if err := r.Start(context.Background(), 16000); err != nil {
		t.Fatalf("restart: %v", err)
	}
	r.Stop()
}
