package server

import (
	"encoding/binary"
	"log"
	"math"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aurachat/aura/internal/dictation"
)

var dictationUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// registerDictationRoutes wires the dictation WebSocket: the client sends a
// JSON start frame, then binary float32 little-endian audio frames, and gets
// transcription results back as JSON.
func (s *Server) registerDictationRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/dictation/stream", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.d.Profiles.Authenticate(token(r)); !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		conn, err := dictationUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("DICTATE: upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var start struct {
			SampleRate int `json:"sampleRate"`
		}
		if err := conn.ReadJSON(&start); err != nil {
			return
		}
		if err := s.d.Recorder.Start(r.Context(), start.SampleRate); err != nil {
			conn.WriteJSON(map[string]string{"error": err.Error()})
			return
		}
		defer s.d.Recorder.Stop()

		var writeMu sync.Mutex
		s.d.Recorder.OnTranscript(func(res dictation.Result) {
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteJSON(res); err != nil {
				log.Printf("DICTATE: write transcript: %v", err)
			}
		})

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			if err := s.d.Recorder.Push(decodeFloat32(data)); err != nil {
				return
			}
		}
	})

	handleGet(mux, "/api/dictation/state", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		writeJSON(w, map[string]bool{"active": s.d.Recorder.Active()})
	})
}

// decodeFloat32 reads little-endian float32 PCM. A trailing partial sample
// is dropped.
func decodeFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
