package dictation

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// WSTranscriber streams audio to a WebSocket transcription service. The
// protocol is one JSON config frame, then binary audio frames out and JSON
// Result frames back.
type WSTranscriber struct {
	url    string
	dialer *websocket.Dialer
}

// NewWSTranscriber points at a transcription endpoint (ws:// or wss://).
func NewWSTranscriber(url string) *WSTranscriber {
	return &WSTranscriber{url: url, dialer: websocket.DefaultDialer}
}

// Start dials the service and performs the config handshake.
func (t *WSTranscriber) Start(ctx context.Context, cfg StreamConfig) (Stream, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial transcriber: %w", err)
	}
	if err := conn.WriteJSON(cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send config: %w", err)
	}

	s := &wsStream{conn: conn, results: make(chan Result, 16)}
	go s.readLoop(ctx)
	return s, nil
}

type wsStream struct {
	conn    *websocket.Conn
	results chan Result

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *wsStream) Write(pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *wsStream) Results() <-chan Result { return s.results }

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) readLoop(ctx context.Context) {
	defer close(s.results)
	defer s.Close()
	for {
		var res Result
		if err := s.conn.ReadJSON(&res); err != nil {
			return
		}
		select {
		case s.results <- res:
		case <-ctx.Done():
			return
		}
	}
}
