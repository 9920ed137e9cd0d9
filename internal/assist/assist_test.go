package assist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fakeGemini(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") == "" {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.SystemInstruction == nil || len(req.Contents) == 0 {
			http.Error(w, "bad request shape", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{
			Candidates: []struct {
				Content turn `json:"content"`
			}{
				{Content: turn{Role: "model", Parts: []part{{Text: reply}}}},
			},
		})
	}))
}

func TestReply(t *testing.T) {
	srv := fakeGemini(t, "hey there 👋")
	defer srv.Close()

	c := NewClient("test-key", "", srv.URL)
	got, err := c.Reply(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got != "hey there 👋" {
		t.Fatalf("reply = %q", got)
	}
}

func TestReplyKeepsHistory(t *testing.T) {
	var lastTurns int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		lastTurns = len(req.Contents)
		json.NewEncoder(w).Encode(generateResponse{
			Candidates: []struct {
				Content turn `json:"content"`
			}{
				{Content: turn{Role: "model", Parts: []part{{Text: "ok"}}}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", "", srv.URL)
	c.Reply(context.Background(), "first")
	c.Reply(context.Background(), "second")
	if lastTurns != 3 { // user+model from the first turn, plus the new prompt
		t.Fatalf("second request carried %d turns, want 3", lastTurns)
	}
}

func TestFallbackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test-key", "", srv.URL)
	got, err := c.Reply(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got != Fallback {
		t.Fatalf("reply = %q, want fallback", got)
	}
}

func TestFallbackWithoutKey(t *testing.T) {
	c := NewClient("", "", "http://127.0.0.1:0")
	got, err := c.Reply(context.Background(), "hello")
	if err != nil || got != Fallback {
		t.Fatalf("reply = %q, err = %v, want fallback", got, err)
	}
}
