package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aurachat/aura/internal/call"
	"github.com/aurachat/aura/internal/chat"
	"github.com/aurachat/aura/internal/dictation"
	"github.com/aurachat/aura/internal/presence"
	"github.com/aurachat/aura/internal/profile"
	"github.com/aurachat/aura/internal/relay"
	"github.com/aurachat/aura/internal/signal"
	"github.com/aurachat/aura/internal/storage"
)

// ── stub media stack ─────────────────────────────────────────────────────

type stubTrack struct{ kind call.TrackKind }

func (t stubTrack) Kind() call.TrackKind { return t.kind }
func (t stubTrack) Enabled() bool        { return true }
func (t stubTrack) SetEnabled(bool)      {}
func (t stubTrack) Stop()                {}

type stubStream struct{}

func (stubStream) Tracks() []call.LocalTrack {
	return []call.LocalTrack{stubTrack{call.TrackAudio}, stubTrack{call.TrackVideo}}
}
func (stubStream) Stop() {}

type stubEngine struct{}

func (stubEngine) CreateOffer() (signal.SessionDescription, error) {
	return signal.SessionDescription{Type: "offer", SDP: "v=0 stub"}, nil
}
func (stubEngine) CreateAnswer() (signal.SessionDescription, error) {
	return signal.SessionDescription{Type: "answer", SDP: "v=0 stub"}, nil
}
func (stubEngine) SetLocalDescription(signal.SessionDescription) error  { return nil }
func (stubEngine) SetRemoteDescription(signal.SessionDescription) error { return nil }
func (stubEngine) AddICECandidate(signal.ICECandidateInit) error        { return nil }
func (stubEngine) OnICECandidate(func(signal.ICECandidateInit))         {}
func (stubEngine) OnTrack(func(call.RemoteTrack))                       {}
func (stubEngine) OnFailure(func())                                     {}
func (stubEngine) Close() error                                         { return nil }

type stubStack struct{}

func (stubStack) Acquire(bool, bool) (call.MediaStream, error) { return stubStream{}, nil }
func (stubStack) NewEngine(call.MediaStream) (call.Engine, error) {
	return stubEngine{}, nil
}

type stubTranscriber struct{}

func (stubTranscriber) Start(context.Context, dictation.StreamConfig) (dictation.Stream, error) {
	return nil, fmt.Errorf("not wired in tests")
}

// ── harness ──────────────────────────────────────────────────────────────

const assistantID = "aura-ai-intelligence"

type harness struct {
	srv   *httptest.Server
	token string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	bus := relay.NewMemory()
	t.Cleanup(func() { bus.Close() })

	peers := presence.NewTable()
	peers.Seed(presence.Peer{ID: assistantID, Username: "Aura", Online: true, Assistant: true})
	peers.Upsert("bob", "Bob", "")

	chatMgr := chat.NewManager("alice", db, bus)
	t.Cleanup(chatMgr.Close)

	session := call.NewSession("alice", bus, stubStack{}, call.Options{
		AssistantID: assistantID,
		RingTimeout: -1,
	})
	t.Cleanup(session.Close)

	mux := http.NewServeMux()
	New(mux, Deps{
		SelfID:      "alice",
		AssistantID: assistantID,
		Profiles:    profile.NewManager(db),
		Peers:       peers,
		Chat:        chatMgr,
		Call:        session,
		Recorder:    dictation.NewRecorder(stubTranscriber{}),
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h := &harness{srv: srv}
	resp := h.post(t, "/api/auth/register", map[string]string{
		"username": "alice", "password": "correct horse",
	}, http.StatusOK)
	h.token = resp["token"].(string)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, wantStatus int) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status %d, want %d", method, path, resp.StatusCode, wantStatus)
	}
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return out
}

func (h *harness) post(t *testing.T, path string, body any, wantStatus int) map[string]any {
	return h.do(t, http.MethodPost, path, body, wantStatus)
}

func (h *harness) get(t *testing.T, path string, wantStatus int) map[string]any {
	return h.do(t, http.MethodGet, path, nil, wantStatus)
}

// ── tests ────────────────────────────────────────────────────────────────

func TestAuthFlow(t *testing.T) {
	h := newHarness(t)

	me := h.get(t, "/api/auth/me", http.StatusOK)
	acct := me["account"].(map[string]any)
	if acct["username"] != "alice" || me["peer_id"] != "alice" {
		t.Fatalf("me = %+v", me)
	}

	h.post(t, "/api/auth/logout", nil, http.StatusOK)
	h.get(t, "/api/auth/me", http.StatusUnauthorized)
}

func TestRequiresAuth(t *testing.T) {
	h := newHarness(t)
	h.token = ""
	h.get(t, "/api/peers", http.StatusUnauthorized)
	h.post(t, "/api/messages/send", map[string]string{"to": "bob", "content": "x"}, http.StatusUnauthorized)
	h.post(t, "/api/call/start", map[string]string{"peer": "bob"}, http.StatusUnauthorized)
}

func TestBadLogin(t *testing.T) {
	h := newHarness(t)
	h.token = ""
	h.post(t, "/api/auth/login", map[string]string{
		"username": "alice", "password": "wrong",
	}, http.StatusUnauthorized)
}

func TestPeersListsAssistantFirst(t *testing.T) {
	h := newHarness(t)

	out := h.get(t, "/api/peers", http.StatusOK)
	peers := out["peers"].([]any)
	if len(peers) != 2 {
		t.Fatalf("peers = %+v", peers)
	}
	first := peers[0].(map[string]any)
	if first["id"] != assistantID || first["online"] != true {
		t.Fatalf("first peer = %+v, want the assistant online", first)
	}
}

func TestSendAndFetchMessages(t *testing.T) {
	h := newHarness(t)

	sent := h.post(t, "/api/messages/send", map[string]string{
		"to": "bob", "content": "hello",
	}, http.StatusOK)
	msg := sent["message"].(map[string]any)
	if msg["status"] != storage.StatusSent {
		t.Fatalf("message = %+v", msg)
	}

	out := h.get(t, "/api/messages?peer=bob", http.StatusOK)
	msgs := out["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v", msgs)
	}

	h.post(t, "/api/messages/clear", map[string]string{"peer": "bob"}, http.StatusOK)
	out = h.get(t, "/api/messages?peer=bob", http.StatusOK)
	if msgs, _ := out["messages"].([]any); len(msgs) != 0 {
		t.Fatalf("messages after clear = %+v", msgs)
	}
}

func TestCallLifecycleOverAPI(t *testing.T) {
	h := newHarness(t)

	st := h.get(t, "/api/call/state", http.StatusOK)
	if st["status"] != string(call.StatusIdle) {
		t.Fatalf("initial state = %+v", st)
	}

	st = h.post(t, "/api/call/start", map[string]string{"peer": "bob"}, http.StatusOK)
	if st["status"] != string(call.StatusCalling) {
		t.Fatalf("state after start = %+v", st)
	}

	h.post(t, "/api/call/start", map[string]string{"peer": "carol"}, http.StatusConflict)

	st = h.post(t, "/api/call/hangup", nil, http.StatusOK)
	if st["status"] != string(call.StatusIdle) {
		t.Fatalf("state after hangup = %+v", st)
	}
}

func TestCallAssistantRejected(t *testing.T) {
	h := newHarness(t)
	h.post(t, "/api/call/start", map[string]string{"peer": assistantID}, http.StatusBadRequest)
}

func TestAcceptWithoutIncomingCall(t *testing.T) {
	h := newHarness(t)
	h.post(t, "/api/call/accept", nil, http.StatusBadRequest)
}
