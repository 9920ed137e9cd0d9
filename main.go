package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/aurachat/aura/internal/assist"
	"github.com/aurachat/aura/internal/call"
	"github.com/aurachat/aura/internal/chat"
	"github.com/aurachat/aura/internal/config"
	"github.com/aurachat/aura/internal/dictation"
	"github.com/aurachat/aura/internal/presence"
	"github.com/aurachat/aura/internal/profile"
	"github.com/aurachat/aura/internal/relay"
	"github.com/aurachat/aura/internal/server"
	"github.com/aurachat/aura/internal/storage"
)

// AssistantID is the built-in assistant contact. It is always online, never
// callable, and answers messages through the Gemini client.
const AssistantID = "aura-ai-intelligence"

var (
	cfgPath  = flag.String("config", "config.json", "path to the config file")
	httpAddr = flag.String("addr", "", "override server.http_addr")
	showVer  = flag.Bool("version", false, "print version and exit")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()
	if *showVer {
		fmt.Printf("aura v%s\n", appVersion)
		return
	}

	if err := run(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, created, err := config.Ensure(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if created {
		log.Printf("MAIN: wrote default config to %s", *cfgPath)
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}

	db, err := storage.Open(cfg.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	selfID, err := loadPeerID(cfg.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("peer identity: %w", err)
	}
	log.Printf("MAIN: peer id %s", selfID)

	// The HTTP listener comes up before the relay because the websocket
	// backend may dial the hub hosted by this same process.
	mux := http.NewServeMux()
	var hub *relay.Hub
	if cfg.Relay.Backend == config.BackendWebSocket && cfg.Relay.WebSocket.Serve {
		hub = relay.NewHub()
		mux.Handle("/relay", hub)
	}
	ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.HTTPAddr, err)
	}
	httpSrv := &http.Server{Handler: mux}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()
	log.Printf("MAIN: http server on %s", ln.Addr())

	rel, err := openRelay(ctx, cfg, selfID, ln.Addr().String())
	if err != nil {
		return fmt.Errorf("open relay: %w", err)
	}
	defer rel.Close()

	profiles := profile.NewManager(db)

	// Presence: seed the assistant and the cached contacts, then keep the
	// cache in sync with live announcements.
	peers := presence.NewTable()
	peers.Seed(presence.Peer{
		ID:        AssistantID,
		Username:  "Aura",
		Online:    true,
		Assistant: true,
		LastSeen:  time.Now(),
	})
	cached, err := db.ListCachedPeers()
	if err != nil {
		log.Printf("MAIN: load peer cache: %v", err)
	}
	for _, p := range cached {
		peers.Seed(presence.Peer{ID: p.PeerID, Username: p.Username, Avatar: p.Avatar, LastSeen: p.LastSeen})
	}
	go persistPeers(peers, db)

	username, avatar := selfID, ""
	if acct, ok := db.FirstProfile(); ok {
		username, avatar = acct.Username, acct.Avatar
	}
	presenceMgr := presence.NewManager(selfID, username, avatar, rel, peers,
		time.Duration(cfg.Presence.HeartbeatSec)*time.Second,
		time.Duration(cfg.Presence.StaleAfterSec)*time.Second)
	defer presenceMgr.Close()

	chatMgr := chat.NewManager(selfID, db, rel)
	defer chatMgr.Close()
	assistant := assist.NewClient(cfg.Assist.APIKey, cfg.Assist.Model, cfg.Assist.Endpoint)
	chatMgr.SetResponder(AssistantID, assistant.Reply)

	session := call.NewSession(selfID, rel, call.NewDeviceStack(), call.Options{
		AssistantID: AssistantID,
		RingTimeout: time.Duration(cfg.Call.RingTimeoutSec) * time.Second,
	})
	defer session.Close()

	var transcriber dictation.Transcriber = dictation.Disabled{}
	if cfg.Dictation.TranscriberURL != "" {
		transcriber = dictation.NewWSTranscriber(cfg.Dictation.TranscriberURL)
	}
	recorder := dictation.NewRecorder(transcriber)
	defer recorder.Stop()

	server.New(mux, server.Deps{
		SelfID:      selfID,
		AssistantID: AssistantID,
		Profiles:    profiles,
		Peers:       peers,
		Chat:        chatMgr,
		Call:        session,
		Recorder:    recorder,
	})

	stopWatch, err := config.Watch(*cfgPath, func(config.Config) {
		log.Printf("MAIN: config changed on disk; restart to apply")
	})
	if err != nil {
		log.Printf("MAIN: config watch: %v", err)
	} else {
		defer stopWatch()
	}

	select {
	case <-ctx.Done():
		log.Printf("MAIN: shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// openRelay builds the configured relay backend. selfAddr is the bound HTTP
// address, used to dial a self-hosted websocket hub.
func openRelay(ctx context.Context, cfg config.Config, selfID, selfAddr string) (relay.Conn, error) {
	switch cfg.Relay.Backend {
	case config.BackendMemory:
		log.Printf("RELAY: in-memory backend (single process only)")
		return relay.NewMemory(), nil
	case config.BackendRedis:
		return relay.NewRedis(ctx, cfg.Relay.Redis.Addr, cfg.Relay.Redis.Password, cfg.Relay.Redis.DB)
	case config.BackendWebSocket:
		url := cfg.Relay.WebSocket.URL
		if url == "" {
			url = "ws://" + selfAddr + "/relay"
		}
		return relay.DialWS(ctx, url, selfID)
	case config.BackendFirestore:
		return relay.NewFirestore(ctx, cfg.Relay.Firestore.ProjectID, cfg.Relay.Firestore.CredentialsFile)
	case config.BackendPubSub:
		return relay.NewPubSub(ctx, cfg.Relay.PubSub.ListenPort, cfg.Relay.PubSub.MdnsTag, cfg.Relay.PubSub.Bootstrap)
	default:
		return nil, fmt.Errorf("unknown relay backend %q", cfg.Relay.Backend)
	}
}

// loadPeerID reads the stable peer identity, minting one on first run.
func loadPeerID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "peer_id")
	if b, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(b))
		if id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}

// persistPeers mirrors live presence updates into the on-disk cache so
// contacts are known on the next start.
func persistPeers(peers *presence.Table, db *storage.DB) {
	ch, cancel := peers.Subscribe()
	defer cancel()
	for ev := range ch {
		if ev.Type != "update" || ev.Peer == nil || ev.Peer.Assistant {
			continue
		}
		if err := db.UpsertCachedPeer(storage.CachedPeer{
			PeerID:   ev.Peer.ID,
			Username: ev.Peer.Username,
			Avatar:   ev.Peer.Avatar,
		}); err != nil {
			log.Printf("MAIN: persist peer %s: %v", ev.Peer.ID, err)
		}
	}
}
