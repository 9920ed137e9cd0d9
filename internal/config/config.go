// Package config loads and validates the JSON configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aurachat/aura/internal/util"
)

// Relay backend names accepted in relay.backend.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendWebSocket = "websocket"
	BackendFirestore = "firestore"
	BackendPubSub    = "pubsub"
)

type Config struct {
	Server    Server    `json:"server"`
	Relay     Relay     `json:"relay"`
	Presence  Presence  `json:"presence"`
	Call      Call      `json:"call"`
	Dictation Dictation `json:"dictation"`
	Assist    Assist    `json:"assist"`
	Paths     Paths     `json:"paths"`
}

type Server struct {
	HTTPAddr string `json:"http_addr"`
}

type Relay struct {
	Backend   string    `json:"backend"`
	Redis     Redis     `json:"redis"`
	WebSocket WebSocket `json:"websocket"`
	Firestore Firestore `json:"firestore"`
	PubSub    PubSub    `json:"pubsub"`
}

type Redis struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type WebSocket struct {
	// URL of the hub to join, e.g. ws://host:8080/relay.
	URL string `json:"url"`
	// Host a hub on this server at /relay as well.
	Serve bool `json:"serve"`
}

type Firestore struct {
	ProjectID       string `json:"project_id"`
	CredentialsFile string `json:"credentials_file"`
}

type PubSub struct {
	ListenPort int      `json:"listen_port"`
	MdnsTag    string   `json:"mdns_tag"`
	Bootstrap  []string `json:"bootstrap"`
}

type Presence struct {
	HeartbeatSec  int `json:"heartbeat_seconds"`
	StaleAfterSec int `json:"stale_after_seconds"`
}

type Call struct {
	RingTimeoutSec int `json:"ring_timeout_seconds"`
}

type Dictation struct {
	TranscriberURL string `json:"transcriber_url"`
	SampleRate     int    `json:"sample_rate"`
}

type Assist struct {
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
}

type Paths struct {
	DataDir string `json:"data_dir"`
}

func Default() Config {
	return Config{
		Server: Server{
			HTTPAddr: "127.0.0.1:8777",
		},
		Relay: Relay{
			Backend: BackendMemory,
			Redis: Redis{
				Addr: "127.0.0.1:6379",
			},
			WebSocket: WebSocket{
				Serve: true,
			},
			PubSub: PubSub{
				ListenPort: 0,
				MdnsTag:    "aura-mdns",
			},
		},
		Presence: Presence{
			HeartbeatSec:  10,
			StaleAfterSec: 35,
		},
		Call: Call{
			RingTimeoutSec: 60,
		},
		Dictation: Dictation{
			SampleRate: 48000,
		},
		Paths: Paths{
			DataDir: "data",
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.HTTPAddr) == "" {
		return errors.New("server.http_addr is required")
	}

	switch c.Relay.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Relay.Redis.Addr) == "" {
			return errors.New("relay.redis.addr is required")
		}
	case BackendWebSocket:
		if !c.Relay.WebSocket.Serve && strings.TrimSpace(c.Relay.WebSocket.URL) == "" {
			return errors.New("relay.websocket.url is required when not serving a hub")
		}
	case BackendFirestore:
		if strings.TrimSpace(c.Relay.Firestore.ProjectID) == "" {
			return errors.New("relay.firestore.project_id is required")
		}
	case BackendPubSub:
		if c.Relay.PubSub.ListenPort < 0 || c.Relay.PubSub.ListenPort > 65535 {
			return errors.New("relay.pubsub.listen_port must be 0..65535")
		}
		if strings.TrimSpace(c.Relay.PubSub.MdnsTag) == "" {
			return errors.New("relay.pubsub.mdns_tag is required")
		}
	default:
		return fmt.Errorf("relay.backend must be one of memory, redis, websocket, firestore, pubsub (got %q)", c.Relay.Backend)
	}

	if c.Presence.HeartbeatSec <= 0 {
		return errors.New("presence.heartbeat_seconds must be > 0")
	}
	if c.Presence.StaleAfterSec <= c.Presence.HeartbeatSec {
		return errors.New("presence.stale_after_seconds must exceed heartbeat_seconds")
	}
	if c.Call.RingTimeoutSec <= 0 {
		return errors.New("call.ring_timeout_seconds must be > 0")
	}
	if c.Dictation.SampleRate <= 0 {
		return errors.New("dictation.sample_rate must be > 0")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}
	return nil
}

// Load reads and validates a config file. Missing fields keep their
// defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	b = stripBOM(b)

	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

// Save validates and writes a config file.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads the config if it exists, otherwise writes the defaults.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}
	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
