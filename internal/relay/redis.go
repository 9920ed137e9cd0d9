package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/aurachat/aura/internal/signal"
)

const (
	redisSignalPrefix = "aura:signal:" // + destination peer ID
	redisTopicPrefix  = "aura:topic:"  // + topic name
)

// Redis is a relay backed by Redis pub/sub: one channel per destination peer
// for signals, one channel per broadcast topic. Pub/sub delivers every
// message individually, so candidates are naturally queued rather than
// coalesced; the de-dup filter still guards against double publishes.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// Send publishes the signal on the destination's channel. Best-effort.
func (r *Redis) Send(ctx context.Context, sig *signal.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, redisSignalPrefix+sig.To, data).Err()
}

// Subscribe yields signals addressed to selfID.
func (r *Redis) Subscribe(selfID string) (<-chan *signal.Signal, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	ps := r.client.Subscribe(ctx, redisSignalPrefix+selfID)

	out := make(chan *signal.Signal, subBuffer)
	d := newDedup()

	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var sig signal.Signal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				log.Printf("RELAY: dropping malformed signal: %v", err)
				continue
			}
			if sig.To != selfID || !d.fresh(&sig) {
				continue
			}
			select {
			case out <- &sig:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() {
		cancel()
		_ = ps.Close()
	}
}

// Publish fans data out on a broadcast topic channel.
func (r *Redis) Publish(ctx context.Context, topic string, data []byte) error {
	return r.client.Publish(ctx, redisTopicPrefix+topic, data).Err()
}

// SubscribeTopic subscribes to a broadcast topic.
func (r *Redis) SubscribeTopic(topic string) (<-chan []byte, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	ps := r.client.Subscribe(ctx, redisTopicPrefix+topic)

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() {
		cancel()
		_ = ps.Close()
	}
}

// Close closes the Redis connection; all subscriptions end.
func (r *Redis) Close() error {
	return r.client.Close()
}
