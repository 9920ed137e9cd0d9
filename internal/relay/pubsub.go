package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/aurachat/aura/internal/signal"
	"github.com/aurachat/aura/internal/util"
)

var psLog = logging.Logger("relay")

func init() {
	// Dial failures and backoff errors from libp2p pollute the log at
	// default levels.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
}

const (
	psSignalPrefix = "aura/signal/" // + destination peer ID
	psTopicPrefix  = "aura/topic/"  // + topic name
)

// PubSub is a serverless relay: peers form a libp2p mesh (mDNS on the LAN,
// optional static bootstrap peers beyond it) and exchange signals over
// gossipsub topics, one per destination peer. No hosted store is involved;
// signals sent while the destination is offline are simply lost, which the
// best-effort contract allows.
type PubSub struct {
	host host.Host
	ps   *pubsub.PubSub
	mdns mdns.Service

	mu     sync.Mutex
	topics map[string]*pubsub.Topic

	ctx    context.Context
	cancel context.CancelFunc
}

type psNotifee struct{ h host.Host }

func (n *psNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

// NewPubSub starts a libp2p host with gossipsub and mDNS discovery.
// bootstrap is an optional list of multiaddrs of well-known peers to dial.
func NewPubSub(ctx context.Context, listenPort int, mdnsTag string, bootstrap []string) (*PubSub, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)),
	)
	if err != nil {
		return nil, fmt.Errorf("libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("gossipsub: %w", err)
	}

	svc := mdns.NewMdnsService(h, mdnsTag, &psNotifee{h: h})
	if err := svc.Start(); err != nil {
		h.Close()
		return nil, fmt.Errorf("mdns: %w", err)
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &PubSub{
		host:   h,
		ps:     ps,
		mdns:   svc,
		topics: make(map[string]*pubsub.Topic),
		ctx:    pctx,
		cancel: cancel,
	}

	for _, addr := range bootstrap {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			psLog.Warnf("bad bootstrap addr %q: %s", addr, err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			psLog.Warnf("bad bootstrap addr %q: %s", addr, err)
			continue
		}
		go func(pi peer.AddrInfo) {
			cctx, ccancel := context.WithTimeout(pctx, util.DefaultConnectTimeout)
			defer ccancel()
			if err := h.Connect(cctx, pi); err != nil {
				psLog.Warnf("bootstrap dial %s: %s", pi.ID, err)
			}
		}(*pi)
	}

	psLog.Infof("mesh relay up, peer id %s", h.ID())
	return p, nil
}

func (p *PubSub) join(name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t, nil
	}
	t, err := p.ps.Join(name)
	if err != nil {
		return nil, err
	}
	p.topics[name] = t
	return t, nil
}

// Send publishes the signal on the destination's topic.
func (p *PubSub) Send(ctx context.Context, sig *signal.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	t, err := p.join(psSignalPrefix + sig.To)
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

// Subscribe yields signals addressed to selfID from the mesh.
func (p *PubSub) Subscribe(selfID string) (<-chan *signal.Signal, func()) {
	out := make(chan *signal.Signal, subBuffer)

	t, err := p.join(psSignalPrefix + selfID)
	if err != nil {
		psLog.Errorf("join signal topic: %s", err)
		close(out)
		return out, func() {}
	}
	sub, err := t.Subscribe()
	if err != nil {
		psLog.Errorf("subscribe signal topic: %s", err)
		close(out)
		return out, func() {}
	}

	ctx, cancel := context.WithCancel(p.ctx)
	d := newDedup()

	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == p.host.ID() {
				continue
			}
			var sig signal.Signal
			if err := json.Unmarshal(msg.Data, &sig); err != nil {
				psLog.Debugf("dropping malformed signal: %s", err)
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
		sub.Cancel()
	}
}

// Publish fans data out on a broadcast topic.
func (p *PubSub) Publish(ctx context.Context, topic string, data []byte) error {
	t, err := p.join(psTopicPrefix + topic)
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

// SubscribeTopic subscribes to a broadcast topic on the mesh.
func (p *PubSub) SubscribeTopic(topic string) (<-chan []byte, func()) {
	out := make(chan []byte, 64)

	t, err := p.join(psTopicPrefix + topic)
	if err != nil {
		psLog.Errorf("join topic %s: %s", topic, err)
		close(out)
		return out, func() {}
	}
	sub, err := t.Subscribe()
	if err != nil {
		psLog.Errorf("subscribe topic %s: %s", topic, err)
		close(out)
		return out, func() {}
	}

	ctx, cancel := context.WithCancel(p.ctx)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == p.host.ID() {
				continue
			}
			select {
			case out <- msg.Data:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() {
		cancel()
		sub.Cancel()
	}
}

// Close tears down the mesh host; all subscriptions end.
func (p *PubSub) Close() error {
	p.cancel()
	_ = p.mdns.Close()
	return p.host.Close()
}
