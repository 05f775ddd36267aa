// Package transport carries DLC wire messages between the coordinator and
// a remote trader's node over libp2p gossipsub, the same stack the teacher
// uses for its consensus propose/prepare/vote traffic — adapted here to a
// single topic of opaque, reference-tagged DLC messages instead of
// block/certificate gossip.
package transport

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const dlcMessagesTopic = "dlc-messages"

func init() {
	gob.Register(Message{})
}

// Message is one DLC protocol wire message: Reference correlates it back
// to a persisted Protocol via internal/protocolid, Kind names the DLC step
// it carries, and Payload is the opaque engine-specific body.
type Message struct {
	Reference [32]byte
	Kind      string
	Payload   []byte
}

// Config mirrors the teacher's Libp2pConfig, trimmed to what a single DLC
// message topic needs: no consensus quorum or self node id.
type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

// Transport is the opaque DLC engine's peer channel: BeginProtocol-style
// callers Send messages, and the Message Pump periodically calls
// DrainInbound to pull everything received since the last drain.
type Transport struct {
	h         host.Host
	ps        *pubsub.PubSub
	topic     *pubsub.Topic
	sub       *pubsub.Subscription
	log       *zap.SugaredLogger
	bootstrap []string

	mu    sync.Mutex
	inbox []Message
}

func New(ctx context.Context, cfg Config) (*Transport, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	t := &Transport{h: h, ps: ps, log: cfg.Logger, bootstrap: cfg.Bootstrap}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("transport_bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if t.topic, err = ps.Join(dlcMessagesTopic); err != nil {
		return nil, err
	}
	if t.sub, err = t.topic.Subscribe(); err != nil {
		return nil, err
	}

	go t.receiveLoop(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Infow("dlc_transport_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return t, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// Send publishes a message to every subscribed peer. It does not itself
// retry; retry/backoff for an unresponsive peer is the connection-keeper
// reconciler's job.
func (t *Transport) Send(ctx context.Context, msg Message) error {
	data, err := gobEncode(msg)
	if err != nil {
		return err
	}
	return t.topic.Publish(ctx, data)
}

// DrainInbound returns every message received since the last call and
// clears the inbox. This is what the Message Pump calls each tick.
func (t *Transport) DrainInbound() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.inbox
	t.inbox = nil
	return out
}

func (t *Transport) receiveLoop(ctx context.Context) {
	for {
		raw, err := t.sub.Next(ctx)
		if err != nil {
			return
		}
		var msg Message
		if err := gobDecode(raw.Data, &msg); err != nil {
			if t.log != nil {
				t.log.Warnw("dlc_transport_decode_failed", "err", err)
			}
			continue
		}
		t.mu.Lock()
		t.inbox = append(t.inbox, msg)
		t.mu.Unlock()
	}
}

// Reconnect dials every configured bootstrap peer currently not connected.
// It is the connection-keeper reconciler's hook (spec.md §4.6): public
// DLC-message-transport peers that dropped off get redialed on a fixed
// cadence rather than waiting for the next outbound Send to discover the
// break.
func (t *Transport) Reconnect(ctx context.Context) []error {
	var errs []error
	for _, addr := range t.bootstrap {
		m, err := ma.NewMultiaddr(addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if t.h.Network().Connectedness(info.ID) == network.Connected {
			continue
		}
		if err := t.h.Connect(ctx, *info); err != nil {
			errs = append(errs, fmt.Errorf("transport: reconnect %s: %w", info.ID, err))
		}
	}
	return errs
}

func (t *Transport) Close() error {
	t.sub.Cancel()
	return t.h.Close()
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
