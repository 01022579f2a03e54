// Package p2p adapts a libp2p host and Kademlia DHT to the
// transport.Transport collaborator interface, giving the direct
// transport (C3) and the DHT-backed stores (C4/C6/C7) a real
// peer-to-peer network to run over.
package p2p

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kiyeovo/kiyeovo/errs"
	"github.com/kiyeovo/kiyeovo/internal/logger"
	"github.com/kiyeovo/kiyeovo/transport"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
)

// Config holds the libp2p host / Kademlia DHT wiring options.
type Config struct {
	// PrivKey is the libp2p identity key (the Ed25519 peer identity
	// key from the identity vault, C1).
	PrivKey crypto.PrivKey
	// ListenAddrs are multiaddr strings to listen on, e.g.
	// "/ip4/0.0.0.0/tcp/4001".
	ListenAddrs []string
	// BootstrapPeers seeds the Kademlia routing table.
	BootstrapPeers []string
	// Server runs the DHT in server mode (accepts and stores records
	// for others); client mode only queries.
	Server bool
}

// Host wraps a libp2p host.Host plus its Kademlia DHT, implementing
// transport.Transport.
type Host struct {
	host host.Host
	dht  *dht.IpfsDHT
	log  logger.Logger
}

// New creates and starts a libp2p host with an attached Kademlia DHT.
func New(ctx context.Context, cfg Config) (*Host, error) {
	opts := []libp2p.Option{}
	if cfg.PrivKey != nil {
		opts = append(opts, libp2p.Identity(cfg.PrivKey))
	}
	for _, addr := range cfg.ListenAddrs {
		opts = append(opts, libp2p.ListenAddrStrings(addr))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	mode := dht.ModeClient
	if cfg.Server {
		mode = dht.ModeServer
	}
	kadDHT, err := dht.New(ctx, h, dht.Mode(mode))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("create kad-dht: %w", err)
	}
	if err := kadDHT.Bootstrap(ctx); err != nil {
		kadDHT.Close()
		h.Close()
		return nil, fmt.Errorf("bootstrap dht: %w", err)
	}

	for _, addrStr := range cfg.BootstrapPeers {
		maddr, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			continue
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_ = h.Connect(connectCtx, *info)
		cancel()
	}

	return &Host{host: h, dht: kadDHT, log: logger.GetDefaultLogger()}, nil
}

// SelfPeerID returns this node's peer ID as a string.
func (hn *Host) SelfPeerID() string {
	return hn.host.ID().String()
}

// DialProtocol opens a new stream to peerID over protocol.
func (hn *Host) DialProtocol(ctx context.Context, peerID, proto string) (transport.Stream, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return nil, errs.New(errs.ProtocolViolation, "Host.DialProtocol", fmt.Errorf("decode peer id: %w", err))
	}
	s, err := hn.host.NewStream(ctx, pid, protocol.ID(proto))
	if err != nil {
		return nil, errs.New(errs.PeerUnreachable, "Host.DialProtocol", err)
	}
	return &libp2pStream{Stream: s, remotePeerID: peerID}, nil
}

// Handle registers a handler for inbound streams on protocol.
func (hn *Host) Handle(proto string, handler transport.StreamHandler) {
	hn.host.SetStreamHandler(protocol.ID(proto), func(s network.Stream) {
		handler(&libp2pStream{Stream: s, remotePeerID: s.Conn().RemotePeer().String()})
	})
}

// DHTGet performs a single Kademlia GetValue, reported as one
// EventValue (if found) followed by EventDone.
func (hn *Host) DHTGet(ctx context.Context, key string) (<-chan transport.Event, error) {
	ch := make(chan transport.Event, 2)
	go func() {
		defer close(ch)
		val, err := hn.dht.GetValue(ctx, key)
		if err != nil {
			ch <- transport.Event{Kind: transport.EventDone, Err: err}
			return
		}
		ch <- transport.Event{Kind: transport.EventValue, Value: val}
		ch <- transport.Event{Kind: transport.EventDone}
	}()
	return ch, nil
}

// DHTPut performs a single Kademlia PutValue. Kad-DHT's PutValue only
// returns once it has confirmed stores on a quorum of peers, so a nil
// error is reported as one EventPeerResponse before EventDone.
func (hn *Host) DHTPut(ctx context.Context, key string, value []byte) (<-chan transport.Event, error) {
	ch := make(chan transport.Event, 2)
	go func() {
		defer close(ch)
		if err := hn.dht.PutValue(ctx, key, value); err != nil {
			ch <- transport.Event{Kind: transport.EventDone, Err: err}
			return
		}
		ch <- transport.Event{Kind: transport.EventPeerResponse}
		ch <- transport.Event{Kind: transport.EventDone}
	}()
	return ch, nil
}

// Close shuts down the DHT and the libp2p host.
func (hn *Host) Close() error {
	hn.dht.Close()
	return hn.host.Close()
}

// libp2pStream adapts a libp2p network.Stream to transport.Stream.
type libp2pStream struct {
	network.Stream
	remotePeerID string
}

func (s *libp2pStream) RemotePeerID() string { return s.remotePeerID }

var _ io.ReadWriteCloser = (*libp2pStream)(nil)
