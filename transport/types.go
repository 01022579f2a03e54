// Package transport implements the direct peer-to-peer session layer
// (C3): the libp2p stream protocol carrying key-exchange and
// encrypted chat frames, on top of the session manager in package
// session (C2). Concrete network bindings live in sibling packages —
// p2p (libp2p + Kademlia DHT) and wstransport (a websocket adapter
// used for local development and tests) — both implementing the
// Transport interface declared here.
package transport

import (
	"context"
	"io"
)

// ChatProtocol is the libp2p stream protocol ID every peer speaks for
// key exchange and direct messaging.
const ChatProtocol = "/kiyeovo/chat/1.0.0"

// FrameType discriminates the four kinds of length-prefixed JSON
// frames exchanged on a chat stream.
type FrameType string

const (
	FrameKeyExchange         FrameType = "key_exchange"
	FrameKeyExchangeResponse FrameType = "key_exchange_response"
	FrameEncrypted           FrameType = "encrypted"
	FramePlain               FrameType = "plain"
)

// EventKind classifies a DHT operation's progress event, mirroring the
// AsyncIter<Event> collaborator interface from the spec: a get/put is
// modeled as a stream of events terminating in Done (or an error).
type EventKind int

const (
	// EventPeerResponse marks that some peer on the query path
	// acknowledged the value (for Put) or returned a record (for Get).
	EventPeerResponse EventKind = iota
	// EventValue carries one discovered record during a Get.
	EventValue
	// EventDone marks the end of the iteration.
	EventDone
)

// Event is one item from a DHT Get or Put iteration.
type Event struct {
	Kind    EventKind
	PeerID  string
	Value   []byte // set on EventValue
	Err     error  // set when the operation failed
}

// Stream is a bidirectional byte stream to exactly one remote peer,
// used for the chat protocol's length-prefixed JSON frames.
type Stream interface {
	io.ReadWriteCloser
	RemotePeerID() string
}

// StreamHandler processes an inbound stream opened by a peer dialing
// our registered protocol.
type StreamHandler func(Stream)

// Transport is the collaborator interface consumed by the session,
// offline-bucket, and group control-plane layers: DHT get/put plus
// libp2p-style protocol stream registration/dialing.
type Transport interface {
	// SelfPeerID returns this node's own peer ID.
	SelfPeerID() string

	// DialProtocol opens a stream to peerID speaking the given
	// protocol ID.
	DialProtocol(ctx context.Context, peerID, protocol string) (Stream, error)

	// Handle registers a handler for inbound streams on protocol.
	Handle(protocol string, handler StreamHandler)

	// DHTGet reads all records stored under key, emitting one
	// EventValue per replica found, then EventDone.
	DHTGet(ctx context.Context, key string) (<-chan Event, error)

	// DHTPut writes value under key. At least one EventPeerResponse
	// must be observed by the caller or the put is considered failed
	// (errs.DhtPutNoPeers).
	DHTPut(ctx context.Context, key string, value []byte) (<-chan Event, error)

	// Close releases the transport's network resources.
	Close() error
}
