// Package wstransport implements transport.Transport over plain
// WebSocket connections (gorilla/websocket). It is a development and
// test double for the real p2p (libp2p + Kademlia DHT) adapter: peer
// addresses are a static registry rather than discovered via DHT, and
// DHTGet/DHTPut are backed by a local in-memory map rather than a
// real distributed hash table. Both adapters satisfy the same
// transport.Transport interface, so callers (the handshake, the
// offline bucket engines) don't know which one they're talking to.
package wstransport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiyeovo/kiyeovo/errs"
	"github.com/kiyeovo/kiyeovo/transport"
)

// hello is the first frame a dialer sends on a new connection, so the
// accepting side knows which peer and which protocol it's for.
type hello struct {
	FromPeerID string `json:"fromPeerId"`
	Protocol   string `json:"protocol"`
}

// Transport implements transport.Transport over WebSocket
// connections, with a static peer address book and an in-memory DHT
// stand-in.
type Transport struct {
	selfPeerID string
	upgrader   websocket.Upgrader

	mu       sync.RWMutex
	addrBook map[string]string // peerID -> ws URL, e.g. "ws://host:port/kiyeovo"
	handlers map[string]transport.StreamHandler

	storeMu sync.RWMutex
	store   map[string][]byte // DHT stand-in
}

// New creates a Transport identified by selfPeerID.
func New(selfPeerID string) *Transport {
	return &Transport{
		selfPeerID: selfPeerID,
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }},
		addrBook:   make(map[string]string),
		handlers:   make(map[string]transport.StreamHandler),
		store:      make(map[string][]byte),
	}
}

// RegisterPeerAddr records the WebSocket URL to dial for peerID.
func (t *Transport) RegisterPeerAddr(peerID, wsURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrBook[peerID] = wsURL
}

// SelfPeerID returns this node's own peer ID.
func (t *Transport) SelfPeerID() string { return t.selfPeerID }

// Handler returns an http.Handler that upgrades inbound connections
// and dispatches their first hello frame to the registered protocol
// handler.
func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, fmt.Sprintf("upgrade failed: %v", err), http.StatusBadRequest)
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		var h hello
		if err := json.Unmarshal(raw, &h); err != nil {
			conn.Close()
			return
		}

		t.mu.RLock()
		handler, ok := t.handlers[h.Protocol]
		t.mu.RUnlock()
		if !ok {
			conn.Close()
			return
		}
		handler(&stream{conn: conn, remotePeerID: h.FromPeerID})
	})
}

// Handle registers a StreamHandler for inbound connections on protocol.
func (t *Transport) Handle(protocol string, handler transport.StreamHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[protocol] = handler
}

// DialProtocol opens a WebSocket connection to peerID's registered
// address and sends the hello frame identifying this stream's protocol.
func (t *Transport) DialProtocol(ctx context.Context, peerID, proto string) (transport.Stream, error) {
	t.mu.RLock()
	addr, ok := t.addrBook[peerID]
	t.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.PeerUnreachable, "Transport.DialProtocol", fmt.Errorf("no known address for peer %s", peerID))
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, errs.New(errs.PeerUnreachable, "Transport.DialProtocol", err)
	}

	helloBytes, _ := json.Marshal(hello{FromPeerID: t.selfPeerID, Protocol: proto})
	if err := conn.WriteMessage(websocket.BinaryMessage, helloBytes); err != nil {
		conn.Close()
		return nil, errs.New(errs.PeerUnreachable, "Transport.DialProtocol", err)
	}

	return &stream{conn: conn, remotePeerID: peerID}, nil
}

// DHTGet looks up key in the local in-memory store stand-in.
func (t *Transport) DHTGet(ctx context.Context, key string) (<-chan transport.Event, error) {
	ch := make(chan transport.Event, 2)
	go func() {
		defer close(ch)
		t.storeMu.RLock()
		val, ok := t.store[key]
		t.storeMu.RUnlock()
		if ok {
			ch <- transport.Event{Kind: transport.EventValue, Value: val}
		}
		ch <- transport.Event{Kind: transport.EventDone}
	}()
	return ch, nil
}

// DHTPut writes value under key in the local in-memory store stand-in.
func (t *Transport) DHTPut(ctx context.Context, key string, value []byte) (<-chan transport.Event, error) {
	ch := make(chan transport.Event, 2)
	go func() {
		defer close(ch)
		t.storeMu.Lock()
		t.store[key] = value
		t.storeMu.Unlock()
		ch <- transport.Event{Kind: transport.EventPeerResponse}
		ch <- transport.Event{Kind: transport.EventDone}
	}()
	return ch, nil
}

// Close is a no-op: individual connections close themselves when
// their stream is closed.
func (t *Transport) Close() error { return nil }

// stream adapts a gorilla websocket connection to transport.Stream,
// translating between WebSocket's message framing and the byte-stream
// semantics transport.WriteFrame/ReadFrame expect: each Write call
// becomes exactly one WebSocket message, and Read drains the current
// message before blocking on the next one.
type stream struct {
	conn         *websocket.Conn
	remotePeerID string

	mu      sync.Mutex
	pending []byte
}

func (s *stream) RemotePeerID() string { return s.remotePeerID }

func (s *stream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return 0, io.EOF
		}
		s.pending = msg
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *stream) Close() error {
	return s.conn.Close()
}
