package groupinfo

import (
	"context"
	"sync"

	"github.com/kiyeovo/kiyeovo/transport"
)

// memoryDHT is a minimal transport.Transport test double storing
// exactly one replica per key, mirroring offline/dht_test.go's double.
type memoryDHT struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryDHT() *memoryDHT {
	return &memoryDHT{data: make(map[string][]byte)}
}

func (d *memoryDHT) SelfPeerID() string { return "test-node" }

func (d *memoryDHT) DialProtocol(ctx context.Context, peerID, protocol string) (transport.Stream, error) {
	panic("memoryDHT: DialProtocol not supported")
}

func (d *memoryDHT) Handle(protocol string, handler transport.StreamHandler) {}

func (d *memoryDHT) DHTGet(ctx context.Context, key string) (<-chan transport.Event, error) {
	ch := make(chan transport.Event, 2)
	d.mu.Lock()
	val, ok := d.data[key]
	d.mu.Unlock()
	go func() {
		defer close(ch)
		if ok {
			ch <- transport.Event{Kind: transport.EventValue, Value: val}
		}
		ch <- transport.Event{Kind: transport.EventDone}
	}()
	return ch, nil
}

func (d *memoryDHT) DHTPut(ctx context.Context, key string, value []byte) (<-chan transport.Event, error) {
	d.mu.Lock()
	d.data[key] = append([]byte(nil), value...)
	d.mu.Unlock()

	ch := make(chan transport.Event, 2)
	go func() {
		defer close(ch)
		ch <- transport.Event{Kind: transport.EventPeerResponse, PeerID: "peer1"}
		ch <- transport.Event{Kind: transport.EventDone}
	}()
	return ch, nil
}

func (d *memoryDHT) Close() error { return nil }

var _ transport.Transport = (*memoryDHT)(nil)
