package dht

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/kiyeovo/kiyeovo/groupinfo"
	"github.com/kiyeovo/kiyeovo/offline"
	"github.com/kiyeovo/kiyeovo/transport"
	"github.com/stretchr/testify/require"
)

// memoryDHT is a minimal transport.Transport test double, matching the
// shape used across offline/group/groupoffline/groupinfo's own tests.
type memoryDHT struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryDHT() *memoryDHT { return &memoryDHT{data: make(map[string][]byte)} }

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

func (d *memoryDHT) raw(key string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data[key]
}

func TestNamespaceForDispatchesByPrefix(t *testing.T) {
	ns, ok := NamespaceFor(groupinfo.VersionedKey("g1", []byte("x"), 1))
	require.True(t, ok)
	require.Equal(t, NamespaceGroupInfoVersioned, ns)

	ns, ok = NamespaceFor(groupinfo.LatestKey("g1", []byte("x")))
	require.True(t, ok)
	require.Equal(t, NamespaceGroupInfoLatest, ns)

	_, ok = NamespaceFor("/some-unregistered-namespace/abc")
	require.False(t, ok)
}

func TestValidateDispatchesToOfflineNamespace(t *testing.T) {
	dht := newMemoryDHT()
	signPub, signPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	offlinePriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	engine := offline.NewEngine("alice", signPriv, &offlinePriv.PublicKey, offlinePriv, dht, offline.NewMemoryMirror())
	bucketSecret := []byte("shared-bucket-secret")
	peer := offline.Peer{PeerID: "bob", SigningPub: signPub, OfflinePub: &offlinePriv.PublicKey, BucketSecret: bucketSecret}

	require.NoError(t, engine.Put(context.Background(), peer, offline.SenderInfo{PeerID: "alice"}, []byte("hi"), time.Hour))

	keyPath := offline.BucketKey(bucketSecret, signPub)
	raw := dht.raw(keyPath)
	require.NotEmpty(t, raw)

	result, err := Validate(keyPath, raw)
	require.NoError(t, err)
	_, ok := result.(*offline.OfflineStore)
	require.True(t, ok)

	ns, ok := NamespaceFor(keyPath)
	require.True(t, ok)
	require.Equal(t, NamespaceDirectOffline, ns)
}

func TestValidateReturnsErrUnknownNamespace(t *testing.T) {
	_, err := Validate("/not-a-real-namespace/abc", []byte("{}"))
	require.ErrorIs(t, err, ErrUnknownNamespace)
}
