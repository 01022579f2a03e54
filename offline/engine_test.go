package offline

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBucketKeyDeterministic(t *testing.T) {
	pub, _ := mustEd25519(t)
	secret := []byte("shared-secret")
	k1 := BucketKey(secret, pub)
	k2 := BucketKey(secret, pub)
	require.Equal(t, k1, k2)
	require.Contains(t, k1, BucketKeyPrefix)
}

func TestPutAndPollRoundtrip(t *testing.T) {
	aliceSignPub, aliceSignPriv := mustEd25519(t)
	bobSignPub, bobSignPriv := mustEd25519(t)

	aliceOfflinePriv, aliceOfflinePub := mustRSA(t)
	bobOfflinePriv, bobOfflinePub := mustRSA(t)

	secret := []byte("alice-bob-bucket-secret")

	dht := newMemoryDHT()

	aliceEngine := NewEngine("alice", aliceSignPriv, aliceOfflinePub, aliceOfflinePriv, dht, NewMemoryMirror())
	bobEngine := NewEngine("bob", bobSignPriv, bobOfflinePub, bobOfflinePriv, dht, NewMemoryMirror())

	bobPeer := Peer{PeerID: "bob", SigningPub: bobSignPub, OfflinePub: bobOfflinePub, BucketSecret: secret}
	err := aliceEngine.Put(context.Background(), bobPeer, SenderInfo{PeerID: "alice", Username: "alice"}, []byte("hello bob"), 0)
	require.NoError(t, err)

	var received []MessageReceived
	bobEngine.OnMessage(func(m MessageReceived) {
		received = append(received, m)
	})

	alicePeer := Peer{PeerID: "alice", SigningPub: aliceSignPub, OfflinePub: aliceOfflinePub, BucketSecret: secret}
	err = bobEngine.PollPeers(context.Background(), []Peer{alicePeer}, 0)
	require.NoError(t, err)

	require.Len(t, received, 1)
	require.Equal(t, "hello bob", string(received[0].Content))
	require.Equal(t, "alice", received[0].Sender.PeerID)
}

func TestPutRefusesWhenStoreFull(t *testing.T) {
	_, signPriv := mustEd25519(t)
	offlinePriv, offlinePub := mustRSA(t)
	dht := newMemoryDHT()
	mirror := NewMemoryMirror()
	e := NewEngine("alice", signPriv, offlinePub, offlinePriv, dht, mirror)

	peerSignPub, _ := mustEd25519(t)
	peer := Peer{PeerID: "bob", SigningPub: peerSignPub, OfflinePub: offlinePub, BucketSecret: []byte("secret")}

	bucketKey := peerWriteBucketKey(peer.BucketSecret, mustPubOf(signPriv))
	full := &OfflineStore{Messages: make([]OfflineMessage, MaxMessagesPerStore)}
	for i := range full.Messages {
		full.Messages[i].ExpiresAt = time.Now().Add(time.Hour).UnixMilli()
	}
	require.NoError(t, mirror.Put(bucketKey, full))

	err := e.Put(context.Background(), peer, SenderInfo{PeerID: "alice"}, []byte("overflow"), 0)
	require.Error(t, err)
}

func TestValidateRejectsTamperedStore(t *testing.T) {
	signPub, signPriv := mustEd25519(t)
	offlinePriv, offlinePub := mustRSA(t)
	dht := newMemoryDHT()
	e := NewEngine("alice", signPriv, offlinePub, offlinePriv, dht, NewMemoryMirror())

	peer := Peer{PeerID: "bob", SigningPub: signPub, OfflinePub: offlinePub, BucketSecret: []byte("secret")}
	require.NoError(t, e.Put(context.Background(), peer, SenderInfo{PeerID: "alice"}, []byte("msg"), 0))

	bucketKey := peerWriteBucketKey(peer.BucketSecret, signPub)
	raw, ok := dht.data[bucketKey]
	require.True(t, ok)

	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xFF
	_, err := Validate(bucketKey, tampered)
	require.Error(t, err)
}

func TestSelectPrefersHigherVersion(t *testing.T) {
	a := &OfflineStore{Version: 1, LastUpdated: 100}
	b := &OfflineStore{Version: 2, LastUpdated: 50}
	require.Same(t, b, Select(a, b))
}

func TestSelectTiebreaksOnLastUpdated(t *testing.T) {
	a := &OfflineStore{Version: 1, LastUpdated: 100}
	b := &OfflineStore{Version: 1, LastUpdated: 200}
	require.Same(t, b, Select(a, b))
}

func mustEd25519(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func mustPubOf(priv ed25519.PrivateKey) ed25519.PublicKey {
	return priv.Public().(ed25519.PublicKey)
}

func mustRSA(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 3072)
	require.NoError(t, err)
	return priv, &priv.PublicKey
}
