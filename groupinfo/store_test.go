package groupinfo

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustEd25519(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestPublishAndFetchFirstVersion(t *testing.T) {
	ctx := context.Background()
	creatorPub, creatorPriv := mustEd25519(t)
	dht := newMemoryDHT()

	pub := NewPublisher(creatorPriv, dht)
	record, err := pub.PublishVersion(ctx, "group-1", []string{"creator", "alice"}, map[string]string{"creator": "pub1", "alice": "pub2"}, map[string]int64{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, record.Version)
	require.Empty(t, record.PrevVersionHash)

	fetch := NewFetcher(dht)
	latest, err := fetch.FetchLatest(ctx, "group-1", creatorPub)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, 1, latest.LatestVersion)
	require.Equal(t, record.StateHash, latest.LatestStateHash)

	fetched, err := fetch.FetchVersion(ctx, "group-1", creatorPub, 1)
	require.NoError(t, err)
	require.Equal(t, record.Members, fetched.Members)
}

func TestPublishChainsPrevVersionHash(t *testing.T) {
	ctx := context.Background()
	_, creatorPriv := mustEd25519(t)
	dht := newMemoryDHT()
	pub := NewPublisher(creatorPriv, dht)

	v1, err := pub.PublishVersion(ctx, "group-1", []string{"creator"}, map[string]string{"creator": "pub1"}, nil, nil)
	require.NoError(t, err)

	v2, err := pub.PublishVersion(ctx, "group-1", []string{"creator", "bob"}, map[string]string{"creator": "pub1", "bob": "pub3"}, map[string]int64{"creator": 5}, v1)
	require.NoError(t, err)

	require.Equal(t, 2, v2.Version)
	require.Equal(t, v1.StateHash, v2.PrevVersionHash)
}

func TestValidateVersionedRejectsTamperedStateHash(t *testing.T) {
	ctx := context.Background()
	creatorPub, creatorPriv := mustEd25519(t)
	dht := newMemoryDHT()
	pub := NewPublisher(creatorPriv, dht)

	_, err := pub.PublishVersion(ctx, "group-1", []string{"creator"}, map[string]string{"creator": "pub1"}, nil, nil)
	require.NoError(t, err)

	key := VersionedKey("group-1", creatorPub, 1)
	dht.mu.Lock()
	raw := append([]byte(nil), dht.data[key]...)
	dht.mu.Unlock()

	_, err = ValidateVersioned(key, raw)
	require.NoError(t, err) // untampered: sanity check before mutating

	var rec VersionedRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	rec.StateHash[0] ^= 0xFF
	tampered, err := json.Marshal(&rec)
	require.NoError(t, err)
	_, err = ValidateVersioned(key, tampered)
	require.Error(t, err)
}

func TestSelectLatestRejectsDivergedSameVersion(t *testing.T) {
	current := &LatestPointer{GroupID: "g", LatestVersion: 2, LatestStateHash: []byte("a"), LastUpdated: 10}
	candidate := &LatestPointer{GroupID: "g", LatestVersion: 2, LatestStateHash: []byte("b"), LastUpdated: 20}

	selected, err := SelectLatest(current, candidate)
	require.ErrorIs(t, err, ErrSameVersionDiverged)
	require.Same(t, current, selected)
}

func TestSelectLatestPrefersHigherVersion(t *testing.T) {
	current := &LatestPointer{GroupID: "g", LatestVersion: 1, LastUpdated: 100}
	candidate := &LatestPointer{GroupID: "g", LatestVersion: 2, LastUpdated: 1}

	selected, err := SelectLatest(current, candidate)
	require.NoError(t, err)
	require.Same(t, candidate, selected)
}
