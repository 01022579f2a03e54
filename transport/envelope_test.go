package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func establishedPair(t *testing.T) (*EstablishedSession, *EstablishedSession) {
	t.Helper()
	initHS, _ := newTestHandshake(t, "peer-a", nil)
	policy := NewMemoryContactPolicy()
	policy.Trust("peer-a")
	respHS, _ := newTestHandshake(t, "peer-b", policy)

	req, err := initHS.BuildRequest("kx-env", "peer-b", "hi")
	require.NoError(t, err)
	resp, respEstablished, err := respHS.HandleRequest(req)
	require.NoError(t, err)

	initEstablished, err := initHS.CompleteInitiator(resp)
	require.NoError(t, err)

	return initEstablished, respEstablished
}

func TestEnvelopeSealOpenRoundtrip(t *testing.T) {
	initEst, respEst := establishedPair(t)

	sender := NewEnvelope(initEst, "peer-a", "fingerprint-b", 0)
	receiver := NewEnvelope(respEst, "peer-b", "fingerprint-b", 0)

	sealed, err := sender.Seal([]byte("hello from a"))
	require.NoError(t, err)
	require.Equal(t, "peer-a", sealed.SenderPeerID)

	plaintext, err := receiver.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "hello from a", string(plaintext))
}

func TestEnvelopeOpenRejectsTamperedCiphertext(t *testing.T) {
	initEst, respEst := establishedPair(t)
	sender := NewEnvelope(initEst, "peer-a", "fingerprint-b", 0)
	receiver := NewEnvelope(respEst, "peer-b", "fingerprint-b", 0)

	sealed, err := sender.Seal([]byte("don't touch this"))
	require.NoError(t, err)
	sealed.Ciphertext[0] ^= 0xFF

	_, err = receiver.Open(sealed)
	require.Error(t, err)
}

func TestEnvelopeOpenRejectsMismatchedFingerprint(t *testing.T) {
	initEst, respEst := establishedPair(t)
	sender := NewEnvelope(initEst, "peer-a", "fingerprint-b", 0)
	receiver := NewEnvelope(respEst, "peer-b", "different-fingerprint", 0)

	sealed, err := sender.Seal([]byte("bound to a different AAD"))
	require.NoError(t, err)

	_, err = receiver.Open(sealed)
	require.Error(t, err)
}

func TestEnvelopeNeedsRotation(t *testing.T) {
	initEst, _ := establishedPair(t)
	env := NewEnvelope(initEst, "peer-a", "fingerprint-b", 2)

	require.False(t, env.NeedsRotation())
	_, err := env.Seal([]byte("m1"))
	require.NoError(t, err)
	_, err = env.Seal([]byte("m2"))
	require.NoError(t, err)

	require.True(t, env.NeedsRotation())
	_, err = env.Seal([]byte("m3"))
	require.Error(t, err)
}

func TestDeriveOfflineBucketSecretDeterministic(t *testing.T) {
	shared := make([]byte, 32)
	for i := range shared {
		shared[i] = byte(i)
	}
	s1 := DeriveOfflineBucketSecret(shared)
	s2 := DeriveOfflineBucketSecret(shared)
	require.Equal(t, s1, s2)
	require.Len(t, s1, 32)
}

func TestEstablishedPairProducesMatchingSessionIDs(t *testing.T) {
	initEst, respEst := establishedPair(t)
	require.NotEmpty(t, initEst.SessionID)
	require.NotEmpty(t, respEst.SessionID)
	require.Equal(t, initEst.SessionID, respEst.SessionID)
}
