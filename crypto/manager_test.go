package crypto

import (
	"crypto"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeStorage is a minimal in-memory KeyStorage double, kept local to
// this test to avoid importing crypto/storage (which itself imports
// this package).
type fakeStorage struct {
	keys map[string]KeyPair
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{keys: make(map[string]KeyPair)}
}

func (s *fakeStorage) Store(id string, kp KeyPair) error {
	s.keys[id] = kp
	return nil
}

func (s *fakeStorage) Load(id string) (KeyPair, error) {
	kp, ok := s.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return kp, nil
}

func (s *fakeStorage) Delete(id string) error {
	if _, ok := s.keys[id]; !ok {
		return ErrKeyNotFound
	}
	delete(s.keys, id)
	return nil
}

func (s *fakeStorage) List() ([]string, error) {
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeKeyPair struct {
	id string
}

func (k *fakeKeyPair) PublicKey() crypto.PublicKey   { return nil }
func (k *fakeKeyPair) PrivateKey() crypto.PrivateKey { return nil }
func (k *fakeKeyPair) Type() KeyType                 { return KeyTypeEd25519Signing }
func (k *fakeKeyPair) ID() string                    { return k.id }
func (k *fakeKeyPair) Sign(msg []byte) ([]byte, error) {
	return []byte("sig"), nil
}
func (k *fakeKeyPair) Verify(msg, sig []byte) error { return nil }

func TestManagerGenerateKeyPairUnknownType(t *testing.T) {
	m := NewManager(newFakeStorage())
	_, err := m.GenerateKeyPair(KeyTypeRSA3072)
	require.ErrorIs(t, err, ErrInvalidKeyType)
}

func TestManagerGenerateKeyPairRegistered(t *testing.T) {
	m := NewManager(newFakeStorage())
	want := &fakeKeyPair{id: "k1"}
	m.RegisterGenerator(KeyTypeEd25519Signing, func() (KeyPair, error) {
		return want, nil
	})

	got, err := m.GenerateKeyPair(KeyTypeEd25519Signing)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestManagerStoreLoadDeleteListKeyPair(t *testing.T) {
	m := NewManager(newFakeStorage())
	kp := &fakeKeyPair{id: "k1"}

	require.NoError(t, m.StoreKeyPair(kp))

	loaded, err := m.LoadKeyPair("k1")
	require.NoError(t, err)
	require.Equal(t, kp, loaded)

	ids, err := m.ListKeyPairs()
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, ids)

	require.NoError(t, m.DeleteKeyPair("k1"))
	_, err = m.LoadKeyPair("k1")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestManagerSetStorage(t *testing.T) {
	m := NewManager(newFakeStorage())
	next := newFakeStorage()
	m.SetStorage(next)

	kp := &fakeKeyPair{id: "k1"}
	require.NoError(t, m.StoreKeyPair(kp))
	_, err := next.Load("k1")
	require.NoError(t, err)
}
