package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	kiyeocrypto "github.com/kiyeovo/kiyeovo/crypto"
)

// ed25519KeyPair implements crypto.KeyPair for Ed25519 keys. The same
// shape serves both the libp2p peer identity and the application
// signing key; callers distinguish them by KeyType.
type ed25519KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	keyType    kiyeocrypto.KeyType
	id         string
}

// GenerateEd25519IdentityKeyPair generates the long-term libp2p peer
// identity key. peer_id is derived by the caller as a content hash of
// the returned public key.
func GenerateEd25519IdentityKeyPair() (kiyeocrypto.KeyPair, error) {
	return generateEd25519(kiyeocrypto.KeyTypeEd25519Identity)
}

// GenerateEd25519SigningKeyPair generates the long-term application
// signing key used for handshakes, offline-store signatures, and
// group control-plane messages.
func GenerateEd25519SigningKeyPair() (kiyeocrypto.KeyPair, error) {
	return generateEd25519(kiyeocrypto.KeyTypeEd25519Signing)
}

// NewEd25519IdentityFromPrivateKey reconstructs the libp2p peer
// identity key pair from a raw 64-byte seed+public private key, as
// recovered from the identity vault.
func NewEd25519IdentityFromPrivateKey(priv ed25519.PrivateKey) (kiyeocrypto.KeyPair, error) {
	return newEd25519FromPrivateKey(priv, kiyeocrypto.KeyTypeEd25519Identity)
}

// NewEd25519SigningFromPrivateKey reconstructs the application signing
// key pair from a raw private key, as recovered from the identity vault.
func NewEd25519SigningFromPrivateKey(priv ed25519.PrivateKey) (kiyeocrypto.KeyPair, error) {
	return newEd25519FromPrivateKey(priv, kiyeocrypto.KeyTypeEd25519Signing)
}

func newEd25519FromPrivateKey(priv ed25519.PrivateKey, keyType kiyeocrypto.KeyType) (kiyeocrypto.KeyPair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("bad ed25519 private key length: %d", len(priv))
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type")
	}
	hash := sha256.Sum256(pub)
	id := hex.EncodeToString(hash[:8])
	return &ed25519KeyPair{privateKey: priv, publicKey: pub, keyType: keyType, id: id}, nil
}

func generateEd25519(keyType kiyeocrypto.KeyType) (kiyeocrypto.KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(publicKey)
	id := hex.EncodeToString(hash[:8])

	return &ed25519KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		keyType:    keyType,
		id:         id,
	}, nil
}

// PublicKey returns the public key.
func (kp *ed25519KeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

// PrivateKey returns the private key.
func (kp *ed25519KeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey
}

// Type returns the key type.
func (kp *ed25519KeyPair) Type() kiyeocrypto.KeyType {
	return kp.keyType
}

// Sign signs the given message.
func (kp *ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

// Verify verifies the signature.
func (kp *ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return kiyeocrypto.ErrInvalidSignature
	}
	return nil
}

// ID returns a unique identifier for this key pair.
func (kp *ed25519KeyPair) ID() string {
	return kp.id
}

// VerifyWithPublicKey verifies a signature against a raw Ed25519
// public key without requiring a KeyPair instance, for checking
// signatures on records received from peers.
func VerifyWithPublicKey(pub ed25519.PublicKey, message, signature []byte) error {
	if !ed25519.Verify(pub, message, signature) {
		return kiyeocrypto.ErrInvalidSignature
	}
	return nil
}
