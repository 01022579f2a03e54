// Package crypto defines the key-pair abstractions shared by every
// asymmetric primitive Kiyeovo uses: the Ed25519 identity and signing
// keys, the X25519 ephemeral key-exchange keys, and the RSA-3072 offline
// sealing keys.
package crypto

import (
	"crypto"
	"errors"
	"time"
)

// KeyType identifies the algorithm and role of a key pair.
type KeyType string

const (
	// KeyTypeEd25519Identity is the long-term libp2p peer identity key.
	KeyTypeEd25519Identity KeyType = "Ed25519Identity"
	// KeyTypeEd25519Signing is the long-term application signing key.
	KeyTypeEd25519Signing KeyType = "Ed25519Signing"
	// KeyTypeX25519 is an ephemeral key-exchange key.
	KeyTypeX25519 KeyType = "X25519"
	// KeyTypeRSA3072 is an offline-message or notification sealing key.
	KeyTypeRSA3072 KeyType = "RSA3072"
)

// KeyPair is the common surface every key type exposes.
type KeyPair interface {
	// PublicKey returns the public key
	PublicKey() crypto.PublicKey

	// PrivateKey returns the private key
	PrivateKey() crypto.PrivateKey

	// Type returns the key type
	Type() KeyType

	// Sign signs the given message
	Sign(message []byte) ([]byte, error)

	// Verify verifies the signature
	Verify(message, signature []byte) error

	// ID returns a unique identifier for this key pair
	ID() string
}

// KeyStorage provides storage for key pairs, keyed by an opaque id.
type KeyStorage interface {
	// Store stores a key pair with the given ID
	Store(id string, keyPair KeyPair) error

	// Load loads a key pair by ID
	Load(id string) (KeyPair, error)

	// Delete removes a key pair by ID
	Delete(id string) error

	// List returns all stored key IDs
	List() ([]string, error)

	// Exists checks if a key exists
	Exists(id string) bool
}

// KeyRotationConfig configures how a KeyRotator decides a key has aged out.
type KeyRotationConfig struct {
	// RotationInterval is the time between rotations
	RotationInterval time.Duration

	// MaxKeyAge is the maximum age for a key
	MaxKeyAge time.Duration

	// KeepOldKeys determines if old keys should be kept
	KeepOldKeys bool
}

// KeyRotator rotates a key pair under a given id, preserving history.
type KeyRotator interface {
	// Rotate rotates the key for the given ID
	Rotate(id string) (KeyPair, error)

	// SetRotationConfig sets the rotation configuration
	SetRotationConfig(config KeyRotationConfig)

	// GetRotationHistory returns the rotation history for a key
	GetRotationHistory(id string) ([]KeyRotationEvent, error)
}

// KeyRotationEvent records one rotation of a key pair.
type KeyRotationEvent struct {
	Timestamp time.Time
	OldKeyID  string
	NewKeyID  string
	Reason    string
}

// Common errors returned by key pair and storage implementations.
var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrInvalidKeyType     = errors.New("invalid key type")
	ErrKeyExists          = errors.New("key already exists")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrSignNotSupported   = errors.New("key agreement keys do not support signing")
	ErrVerifyNotSupported = errors.New("key agreement keys do not support verification")
)
