// Package rotation implements key rotation for the long-term Ed25519,
// X25519, and RSA-3072 key pairs the identity vault and session
// manager hold. Group symmetric key rotation (the key-version epoch
// bump in the group control plane) has its own, simpler counter-based
// scheme and does not use this package; this package is for rotating
// actual asymmetric key material, e.g. rekeying the notification RSA
// key on a schedule.
package rotation

import (
	"fmt"
	"sync"
	"time"

	kiyeocrypto "github.com/kiyeovo/kiyeovo/crypto"
	"github.com/kiyeovo/kiyeovo/crypto/keys"
)

// keyRotator implements kiyeocrypto.KeyRotator.
type keyRotator struct {
	storage  kiyeocrypto.KeyStorage
	config   kiyeocrypto.KeyRotationConfig
	history  map[string][]kiyeocrypto.KeyRotationEvent
	mu       sync.RWMutex
	rotating map[string]bool
}

// NewKeyRotator creates a new key rotator backed by storage.
func NewKeyRotator(storage kiyeocrypto.KeyStorage) kiyeocrypto.KeyRotator {
	return &keyRotator{
		storage: storage,
		config: kiyeocrypto.KeyRotationConfig{
			KeepOldKeys: false,
		},
		history:  make(map[string][]kiyeocrypto.KeyRotationEvent),
		rotating: make(map[string]bool),
	}
}

// Rotate generates a fresh key of the same type under id, replacing
// the stored key pair and recording history. Concurrent rotations of
// the same id are rejected rather than serialized, so a caller racing
// a scheduled rotation with a manual one gets a clear error instead of
// silently clobbering one of the two results.
func (r *keyRotator) Rotate(id string) (kiyeocrypto.KeyPair, error) {
	r.mu.Lock()
	if r.rotating[id] {
		r.mu.Unlock()
		return nil, fmt.Errorf("key %s is already being rotated", id)
	}
	r.rotating[id] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.rotating, id)
		r.mu.Unlock()
	}()

	oldKeyPair, err := r.storage.Load(id)
	if err != nil {
		return nil, err
	}

	var newKeyPair kiyeocrypto.KeyPair
	switch oldKeyPair.Type() {
	case kiyeocrypto.KeyTypeEd25519Signing:
		newKeyPair, err = keys.GenerateEd25519SigningKeyPair()
	case kiyeocrypto.KeyTypeEd25519Identity:
		newKeyPair, err = keys.GenerateEd25519IdentityKeyPair()
	case kiyeocrypto.KeyTypeX25519:
		newKeyPair, err = keys.GenerateX25519KeyPair()
	case kiyeocrypto.KeyTypeRSA3072:
		newKeyPair, err = keys.GenerateRSAKeyPair()
	default:
		return nil, fmt.Errorf("unsupported key type for rotation: %s", oldKeyPair.Type())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate new key: %w", err)
	}

	if r.config.KeepOldKeys {
		oldKeyID := fmt.Sprintf("%s.old.%s", id, oldKeyPair.ID())
		if err := r.storage.Store(oldKeyID, oldKeyPair); err != nil {
			return nil, fmt.Errorf("failed to store old key: %w", err)
		}
	}

	if err := r.storage.Store(id, newKeyPair); err != nil {
		return nil, fmt.Errorf("failed to store new key: %w", err)
	}

	r.mu.Lock()
	event := kiyeocrypto.KeyRotationEvent{
		Timestamp: time.Now(),
		OldKeyID:  oldKeyPair.ID(),
		NewKeyID:  newKeyPair.ID(),
		Reason:    "manual rotation",
	}
	r.history[id] = append(r.history[id], event)
	r.mu.Unlock()

	return newKeyPair, nil
}

// SetRotationConfig sets the rotation configuration.
func (r *keyRotator) SetRotationConfig(config kiyeocrypto.KeyRotationConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
}

// GetRotationHistory returns the rotation history for a key, newest first.
func (r *keyRotator) GetRotationHistory(id string) ([]kiyeocrypto.KeyRotationEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history, exists := r.history[id]
	if !exists {
		return []kiyeocrypto.KeyRotationEvent{}, nil
	}

	result := make([]kiyeocrypto.KeyRotationEvent, len(history))
	for i, event := range history {
		result[len(history)-1-i] = event
	}

	return result, nil
}
