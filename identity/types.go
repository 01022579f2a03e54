// Package identity implements the identity vault (C1): generating a
// user's long-term key material, encrypting it at rest under a
// password, and reloading it either by password or by BIP-39 recovery
// phrase.
package identity

import (
	"errors"
	"time"

	kiyeocrypto "github.com/kiyeovo/kiyeovo/crypto"
)

// Identity holds the four long-term key pairs a vault protects.
type Identity struct {
	PeerID        string // content hash of IdentityKey's public key
	IdentityKey   kiyeocrypto.KeyPair // libp2p peer identity (Ed25519)
	SigningKey    kiyeocrypto.KeyPair // application signing key (Ed25519)
	OfflineKey    kiyeocrypto.KeyPair // offline-message sealing key (RSA-3072)
	NotifyKey     kiyeocrypto.KeyPair // push-notification sealing key (RSA-3072)
}

// record is the on-disk, password-encrypted representation of an
// Identity.
type record struct {
	PeerID     string `json:"peer_id"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// plaintextKeys is the JSON payload encrypted inside a record: the
// four key pairs serialized to their raw private-key bytes.
type plaintextKeys struct {
	PeerID         string `json:"peer_id"`
	IdentityPriv   []byte `json:"identity_priv"`
	SigningPriv    []byte `json:"signing_priv"`
	OfflinePrivPKCS1 []byte `json:"offline_priv_pkcs1"`
	NotifyPrivPKCS1  []byte `json:"notify_priv_pkcs1"`
}

// Store persists and retrieves the encrypted vault record(s) for a
// peer ID. A filesystem implementation backs production use; tests
// use an in-memory one.
type Store interface {
	SaveRecord(id string, data []byte) error
	LoadRecord(id string) ([]byte, error)
	Exists(id string) bool
}

// Config tunes the vault's KDF cost and unlock behavior.
type Config struct {
	// ScryptN is the scrypt CPU/memory cost parameter.
	ScryptN int
	// LoadTimeout bounds the worker task that derives the KDF key and
	// decrypts the vault; exceeding it fails the load.
	LoadTimeout time.Duration
	// MaxFailedAttempts before a cooldown is imposed.
	MaxFailedAttempts int
	// CooldownDuration is how long unlock attempts are refused after
	// MaxFailedAttempts consecutive failures.
	CooldownDuration time.Duration
}

// DefaultConfig returns the vault's default tuning.
func DefaultConfig() Config {
	return Config{
		ScryptN:           1 << 15,
		LoadTimeout:       60 * time.Second,
		MaxFailedAttempts: 10,
		CooldownDuration:  5 * time.Minute,
	}
}

const recoverySuffix = "-recovery"

var (
	// ErrCorruptIdentity is returned when a successfully decrypted
	// record's derived peer_id doesn't match the stored peer_id.
	ErrCorruptIdentity = errors.New("identity: decrypted record does not match stored peer id")
	// ErrWeakPassword is returned by Create when the password fails policy.
	ErrWeakPassword = errors.New("identity: password must be at least 12 characters and include lowercase, uppercase, digit, and symbol")
	// ErrInCooldown is returned by Load while a peer id is under its
	// failed-attempt cooldown.
	ErrInCooldown = errors.New("identity: too many failed attempts, try again later")
	// ErrNoRecoveryRecord is returned by LoadWithRecovery when no
	// recovery record was saved for this identity.
	ErrNoRecoveryRecord = errors.New("identity: no recovery record found")
)
