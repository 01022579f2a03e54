package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	kiyeocrypto "github.com/kiyeovo/kiyeovo/crypto"
)

// RSAKeySizeBits is the modulus size used for offline-message and
// notification sealing keys.
const RSAKeySizeBits = 3072

// MaxOAEPPlaintextLen is the largest payload that can be sealed
// directly with RSA-OAEP/SHA-256 at RSAKeySizeBits. Larger payloads
// must go through the hybrid (AES key wrap) path in the offline
// bucket engine.
const MaxOAEPPlaintextLen = RSAKeySizeBits/8 - 2*sha256.Size - 2

// rsaKeyPair implements crypto.KeyPair for RSA-3072 keys used to seal
// offline messages and push notifications.
type rsaKeyPair struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	id         string
}

// GenerateRSAKeyPair generates a new RSA-3072 key pair.
func GenerateRSAKeyPair() (kiyeocrypto.KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, RSAKeySizeBits)
	if err != nil {
		return nil, err
	}

	publicKey := &privateKey.PublicKey
	modBytes := publicKey.N.Bytes()
	hash := sha256.Sum256(modBytes)
	id := hex.EncodeToString(hash[:8])

	return &rsaKeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

// NewRSAKeyPairFromPrivateKey reconstructs an RSA-3072 sealing key
// pair from a parsed private key, as recovered from the identity vault.
func NewRSAKeyPairFromPrivateKey(priv *rsa.PrivateKey) kiyeocrypto.KeyPair {
	publicKey := &priv.PublicKey
	modBytes := publicKey.N.Bytes()
	hash := sha256.Sum256(modBytes)
	id := hex.EncodeToString(hash[:8])
	return &rsaKeyPair{privateKey: priv, publicKey: publicKey, id: id}
}

// PublicKey returns the public key.
func (kp *rsaKeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

// PrivateKey returns the private key.
func (kp *rsaKeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey
}

// Type returns the key type.
func (kp *rsaKeyPair) Type() kiyeocrypto.KeyType {
	return kiyeocrypto.KeyTypeRSA3072
}

// Sign signs the given message using RSASSA-PKCS1-v1_5 with SHA-256.
func (kp *rsaKeyPair) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	return rsa.SignPKCS1v15(rand.Reader, kp.privateKey, crypto.SHA256, hash[:])
}

// Verify verifies an RSASSA-PKCS1-v1_5/SHA-256 signature.
func (kp *rsaKeyPair) Verify(message, signature []byte) error {
	hash := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(kp.publicKey, crypto.SHA256, hash[:], signature); err != nil {
		return kiyeocrypto.ErrInvalidSignature
	}
	return nil
}

// ID returns a unique identifier for this key pair.
func (kp *rsaKeyPair) ID() string {
	return kp.id
}

// SealOAEP encrypts plaintext directly with RSA-OAEP/SHA-256 against
// a recipient's public key. Plaintext longer than MaxOAEPPlaintextLen
// returns an error; callers must use the hybrid AES path instead.
func SealOAEP(recipientPub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxOAEPPlaintextLen {
		return nil, fmt.Errorf("plaintext of %d bytes exceeds RSA-OAEP limit of %d", len(plaintext), MaxOAEPPlaintextLen)
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, recipientPub, plaintext, nil)
}

// OpenOAEP decrypts a payload produced by SealOAEP.
func OpenOAEP(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
}

// SealAESKeyOAEP wraps a symmetric key (used by the offline bucket
// engine's hybrid encryption path) with RSA-OAEP/SHA-256.
func SealAESKeyOAEP(recipientPub *rsa.PublicKey, aesKey []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, recipientPub, aesKey, nil)
}

// OpenAESKeyOAEP reverses SealAESKeyOAEP.
func OpenAESKeyOAEP(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
}
