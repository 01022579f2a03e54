package offline

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/kiyeovo/kiyeovo/crypto/keys"
)

// BucketKey derives the deterministic DHT key for the bucket a holder
// of signingPub writes into, under the pair's shared bucket secret.
func BucketKey(bucketSecret []byte, signingPub ed25519.PublicKey) string {
	return BucketKeyPrefix + b64(bucketSecret) + "/" + b64(signingPub)
}

// sealContent encrypts content for recipientPub, choosing the direct
// RSA-OAEP path when it fits and the hybrid AES path otherwise.
func sealContent(recipientPub *rsa.PublicKey, content []byte) (msgType MessageType, sealed, encAESKey, iv []byte, err error) {
	if len(content) <= keys.MaxOAEPPlaintextLen {
		sealed, err = keys.SealOAEP(recipientPub, content)
		if err != nil {
			return "", nil, nil, nil, fmt.Errorf("seal content: %w", err)
		}
		return MessageEncrypted, sealed, nil, nil, nil
	}

	aesKey := make([]byte, 32)
	if _, err = rand.Read(aesKey); err != nil {
		return "", nil, nil, nil, fmt.Errorf("generate aes key: %w", err)
	}
	ivBuf := make([]byte, 12)
	if _, err = rand.Read(ivBuf); err != nil {
		return "", nil, nil, nil, fmt.Errorf("generate iv: %w", err)
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", nil, nil, nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", nil, nil, nil, fmt.Errorf("new gcm: %w", err)
	}
	// The GCM tag is prepended, ahead of ciphertext, so a hybrid
	// message's Content is self-contained: tag || ciphertext.
	sealedCt := gcm.Seal(nil, ivBuf, content, nil)
	tag := sealedCt[len(sealedCt)-gcm.Overhead():]
	ct := sealedCt[:len(sealedCt)-gcm.Overhead()]
	sealed = append(append([]byte{}, tag...), ct...)

	wrapped, err := keys.SealAESKeyOAEP(recipientPub, aesKey)
	if err != nil {
		return "", nil, nil, nil, fmt.Errorf("wrap aes key: %w", err)
	}
	return MessageHybrid, sealed, wrapped, ivBuf, nil
}

// openContent reverses sealContent.
func openContent(priv *rsa.PrivateKey, msgType MessageType, sealed, encAESKey, iv []byte) ([]byte, error) {
	switch msgType {
	case MessageEncrypted:
		return keys.OpenOAEP(priv, sealed)
	case MessageHybrid:
		if len(sealed) < 16 {
			return nil, fmt.Errorf("hybrid content too short")
		}
		tag, ct := sealed[:16], sealed[16:]
		aesKey, err := keys.OpenAESKeyOAEP(priv, encAESKey)
		if err != nil {
			return nil, fmt.Errorf("unwrap aes key: %w", err)
		}
		block, err := aes.NewCipher(aesKey)
		if err != nil {
			return nil, fmt.Errorf("new aes cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("new gcm: %w", err)
		}
		return gcm.Open(nil, iv, append(ct, tag...), nil)
	case MessagePlain:
		return sealed, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", msgType)
	}
}
