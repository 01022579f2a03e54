package offline

import (
	"bytes"
	"compress/gzip"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// gzipJSON compresses an OfflineStore for DHT storage.
func gzipJSON(store *OfflineStore) ([]byte, error) {
	raw, err := json.Marshal(store)
	if err != nil {
		return nil, fmt.Errorf("marshal store: %w", err)
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip store: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// gunzipJSON reverses gzipJSON.
func gunzipJSON(data []byte) (*OfflineStore, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer gr.Close()
	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("read gunzip: %w", err)
	}
	var store OfflineStore
	if err := json.Unmarshal(raw, &store); err != nil {
		return nil, fmt.Errorf("unmarshal store: %w", err)
	}
	return &store, nil
}

// signerFromKeyPath recovers the expected ed25519 signing public key
// from a "/kiyeovo-offline/{secret}/{pub}" bucket key, as a DHT
// validator would: the write authority is whoever's public key is
// named in the path, not whoever is doing the writing.
func signerFromKeyPath(keyPath string) (ed25519.PublicKey, error) {
	parts := strings.Split(strings.TrimPrefix(keyPath, BucketKeyPrefix), "/")
	if len(parts) != 2 {
		return nil, fmt.Errorf("offline: malformed bucket key %q", keyPath)
	}
	pub, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("offline: decode signer pub: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("offline: bad signer pub length %d", len(pub))
	}
	return ed25519.PublicKey(pub), nil
}

// Validate implements the DHT write validator for a direct offline
// bucket (C8's rule table, for this record kind): gunzip/parse,
// enforce the size cap, verify the store signature, and verify every
// message's own signature, hashes, and bucket binding.
func Validate(keyPath string, raw []byte) (*OfflineStore, error) {
	signer, err := signerFromKeyPath(keyPath)
	if err != nil {
		return nil, err
	}

	store, err := gunzipJSON(raw)
	if err != nil {
		return nil, err
	}
	if len(store.Messages) > MaxMessagesPerStore {
		return nil, fmt.Errorf("offline: store exceeds %d messages", MaxMessagesPerStore)
	}

	storePayload, err := json.Marshal(store.StoreSignedPayload)
	if err != nil {
		return nil, fmt.Errorf("marshal store signed payload: %w", err)
	}
	if !ed25519.Verify(signer, storePayload, store.StoreSignature) {
		return nil, fmt.Errorf("offline: invalid store signature")
	}
	if store.StoreSignedPayload.BucketKey != keyPath {
		return nil, fmt.Errorf("offline: store signed payload bucket key mismatch")
	}

	for i := range store.Messages {
		msg := &store.Messages[i]
		if msg.SignedPayload.BucketKey != keyPath {
			return nil, fmt.Errorf("offline: message %s bucket key mismatch", msg.ID)
		}
		contentHash, err := sha256Of(msg.Content)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(contentHash, msg.SignedPayload.ContentHash) {
			return nil, fmt.Errorf("offline: message %s content hash mismatch", msg.ID)
		}
		senderInfoHash, err := sha256Of(msg.EncryptedSenderInfo)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(senderInfoHash, msg.SignedPayload.SenderInfoHash) {
			return nil, fmt.Errorf("offline: message %s sender-info hash mismatch", msg.ID)
		}
		payload, err := json.Marshal(msg.SignedPayload)
		if err != nil {
			return nil, fmt.Errorf("marshal message signed payload: %w", err)
		}
		if !ed25519.Verify(signer, payload, msg.Signature) {
			return nil, fmt.Errorf("offline: message %s has an invalid signature", msg.ID)
		}
	}

	return store, nil
}

// Select implements the replica conflict resolution rule: largest
// version wins, tiebreak on largest last_updated.
func Select(a, b *OfflineStore) *OfflineStore {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Version != b.Version {
		if a.Version > b.Version {
			return a
		}
		return b
	}
	if a.LastUpdated >= b.LastUpdated {
		return a
	}
	return b
}

// IsStale reports whether candidate is not strictly newer than
// current under the version/last-updated ordering Select uses, i.e.
// whether an incoming update should be rejected.
func IsStale(current, candidate *OfflineStore) bool {
	if current == nil {
		return false
	}
	if candidate == nil {
		return true
	}
	if candidate.Version != current.Version {
		return candidate.Version < current.Version
	}
	return candidate.LastUpdated <= current.LastUpdated
}

func sha256Of(b []byte) ([]byte, error) {
	h := sha256.Sum256(b)
	return h[:], nil
}
