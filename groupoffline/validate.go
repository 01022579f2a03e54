package groupoffline

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// senderFromKeyPath recovers the sender's Ed25519 public key, group
// id, and epoch embedded in a bucket key path.
func senderFromKeyPath(keyPath string) (ed25519.PublicKey, string, int, error) {
	rest := strings.TrimPrefix(keyPath, BucketKeyPrefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return nil, "", 0, fmt.Errorf("groupoffline: malformed key path %q", keyPath)
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, "", 0, fmt.Errorf("groupoffline: decode sender pub: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, "", 0, fmt.Errorf("groupoffline: sender pub has invalid length %d", len(raw))
	}
	keyVersion, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, "", 0, fmt.Errorf("groupoffline: malformed key version in path %q: %w", keyPath, err)
	}
	return ed25519.PublicKey(raw), parts[0], keyVersion, nil
}

// Validate enforces the C8 rule table for the group-offline
// namespace: key-path schema, 32-byte sender key, store-and
// per-message signature verification, and groupId/keyVersion
// agreement between the key path and every message's own fields.
func Validate(keyPath string, raw []byte) (*GroupOfflineStore, error) {
	senderPub, groupID, keyVersion, err := senderFromKeyPath(keyPath)
	if err != nil {
		return nil, err
	}
	var store GroupOfflineStore
	if err := json.Unmarshal(raw, &store); err != nil {
		return nil, fmt.Errorf("groupoffline: unmarshal store: %w", err)
	}
	if !verifyStore(senderPub, keyPath, &store) {
		return nil, ErrInvalidSignature
	}
	for i := range store.Messages {
		m := &store.Messages[i]
		if m.GroupID != groupID || m.KeyVersion != keyVersion {
			return nil, ErrKeyPathMismatch
		}
		if !verifyMessage(senderPub, m) {
			return nil, ErrInvalidSignature
		}
	}
	return &store, nil
}

// Select applies the group-offline selector: max version, tiebreak
// max last-updated — the same rule the direct offline namespace uses.
func Select(a, b *GroupOfflineStore) *GroupOfflineStore {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Version != a.Version {
		if b.Version > a.Version {
			return b
		}
		return a
	}
	if b.LastUpdated > a.LastUpdated {
		return b
	}
	return a
}

// IsStale reports whether candidate is not strictly newer than current.
func IsStale(current, candidate *GroupOfflineStore) bool {
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
