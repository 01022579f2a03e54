package groupinfo

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// signerFromLatestKeyPath recovers the creator's Ed25519 public key
// embedded in a latest-pointer key path.
func signerFromLatestKeyPath(keyPath string) (ed25519.PublicKey, string, error) {
	rest := strings.TrimPrefix(keyPath, LatestKeyPrefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return nil, "", fmt.Errorf("groupinfo: malformed latest key path %q", keyPath)
	}
	pub, err := decodeSignerPub(parts[1])
	if err != nil {
		return nil, "", err
	}
	return pub, parts[0], nil
}

// signerFromVersionedKeyPath recovers the creator's public key, group
// id, and version embedded in a versioned-record key path.
func signerFromVersionedKeyPath(keyPath string) (ed25519.PublicKey, string, int, error) {
	rest := strings.TrimPrefix(keyPath, VersionedKeyPrefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return nil, "", 0, fmt.Errorf("groupinfo: malformed versioned key path %q", keyPath)
	}
	pub, err := decodeSignerPub(parts[1])
	if err != nil {
		return nil, "", 0, err
	}
	version, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, "", 0, fmt.Errorf("groupinfo: malformed version in key path %q: %w", keyPath, err)
	}
	return pub, parts[0], version, nil
}

func decodeSignerPub(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("groupinfo: decode signer pub: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("groupinfo: signer pub has invalid length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// ValidateLatest enforces the C8 rule table for the
// group-info-latest namespace: key-path schema, 32-byte signer key,
// payload-bound signature, and groupId match between path and value.
func ValidateLatest(keyPath string, raw []byte) (*LatestPointer, error) {
	pub, groupID, err := signerFromLatestKeyPath(keyPath)
	if err != nil {
		return nil, err
	}
	var p LatestPointer
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("groupinfo: unmarshal latest pointer: %w", err)
	}
	if p.GroupID != groupID {
		return nil, ErrKeyPathMismatch
	}
	if !ed25519.Verify(pub, latestSignedBytes(&p), p.CreatorSignature) {
		return nil, ErrInvalidSignature
	}
	return &p, nil
}

// ValidateVersioned enforces the C8 rule table for the
// group-info-v namespace and recomputes/checks the record's own
// stateHash for self-consistency.
func ValidateVersioned(keyPath string, raw []byte) (*VersionedRecord, error) {
	pub, groupID, version, err := signerFromVersionedKeyPath(keyPath)
	if err != nil {
		return nil, err
	}
	var r VersionedRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("groupinfo: unmarshal versioned record: %w", err)
	}
	if r.GroupID != groupID || r.Version != version {
		return nil, ErrKeyPathMismatch
	}
	if !ed25519.Verify(pub, versionedSignedBytes(&r), r.CreatorSignature) {
		return nil, ErrInvalidSignature
	}
	if !bytes.Equal(computeStateHash(&r), r.StateHash) {
		return nil, ErrStateHashMismatch
	}
	return &r, nil
}

// SelectLatest applies the group-info-latest selector: max version,
// tiebreak max lastUpdated. A same-version candidate whose stateHash
// diverges from current is an invalid republish and is rejected,
// keeping current.
func SelectLatest(current, candidate *LatestPointer) (*LatestPointer, error) {
	if current == nil {
		return candidate, nil
	}
	if candidate == nil {
		return current, nil
	}
	if candidate.LatestVersion > current.LatestVersion {
		return candidate, nil
	}
	if candidate.LatestVersion < current.LatestVersion {
		return current, nil
	}
	if !bytes.Equal(candidate.LatestStateHash, current.LatestStateHash) {
		return current, ErrSameVersionDiverged
	}
	if candidate.LastUpdated > current.LastUpdated {
		return candidate, nil
	}
	return current, nil
}
