package groupinfo

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
)

func signedBytes(parts ...interface{}) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		fmt.Fprintf(&buf, "%v|", p)
	}
	return buf.Bytes()
}

func versionedSignedBytes(r *VersionedRecord) []byte {
	return signedBytes(r.GroupID, r.Version, fmt.Sprintf("%x", r.StateHash))
}

func latestSignedBytes(p *LatestPointer) []byte {
	return signedBytes(p.GroupID, p.LatestVersion, fmt.Sprintf("%x", p.LatestStateHash), p.LastUpdated)
}

func signVersioned(priv ed25519.PrivateKey, r *VersionedRecord) []byte {
	return ed25519.Sign(priv, versionedSignedBytes(r))
}

func signLatest(priv ed25519.PrivateKey, p *LatestPointer) []byte {
	return ed25519.Sign(priv, latestSignedBytes(p))
}
