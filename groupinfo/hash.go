package groupinfo

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// canonicalPayload builds a deterministic byte string over a
// VersionedRecord's content fields, independent of map iteration
// order, so every verifier recomputes the same stateHash from the
// wire record alone.
func canonicalPayload(r *VersionedRecord) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%x|", r.GroupID, r.Version, r.PrevVersionHash)

	members := append([]string(nil), r.Members...)
	sort.Strings(members)
	fmt.Fprintf(&b, "%s|", strings.Join(members, ","))

	pubKeys := make([]string, 0, len(r.MemberSigningPubKeys))
	for peer := range r.MemberSigningPubKeys {
		pubKeys = append(pubKeys, peer)
	}
	sort.Strings(pubKeys)
	for _, peer := range pubKeys {
		fmt.Fprintf(&b, "%s=%s,", peer, r.MemberSigningPubKeys[peer])
	}
	b.WriteByte('|')

	fmt.Fprintf(&b, "%d|", r.ActivatedAt)

	boundaryPeers := make([]string, 0, len(r.SenderSeqBoundaries))
	for peer := range r.SenderSeqBoundaries {
		boundaryPeers = append(boundaryPeers, peer)
	}
	sort.Strings(boundaryPeers)
	for _, peer := range boundaryPeers {
		fmt.Fprintf(&b, "%s=%d,", peer, r.SenderSeqBoundaries[peer])
	}

	return []byte(b.String())
}

// computeStateHash is the sha256 of the record's canonical payload.
func computeStateHash(r *VersionedRecord) []byte {
	sum := sha256.Sum256(canonicalPayload(r))
	return sum[:]
}
