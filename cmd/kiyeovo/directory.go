package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"

	"github.com/kiyeovo/kiyeovo/group"
	"github.com/kiyeovo/kiyeovo/offline"
	"github.com/kiyeovo/kiyeovo/pkg/storage"
)

// storageDirectory implements group.ContactDirectory against the
// persisted contact store, so control-plane peer resolution survives
// daemon restarts instead of living only in process memory.
type storageDirectory struct {
	contacts storage.ContactStore
}

func newStorageDirectory(contacts storage.ContactStore) *storageDirectory {
	return &storageDirectory{contacts: contacts}
}

func (d *storageDirectory) SigningKeyFor(peerID string) (ed25519.PublicKey, bool) {
	c, err := d.contacts.Get(context.Background(), peerID)
	if err != nil || len(c.SigningPub) != ed25519.PublicKeySize {
		return nil, false
	}
	return ed25519.PublicKey(c.SigningPub), true
}

func (d *storageDirectory) OfflineEnvelope(peerID string) (offline.Peer, bool) {
	c, err := d.contacts.Get(context.Background(), peerID)
	if err != nil {
		return offline.Peer{}, false
	}
	pub, err := x509.ParsePKIXPublicKey(c.OfflinePub)
	if err != nil {
		return offline.Peer{}, false
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return offline.Peer{}, false
	}
	return offline.Peer{
		PeerID:       c.PeerID,
		SigningPub:   ed25519.PublicKey(c.SigningPub),
		OfflinePub:   rsaPub,
		BucketSecret: c.BucketSecret,
	}, true
}

func (d *storageDirectory) IsBlocked(peerID string) bool {
	c, err := d.contacts.Get(context.Background(), peerID)
	if err != nil {
		return false
	}
	return c.Blocked
}

var _ group.ContactDirectory = (*storageDirectory)(nil)
