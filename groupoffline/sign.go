package groupoffline

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

// messageSignedBytes canonicalizes the fields of one content message
// for signing/verification, binding the ciphertext itself (not just
// its metadata) into the signature.
func messageSignedBytes(m *GroupContentMessage) []byte {
	return signedBytes(m.GroupID, m.KeyVersion, m.SenderPeerID, m.MessageID, m.Seq, m.EncryptedContent, m.Nonce, m.Timestamp, m.MessageType)
}

func signMessage(priv ed25519.PrivateKey, m *GroupContentMessage) []byte {
	return ed25519.Sign(priv, messageSignedBytes(m))
}

func verifyMessage(pub ed25519.PublicKey, m *GroupContentMessage) bool {
	return ed25519.Verify(pub, messageSignedBytes(m), m.Signature)
}

// storeSignedBytes canonicalizes a store's own fields for signing,
// independent of per-message signatures.
func storeSignedBytes(bucketKey string, store *GroupOfflineStore) []byte {
	return signedBytes(bucketKey, store.Version, store.HighestSeq, store.LastUpdated, len(store.Messages))
}

func signStore(priv ed25519.PrivateKey, bucketKey string, store *GroupOfflineStore) []byte {
	return ed25519.Sign(priv, storeSignedBytes(bucketKey, store))
}

func verifyStore(pub ed25519.PublicKey, bucketKey string, store *GroupOfflineStore) bool {
	return ed25519.Verify(pub, storeSignedBytes(bucketKey, store), store.StoreSignature)
}
