package groupoffline

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// aad binds a sealed message to its group, epoch, sender, and
// sequence number, so a ciphertext can't be replayed under a
// different epoch or attributed to a different seq.
func aad(groupID string, keyVersion int, senderPeerID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s|%d", groupID, keyVersion, senderPeerID, seq))
}

// sealContent encrypts content under the epoch key with a fresh
// random 24-byte XChaCha20-Poly1305 nonce.
func sealContent(epochKey []byte, groupID string, keyVersion int, senderPeerID string, seq uint64, content []byte) (ciphertext, nonce []byte, err error) {
	aeadCipher, err := chacha20poly1305.NewX(epochKey)
	if err != nil {
		return nil, nil, fmt.Errorf("init aead: %w", err)
	}
	nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext = aeadCipher.Seal(nil, nonce, content, aad(groupID, keyVersion, senderPeerID, seq))
	return ciphertext, nonce, nil
}

// openContent decrypts a message sealed by sealContent, rejecting it
// if the AAD the receiver reconstructs from the message's own fields
// doesn't match what the sender bound into the tag.
func openContent(epochKey []byte, msg *GroupContentMessage) ([]byte, error) {
	aeadCipher, err := chacha20poly1305.NewX(epochKey)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	plaintext, err := aeadCipher.Open(nil, msg.Nonce, msg.EncryptedContent, aad(msg.GroupID, msg.KeyVersion, msg.SenderPeerID, msg.Seq))
	if err != nil {
		return nil, fmt.Errorf("decrypt group message: %w", err)
	}
	return plaintext, nil
}
