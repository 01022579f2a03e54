package transport

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kiyeovo/kiyeovo/errs"
	"golang.org/x/crypto/hkdf"
)

// DeriveOfflineBucketSecret expands a completed handshake's raw ECDH
// output into the secret both peers use to address their pair's
// offline bucket (C4), independent of the session's own
// encryption/signing keys.
func DeriveOfflineBucketSecret(sharedSecret []byte) []byte {
	h := hkdf.New(sha256.New, sharedSecret, nil, []byte("kiyeovo/offline-bucket v1"))
	out := make([]byte, 32)
	io.ReadFull(h, out) //nolint:errcheck // hkdf.Read only fails if out exceeds its expansion limit
	return out
}

// EncryptedPayload is the plaintext structure carried by a
// FrameEncrypted frame's payload once decrypted.
type EncryptedPayload struct {
	Content             []byte `json:"content"`
	SenderUsername      string `json:"senderUsername,omitempty"`
	OfflineAckTimestamp int64  `json:"offlineAckTimestamp,omitempty"`
}

// Envelope binds an established session to the sender/recipient
// identity pair used to build each message's AAD, and tracks the
// message counter that drives key rotation.
type Envelope struct {
	sess         *EstablishedSession
	selfPeerID   string
	recvPubFingerprint string
	rotateAt     int
}

// NewEnvelope creates an Envelope over an established session.
// recvPubFingerprint should be a stable hash of the recipient's
// signing public key, and rotateAt is the message-count threshold
// that triggers a fresh key exchange before the next send.
func NewEnvelope(sess *EstablishedSession, selfPeerID, recvPubFingerprint string, rotateAt int) *Envelope {
	return &Envelope{sess: sess, selfPeerID: selfPeerID, recvPubFingerprint: recvPubFingerprint, rotateAt: rotateAt}
}

// NeedsRotation reports whether the session has crossed the
// configured message-count threshold and a fresh key exchange must
// run before the next send.
func (e *Envelope) NeedsRotation() bool {
	if e.rotateAt <= 0 {
		return false
	}
	return e.sess.Session.GetMessageCount() >= e.rotateAt
}

func (e *Envelope) aad(senderPeerID string, counter int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(counter))
	aad := []byte(senderPeerID)
	aad = append(aad, []byte(e.recvPubFingerprint)...)
	aad = append(aad, buf...)
	return aad
}

// SealedMessage is the wire form of an encrypted chat message: the
// sender identity and counter travel in the clear (they're AAD, not
// secret) alongside the opaque ciphertext.
type SealedMessage struct {
	SenderPeerID string `json:"senderPeerId"`
	Counter      int    `json:"counter"`
	Ciphertext   []byte `json:"ciphertext"`
}

// Seal encrypts content for sending, binding {sender_peer_id,
// recv_pub_fingerprint, msg_counter} as AAD. Returns
// errs.RotationInProgress if the session has crossed its rotation
// threshold; the caller must re-exchange keys before sending.
func (e *Envelope) Seal(content []byte) (*SealedMessage, error) {
	if e.NeedsRotation() {
		return nil, errs.New(errs.RotationInProgress, "Envelope.Seal", fmt.Errorf("message count %d >= rotation threshold %d", e.sess.Session.GetMessageCount(), e.rotateAt))
	}
	counter := e.sess.Session.GetMessageCount()
	ct, err := e.sess.Session.EncryptWithAAD(content, e.aad(e.selfPeerID, counter))
	if err != nil {
		return nil, errs.New(errs.CryptoAuthFailed, "Envelope.Seal", err)
	}
	return &SealedMessage{SenderPeerID: e.selfPeerID, Counter: counter, Ciphertext: ct}, nil
}

// Open decrypts a SealedMessage produced by Seal, reconstructing the
// same AAD from the counter and sender id carried on the wire.
func (e *Envelope) Open(msg *SealedMessage) ([]byte, error) {
	plaintext, err := e.sess.Session.DecryptWithAAD(msg.Ciphertext, e.aad(msg.SenderPeerID, msg.Counter))
	if err != nil {
		return nil, errs.New(errs.CryptoAuthFailed, "Envelope.Open", err)
	}
	return plaintext, nil
}
