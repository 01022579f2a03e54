// Package offline implements the direct offline bucket engine (C4):
// a per-pair DHT bucket holding RSA-sealed messages for a peer who is
// not currently reachable, with signed writes, a version/last-updated
// selector for replica conflicts, and ACK-driven pruning.
package offline

import (
	"encoding/base64"
	"errors"
	"time"
)

// MaxMessagesPerStore bounds how many messages a single bucket may
// hold; Put refuses once the local mirror already has this many.
const MaxMessagesPerStore = 256

// DefaultMessageTTL is how long an offline message survives before
// Put's pruning pass drops it, absent an explicit ExpiresAt.
const DefaultMessageTTL = 14 * 24 * time.Hour

// BucketKeyPrefix namespaces every direct offline bucket key in the DHT.
const BucketKeyPrefix = "/kiyeovo-offline/"

// MessageType discriminates how OfflineMessage.Content was sealed.
type MessageType string

const (
	MessageEncrypted MessageType = "encrypted" // direct RSA-OAEP
	MessageHybrid    MessageType = "hybrid"    // AES-256-GCM + RSA-OAEP key wrap
	MessagePlain     MessageType = "plain"     // unencrypted, local-test only
)

// SignedPayload is the portion of an OfflineMessage the sender signs:
// hashes of the encrypted blobs plus enough context that a validator
// can check authorization without decrypting anything.
type SignedPayload struct {
	ContentHash    []byte `json:"content_hash"`
	SenderInfoHash []byte `json:"sender_info_hash"`
	Timestamp      int64  `json:"timestamp"`
	BucketKey      string `json:"bucket_key"`
}

// OfflineMessage is one RSA-sealed message held in a pair's offline bucket.
type OfflineMessage struct {
	ID                  string        `json:"id"`
	EncryptedSenderInfo []byte        `json:"encrypted_sender_info"`
	Content             []byte        `json:"content"`
	MessageType         MessageType   `json:"message_type"`
	EncryptedAESKey     []byte        `json:"encrypted_aes_key,omitempty"`
	AESIv               []byte        `json:"aes_iv,omitempty"`
	Signature           []byte        `json:"signature"`
	SignedPayload       SignedPayload `json:"signed_payload"`
	Timestamp           int64         `json:"timestamp"`
	ExpiresAt           int64         `json:"expires_at"`
}

// StoreSignedPayload is the portion of an OfflineStore the sender signs.
type StoreSignedPayload struct {
	MessageIDs []string `json:"message_ids"`
	Version    uint64   `json:"version"`
	Timestamp  int64    `json:"timestamp"`
	BucketKey  string   `json:"bucket_key"`
}

// OfflineStore is the full record written to one bucket key.
type OfflineStore struct {
	Messages           []OfflineMessage   `json:"messages"`
	Version            uint64             `json:"version"`
	LastUpdated        int64              `json:"last_updated"`
	StoreSignature     []byte             `json:"store_signature"`
	StoreSignedPayload StoreSignedPayload `json:"store_signed_payload"`
}

// SenderInfo is RSA-sealed alongside the message content so a reader
// can identify the sender without trusting the (public) bucket path.
type SenderInfo struct {
	PeerID            string `json:"peer_id"`
	Username          string `json:"username,omitempty"`
	OfflineAckTimestamp int64  `json:"offline_ack_timestamp,omitempty"`
}

var (
	// ErrStoreFull is returned by Put when the local mirror already
	// holds MaxMessagesPerStore messages after pruning.
	ErrStoreFull = errors.New("offline: bucket store is full")
	// ErrStale is returned when an incoming replica is not newer than
	// the one already held, per the selector's version/last-updated order.
	ErrStale = errors.New("offline: replica is stale")
)

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
