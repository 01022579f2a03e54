package offline

import (
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiyeovo/kiyeovo/errs"
	"github.com/kiyeovo/kiyeovo/internal/logger"
	"github.com/kiyeovo/kiyeovo/scheduler"
	"github.com/kiyeovo/kiyeovo/transport"
)

// MessageReceived is fired for every new offline message a poll
// delivers, after signature verification and decryption.
type MessageReceived struct {
	PeerID    string
	Sender    SenderInfo
	Content   []byte
	Timestamp int64
}

// Peer is everything the engine needs to know about one contact's
// offline bucket: their signing/offline public keys and the bucket
// secret shared with them during the C3 handshake.
type Peer struct {
	PeerID       string
	SigningPub   ed25519.PublicKey
	OfflinePub   *rsa.PublicKey
	BucketSecret []byte
}

// Engine implements the direct offline bucket engine: sealing and
// publishing messages for peers who are not reachable, and polling
// peers' buckets for messages addressed to us.
type Engine struct {
	selfPeerID string
	signingKey ed25519.PrivateKey
	offlinePub *rsa.PublicKey
	offlinePriv *rsa.PrivateKey

	dht    transport.Transport
	mirror Mirror
	log    logger.Logger

	collapser *scheduler.Collapser

	onMessage func(MessageReceived)

	ackMu       sync.Mutex
	lastAckSent map[string]int64
}

// Config tunes the engine's DHT interaction.
type Config struct {
	FanOutLimit int // max concurrent per-peer polls; 0 = unbounded
}

// NewEngine builds an Engine for a node's own signing key pair and
// offline (RSA) sealing key pair.
func NewEngine(selfPeerID string, signingKey ed25519.PrivateKey, offlinePub *rsa.PublicKey, offlinePriv *rsa.PrivateKey, dht transport.Transport, mirror Mirror) *Engine {
	return &Engine{
		selfPeerID:  selfPeerID,
		signingKey:  signingKey,
		offlinePub:  offlinePub,
		offlinePriv: offlinePriv,
		dht:         dht,
		mirror:      mirror,
		log:         logger.GetDefaultLogger(),
		collapser:   scheduler.NewCollapser(),
		lastAckSent: make(map[string]int64),
	}
}

// OnMessage registers the callback invoked for every newly delivered
// offline message.
func (e *Engine) OnMessage(fn func(MessageReceived)) {
	e.onMessage = fn
}

func peerWriteBucketKey(bucketSecret []byte, signingPub ed25519.PublicKey) string {
	return BucketKey(bucketSecret, signingPub)
}

// Put seals content (and senderInfo) for peer and appends it to our
// write bucket, the one peer polls to receive messages from us. It
// implements the spec's put algorithm: read the local mirror, prune
// expired messages, refuse if full, append, bump version, sign, gzip,
// DHT-PUT, and require at least one PEER_RESPONSE.
func (e *Engine) Put(ctx context.Context, peer Peer, senderInfo SenderInfo, content []byte, ttl time.Duration) error {
	ourSigningPub := e.signingKey.Public().(ed25519.PublicKey)
	bucketKey := peerWriteBucketKey(peer.BucketSecret, ourSigningPub)

	store, _ := e.mirror.Get(bucketKey)
	if store == nil {
		store = &OfflineStore{}
	}
	now := time.Now()
	store.Messages = pruneExpired(store.Messages, now)
	if len(store.Messages) >= MaxMessagesPerStore {
		return errs.New(errs.StoreTooLarge, "Engine.Put", ErrStoreFull)
	}

	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}

	sealedContent, msgType, encAESKey, iv, err := e.sealForPeer(peer.OfflinePub, content)
	if err != nil {
		return fmt.Errorf("offline: seal content: %w", err)
	}
	sealedSenderInfo, err := e.sealSenderInfo(peer.OfflinePub, senderInfo)
	if err != nil {
		return fmt.Errorf("offline: seal sender info: %w", err)
	}

	msg, err := e.signMessage(bucketKey, msgType, sealedContent, encAESKey, iv, sealedSenderInfo, now, ttl)
	if err != nil {
		return err
	}
	store.Messages = append(store.Messages, *msg)
	store.Version++
	store.LastUpdated = now.UnixMilli()

	if err := e.signStore(bucketKey, store); err != nil {
		return err
	}

	if err := e.publish(ctx, bucketKey, store); err != nil {
		return err
	}
	return e.mirror.Put(bucketKey, store)
}

func (e *Engine) sealForPeer(recipientPub *rsa.PublicKey, content []byte) (sealed []byte, msgType MessageType, encAESKey, iv []byte, err error) {
	msgType, sealed, encAESKey, iv, err = sealContent(recipientPub, content)
	return sealed, msgType, encAESKey, iv, err
}

func (e *Engine) sealSenderInfo(recipientPub *rsa.PublicKey, info SenderInfo) ([]byte, error) {
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal sender info: %w", err)
	}
	_, sealed, _, _, err := sealContent(recipientPub, raw)
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

func (e *Engine) signMessage(bucketKey string, msgType MessageType, content, encAESKey, iv, senderInfo []byte, now time.Time, ttl time.Duration) (*OfflineMessage, error) {
	contentHash, err := sha256Of(content)
	if err != nil {
		return nil, err
	}
	senderInfoHash, err := sha256Of(senderInfo)
	if err != nil {
		return nil, err
	}
	payload := SignedPayload{
		ContentHash:    contentHash,
		SenderInfoHash: senderInfoHash,
		Timestamp:      now.UnixMilli(),
		BucketKey:      bucketKey,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal signed payload: %w", err)
	}
	return &OfflineMessage{
		ID:                  uuid.NewString(),
		EncryptedSenderInfo: senderInfo,
		Content:             content,
		MessageType:         msgType,
		EncryptedAESKey:     encAESKey,
		AESIv:               iv,
		Signature:           ed25519.Sign(e.signingKey, payloadBytes),
		SignedPayload:       payload,
		Timestamp:           now.UnixMilli(),
		ExpiresAt:           now.Add(ttl).UnixMilli(),
	}, nil
}

func (e *Engine) signStore(bucketKey string, store *OfflineStore) error {
	ids := make([]string, len(store.Messages))
	for i, m := range store.Messages {
		ids[i] = m.ID
	}
	payload := StoreSignedPayload{
		MessageIDs: ids,
		Version:    store.Version,
		Timestamp:  store.LastUpdated,
		BucketKey:  bucketKey,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal store signed payload: %w", err)
	}
	store.StoreSignedPayload = payload
	store.StoreSignature = ed25519.Sign(e.signingKey, payloadBytes)
	return nil
}

func (e *Engine) publish(ctx context.Context, bucketKey string, store *OfflineStore) error {
	gz, err := gzipJSON(store)
	if err != nil {
		return err
	}
	events, err := e.dht.DHTPut(ctx, bucketKey, gz)
	if err != nil {
		return errs.New(errs.DhtPutNoPeers, "Engine.Put", err)
	}
	sawPeerResponse := false
	for ev := range events {
		if ev.Err != nil {
			return errs.New(errs.DhtPutNoPeers, "Engine.Put", ev.Err)
		}
		if ev.Kind == transport.EventPeerResponse {
			sawPeerResponse = true
		}
	}
	if !sawPeerResponse {
		return errs.New(errs.DhtPutNoPeers, "Engine.Put", fmt.Errorf("no peer acknowledged bucket %s", bucketKey))
	}
	return nil
}

func pruneExpired(msgs []OfflineMessage, now time.Time) []OfflineMessage {
	nowMs := now.UnixMilli()
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.ExpiresAt > nowMs {
			out = append(out, m)
		}
	}
	return out
}
