package groupoffline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"crypto/ed25519"

	"github.com/kiyeovo/kiyeovo/errs"
	"github.com/kiyeovo/kiyeovo/internal/logger"
	"github.com/kiyeovo/kiyeovo/pkg/storage"
	"github.com/kiyeovo/kiyeovo/scheduler"
	"github.com/kiyeovo/kiyeovo/transport"
)

// Config bounds one engine's behavior; callers wire these from
// config.GroupConfig.
type Config struct {
	MaxMessagesPerSender int
	MessageTTL           time.Duration
	RotationGraceWindow  time.Duration
	FanOutLimit          int
}

// Engine implements C6's sender and receiver workflows for one local
// peer across every group it belongs to.
type Engine struct {
	selfPeerID string
	signingKey ed25519.PrivateKey
	dht        transport.Transport
	mirror     Mirror
	state      storage.GroupStateStore
	log        logger.Logger
	cfg        Config
	collapser  *scheduler.Collapser

	bucketLocksMu sync.Mutex
	bucketLocks   map[string]*sync.Mutex

	onMessage func(MessageReceived)
	onGap     func(GapWarning)
}

// NewEngine builds an Engine for selfPeerID.
func NewEngine(selfPeerID string, signingKey ed25519.PrivateKey, dht transport.Transport, mirror Mirror, state storage.GroupStateStore, cfg Config) *Engine {
	if cfg.MaxMessagesPerSender <= 0 {
		cfg.MaxMessagesPerSender = 200
	}
	return &Engine{
		selfPeerID:  selfPeerID,
		signingKey:  signingKey,
		dht:         dht,
		mirror:      mirror,
		state:       state,
		log:         logger.GetDefaultLogger(),
		cfg:         cfg,
		collapser:   scheduler.NewCollapser(),
		bucketLocks: make(map[string]*sync.Mutex),
	}
}

// OnMessage registers the callback fired for each newly observed,
// decrypted group content message.
func (e *Engine) OnMessage(fn func(MessageReceived)) { e.onMessage = fn }

// OnGap registers the callback fired when a sender's sequence jumps.
func (e *Engine) OnGap(fn func(GapWarning)) { e.onGap = fn }

func (e *Engine) lockFor(bucketKey string) *sync.Mutex {
	e.bucketLocksMu.Lock()
	defer e.bucketLocksMu.Unlock()
	l, ok := e.bucketLocks[bucketKey]
	if !ok {
		l = &sync.Mutex{}
		e.bucketLocks[bucketKey] = l
	}
	return l
}

// Append implements the sender workflow: seal content under the
// epoch key, append it to this peer's own bucket for (groupID,
// keyVersion), trim to MaxMessagesPerSender, sign, and publish. It
// publishes once: a remote replica that has advanced past the local
// mirror is not detected, re-read or merged, and the put is not
// retried.
func (e *Engine) Append(ctx context.Context, groupID string, keyVersion int, epochKey []byte, content []byte, messageType string) (*GroupContentMessage, error) {
	selfPub := e.signingKey.Public().(ed25519.PublicKey)
	bucketKey := BucketKey(groupID, keyVersion, selfPub)

	lock := e.lockFor(bucketKey)
	lock.Lock()
	defer lock.Unlock()

	store, _ := e.mirror.Get(bucketKey)
	if store == nil {
		store = &GroupOfflineStore{}
	}

	msg, err := e.buildMessage(groupID, keyVersion, epochKey, content, messageType, e.nextSeq(store))
	if err != nil {
		return nil, err
	}

	if err := e.publishAppend(ctx, bucketKey, store, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (e *Engine) nextSeq(store *GroupOfflineStore) uint64 {
	return store.HighestSeq + 1
}

func (e *Engine) buildMessage(groupID string, keyVersion int, epochKey, content []byte, messageType string, seq uint64) (*GroupContentMessage, error) {
	ciphertext, nonce, err := sealContent(epochKey, groupID, keyVersion, e.selfPeerID, seq, content)
	if err != nil {
		return nil, fmt.Errorf("seal group message: %w", err)
	}
	msg := &GroupContentMessage{
		GroupID:          groupID,
		KeyVersion:       keyVersion,
		SenderPeerID:     e.selfPeerID,
		MessageID:        uuid.NewString(),
		Seq:              seq,
		EncryptedContent: ciphertext,
		Nonce:            nonce,
		Timestamp:        time.Now().UnixMilli(),
		MessageType:      messageType,
	}
	msg.Signature = signMessage(e.signingKey, msg)
	return msg, nil
}

// publishAppend appends msg to store, signs the result at the next
// version, and publishes it once; a put error is returned as is.
func (e *Engine) publishAppend(ctx context.Context, bucketKey string, store *GroupOfflineStore, msg *GroupContentMessage) error {
	candidate := appendAndTrim(store, msg, e.cfg.MaxMessagesPerSender, e.cfg.MessageTTL)
	candidate.Version = store.Version + 1
	candidate.LastUpdated = time.Now().UnixMilli()
	candidate.StoreSignature = signStore(e.signingKey, bucketKey, candidate)

	if err := e.put(ctx, bucketKey, candidate); err != nil {
		return err
	}
	if err := e.mirror.Put(bucketKey, candidate); err != nil {
		return err
	}
	return e.state.UpdateMemberSeq(ctx, msg.GroupID, e.selfPeerID, msg.KeyVersion, int64(msg.Seq))
}

func appendAndTrim(store *GroupOfflineStore, msg *GroupContentMessage, maxPerSender int, ttl time.Duration) *GroupOfflineStore {
	messages := pruneExpired(store.Messages, ttl, time.Now())
	for _, existing := range messages {
		if existing.MessageID == msg.MessageID {
			messages = append([]GroupContentMessage(nil), messages...)
			candidate := &GroupOfflineStore{Messages: messages}
			candidate.HighestSeq = highestSeqOf(messages)
			return candidate
		}
	}
	messages = append(append([]GroupContentMessage(nil), messages...), *msg)
	if maxPerSender > 0 && len(messages) > maxPerSender {
		messages = messages[len(messages)-maxPerSender:]
	}
	return &GroupOfflineStore{Messages: messages, HighestSeq: highestSeqOf(messages)}
}

func highestSeqOf(messages []GroupContentMessage) uint64 {
	var max uint64
	for _, m := range messages {
		if m.Seq > max {
			max = m.Seq
		}
	}
	return max
}

func (e *Engine) put(ctx context.Context, key string, store *GroupOfflineStore) error {
	raw, err := json.Marshal(store)
	if err != nil {
		return fmt.Errorf("marshal group offline store: %w", err)
	}
	events, err := e.dht.DHTPut(ctx, key, raw)
	if err != nil {
		return err
	}
	acked := false
	for ev := range events {
		if ev.Err != nil {
			return ev.Err
		}
		if ev.Kind == transport.EventPeerResponse {
			acked = true
		}
	}
	if !acked {
		return errs.New(errs.DhtPutNoPeers, "Engine.put", fmt.Errorf("no peers acknowledged %s", key))
	}
	return nil
}
