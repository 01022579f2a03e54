package offline

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/kiyeovo/kiyeovo/errs"
	"github.com/kiyeovo/kiyeovo/internal/logger"
	"github.com/kiyeovo/kiyeovo/scheduler"
	"github.com/kiyeovo/kiyeovo/transport"
)

// PollPeers fetches every peer's read bucket in parallel (bounded by
// limit, 0 = unbounded) and delivers any new messages via OnMessage.
// It implements the spec's polling step: batch-DHT-GET, verify,
// decrypt, skip anything not addressed to us, and advance last_read_ts
// per peer.
func (e *Engine) PollPeers(ctx context.Context, peers []Peer, limit int) error {
	return scheduler.FanOut(ctx, limit, peers, func(ctx context.Context, peer Peer) error {
		return e.pollOne(ctx, peer)
	})
}

func (e *Engine) pollOne(ctx context.Context, peer Peer) error {
	readBucketKey := peerWriteBucketKey(peer.BucketSecret, peer.SigningPub)

	v, err, _ := e.collapser.Do(readBucketKey, func() (interface{}, error) {
		return e.fetchReplica(ctx, readBucketKey)
	})
	if err != nil {
		return err
	}
	remote, _ := v.(*OfflineStore)
	if remote == nil {
		return nil
	}

	local, _ := e.mirror.Get(readBucketKey)
	if IsStale(local, remote) {
		remote = local
	} else if err := e.mirror.Put(readBucketKey, remote); err != nil {
		return err
	}
	if remote == nil {
		return nil
	}

	lastReadTs := e.mirror.LastReadTimestamp(readBucketKey)
	maxSeen := lastReadTs

	for _, msg := range remote.Messages {
		if msg.Timestamp <= lastReadTs {
			continue
		}
		if msg.Timestamp > maxSeen {
			maxSeen = msg.Timestamp
		}

		senderRaw, err := openContent(e.offlinePriv, msg.MessageType, msg.EncryptedSenderInfo, msg.EncryptedAESKey, msg.AESIv)
		if err != nil {
			e.log.Warn("offline: failed to decrypt sender info, skipping message",
				logger.String("peer_id", peer.PeerID), logger.String("message_id", msg.ID))
			continue
		}
		var sender SenderInfo
		if err := json.Unmarshal(senderRaw, &sender); err != nil {
			continue
		}
		if sender.PeerID == e.selfPeerID {
			continue // self-addressed, ignore per spec
		}

		content, err := openContent(e.offlinePriv, msg.MessageType, msg.Content, msg.EncryptedAESKey, msg.AESIv)
		if err != nil {
			continue
		}

		if sender.OfflineAckTimestamp > 0 {
			e.clearAcknowledgedMessages(ctx, sender.PeerID, peer, sender.OfflineAckTimestamp)
		}

		if e.onMessage != nil {
			e.onMessage(MessageReceived{
				PeerID:    peer.PeerID,
				Sender:    sender,
				Content:   content,
				Timestamp: msg.Timestamp,
			})
		}
	}

	return e.mirror.SetLastReadTimestamp(readBucketKey, maxSeen)
}

func (e *Engine) fetchReplica(ctx context.Context, bucketKey string) (*OfflineStore, error) {
	events, err := e.dht.DHTGet(ctx, bucketKey)
	if err != nil {
		return nil, errs.New(errs.PeerUnreachable, "Engine.PollPeers", err)
	}

	var best *OfflineStore
	for ev := range events {
		if ev.Err != nil {
			continue
		}
		if ev.Kind != transport.EventValue {
			continue
		}
		store, err := Validate(bucketKey, ev.Value)
		if err != nil {
			continue // reject invalid replicas silently, per validator contract
		}
		if best == nil || !IsStale(best, store) {
			best = store
		}
	}
	return best, nil
}

// clearAcknowledgedMessages drops every message in our write bucket to
// peer with timestamp <= ackTs, then re-signs and republishes, per the
// spec's ACK piggybacking rule.
func (e *Engine) clearAcknowledgedMessages(ctx context.Context, fromPeerID string, peer Peer, ackTs int64) {
	ourSigningPub := e.signingKey.Public().(ed25519.PublicKey)
	bucketKey := peerWriteBucketKey(peer.BucketSecret, ourSigningPub)

	store, ok := e.mirror.Get(bucketKey)
	if !ok {
		return
	}
	kept := store.Messages[:0:0]
	for _, m := range store.Messages {
		if m.Timestamp > ackTs {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(store.Messages) {
		return // nothing acknowledged
	}
	store.Messages = kept
	store.Version++
	store.LastUpdated = time.Now().UnixMilli()

	if err := e.signStore(bucketKey, store); err != nil {
		e.log.Warn("offline: failed to sign store after ack", logger.String("bucket", bucketKey))
		return
	}
	if err := e.publish(ctx, bucketKey, store); err != nil {
		e.log.Warn("offline: failed to republish store after ack", logger.String("bucket", bucketKey))
		return
	}
	if err := e.mirror.Put(bucketKey, store); err != nil {
		e.log.Warn("offline: failed to update mirror after ack", logger.String("bucket", bucketKey))
	}
}

// NextAckTimestamp returns offline_ack_timestamp to piggyback on the
// next direct message to peer, if it has advanced past the last ack
// we sent them, or 0 if there is nothing new to acknowledge.
func (e *Engine) NextAckTimestamp(readBucketKey string) int64 {
	e.ackMu.Lock()
	defer e.ackMu.Unlock()

	lastRead := e.mirror.LastReadTimestamp(readBucketKey)
	if lastRead <= e.lastAckSent[readBucketKey] {
		return 0
	}
	e.lastAckSent[readBucketKey] = lastRead
	return lastRead
}
