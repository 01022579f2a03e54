package groupoffline

import (
	"context"
	"crypto/ed25519"
	"sort"

	"github.com/kiyeovo/kiyeovo/internal/logger"
	"github.com/kiyeovo/kiyeovo/scheduler"
	"github.com/kiyeovo/kiyeovo/transport"
)

// Epoch describes one group key-version worth of context a receiver
// needs to scan that epoch's per-sender buckets: its symmetric
// content key, the time it stopped being the active epoch (zero if
// still active), and, from the versioned group-info record (C7), the
// per-sender sequence boundary capping replay of that epoch.
type Epoch struct {
	KeyVersion int
	Key        []byte
	UsedUntil  int64 // unix millis; 0 means still active
	Boundaries map[string]int64
}

// GroupContext is everything Poll needs about one active group chat:
// its roster's signing keys and the epochs eligible to scan.
type GroupContext struct {
	GroupID              string
	Roster               []string
	MemberSigningPubKeys map[string]ed25519.PublicKey
	Epochs               []Epoch
}

// Poll implements the receiver workflow: for every roster member
// (excluding self) and every eligible epoch, fetch that member's
// bucket, merge all fetched messages, order by (seq, timestamp), and
// run the per-message drop/verify/gap/decrypt pipeline.
func (e *Engine) Poll(ctx context.Context, g GroupContext) error {
	type fetchJob struct {
		member string
		epoch  Epoch
	}
	var jobs []fetchJob
	for _, epoch := range g.Epochs {
		for _, member := range g.Roster {
			if member == e.selfPeerID {
				continue
			}
			jobs = append(jobs, fetchJob{member: member, epoch: epoch})
		}
	}

	type fetchResult struct {
		epoch    Epoch
		messages []GroupContentMessage
	}
	results := make([]fetchResult, len(jobs))
	err := scheduler.FanOut(ctx, e.cfg.FanOutLimit, jobIndexes(len(jobs)), func(ctx context.Context, i int) error {
		job := jobs[i]
		memberPub, ok := g.MemberSigningPubKeys[job.member]
		if !ok {
			return nil
		}
		store, err := e.fetchBucket(ctx, g.GroupID, job.epoch.KeyVersion, memberPub)
		if err != nil {
			e.log.Warn("groupoffline: fetch failed", logger.String("group_id", g.GroupID), logger.String("member", job.member), logger.Error(err))
			return nil
		}
		if store != nil {
			results[i] = fetchResult{epoch: job.epoch, messages: store.Messages}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var all []GroupContentMessage
	epochOf := make(map[string]Epoch) // messageId -> epoch it came from
	for _, r := range results {
		for _, m := range r.messages {
			all = append(all, m)
			epochOf[m.MessageID] = r.epoch
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Seq != all[j].Seq {
			return all[i].Seq < all[j].Seq
		}
		return all[i].Timestamp < all[j].Timestamp
	})

	for _, msg := range all {
		epoch := epochOf[msg.MessageID]
		e.processMessage(ctx, g, epoch, &msg)
	}
	return nil
}

func jobIndexes(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func (e *Engine) fetchBucket(ctx context.Context, groupID string, keyVersion int, senderPub ed25519.PublicKey) (*GroupOfflineStore, error) {
	bucketKey := BucketKey(groupID, keyVersion, senderPub)
	v, err, _ := e.collapser.Do(bucketKey, func() (interface{}, error) {
		events, err := e.dht.DHTGet(ctx, bucketKey)
		if err != nil {
			return nil, err
		}
		var best *GroupOfflineStore
		for ev := range events {
			if ev.Err != nil {
				return nil, ev.Err
			}
			if ev.Kind != transport.EventValue {
				continue
			}
			candidate, err := Validate(bucketKey, ev.Value)
			if err != nil {
				e.log.Warn("groupoffline: dropping invalid bucket replica", logger.String("bucket_key", bucketKey), logger.Error(err))
				continue
			}
			best = Select(best, candidate)
		}
		return best, nil
	})
	if err != nil {
		return nil, err
	}
	store, _ := v.(*GroupOfflineStore)
	return store, nil
}

// processMessage runs the spec's 7-step per-message pipeline.
func (e *Engine) processMessage(ctx context.Context, g GroupContext, epoch Epoch, msg *GroupContentMessage) {
	// Step 1: key path / payload agreement is already enforced by
	// Validate at fetch time.
	if msg.GroupID != g.GroupID || msg.KeyVersion != epoch.KeyVersion {
		return
	}
	// Step 2: epoch retirement grace window.
	if epoch.UsedUntil > 0 && msg.Timestamp > epoch.UsedUntil+e.cfg.RotationGraceWindow.Milliseconds() {
		return
	}
	// Step 3: sender sequence boundary from the versioned group-info record.
	if boundary, ok := epoch.Boundaries[msg.SenderPeerID]; ok && msg.Seq > uint64(boundary) {
		return
	}
	// Step 4: signature, already verified at fetch time by Validate,
	// but re-checked here since this pipeline may run on messages
	// gathered across a full poll cycle, not just the fetch that
	// produced them.
	memberPub, ok := g.MemberSigningPubKeys[msg.SenderPeerID]
	if !ok || !verifyMessage(memberPub, msg) {
		return
	}

	seqKey := msg.SenderPeerID
	memberSeq, _ := e.state.GetMemberSeq(ctx, g.GroupID, seqKey, epoch.KeyVersion)
	var highestSeen uint64
	if memberSeq != nil {
		highestSeen = uint64(memberSeq.HighestSeq)
	}

	// Step 5: dedup.
	if msg.Seq <= highestSeen {
		return
	}
	// Step 6: gap detection, non-fatal.
	if msg.Seq > highestSeen+1 && e.onGap != nil {
		e.onGap(GapWarning{GroupID: g.GroupID, Epoch: epoch.KeyVersion, Sender: msg.SenderPeerID, Expected: highestSeen + 1, Actual: msg.Seq})
	}

	// Step 7: advance cursor, decrypt, persist, emit.
	if err := e.state.UpdateMemberSeq(ctx, g.GroupID, seqKey, epoch.KeyVersion, int64(msg.Seq)); err != nil {
		e.log.Warn("groupoffline: failed to advance member seq", logger.Error(err))
		return
	}
	content, err := openContent(epoch.Key, msg)
	if err != nil {
		e.log.Warn("groupoffline: decrypt failed", logger.String("message_id", msg.MessageID), logger.Error(err))
		return
	}
	if e.onMessage != nil {
		e.onMessage(MessageReceived{GroupID: g.GroupID, Epoch: epoch.KeyVersion, Sender: msg.SenderPeerID, MessageID: msg.MessageID, Content: content, Timestamp: msg.Timestamp})
	}
}
