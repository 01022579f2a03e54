package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kiyeovo/kiyeovo/pkg/storage"
)

// GroupStateStore implements storage.GroupStateStore with in-memory maps.
type GroupStateStore struct {
	mu sync.RWMutex

	pendingAcks map[string]*storage.PendingAck             // by messageID
	memberSeqs  map[string]*storage.MemberSeq               // by group|sender|epoch
	epochKeys   map[string]*storage.GroupEpochKey           // by group|epoch
	cursors     map[string]*storage.GroupOfflineCursor      // by group|reader
	logins      map[string]*storage.LoginAttempt            // by identityID
}

func newGroupStateStore() *GroupStateStore {
	return &GroupStateStore{
		pendingAcks: make(map[string]*storage.PendingAck),
		memberSeqs:  make(map[string]*storage.MemberSeq),
		epochKeys:   make(map[string]*storage.GroupEpochKey),
		cursors:     make(map[string]*storage.GroupOfflineCursor),
		logins:      make(map[string]*storage.LoginAttempt),
	}
}

func memberSeqKey(groupID, senderPubKey string, epoch int) string {
	return fmt.Sprintf("%s|%s|%d", groupID, senderPubKey, epoch)
}

func epochKeyKey(groupID string, epoch int) string {
	return fmt.Sprintf("%s|%d", groupID, epoch)
}

func cursorKey(groupID, readerID string) string {
	return fmt.Sprintf("%s|%s", groupID, readerID)
}

func (g *GroupStateStore) InsertPendingAck(ctx context.Context, ack *storage.PendingAck) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ackCopy := *ack
	g.pendingAcks[ack.MessageID] = &ackCopy
	return nil
}

func (g *GroupStateStore) RemovePendingAck(ctx context.Context, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.pendingAcks, messageID)
	return nil
}

func (g *GroupStateStore) GetPendingAcksForGroup(ctx context.Context, groupID string) ([]*storage.PendingAck, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var acks []*storage.PendingAck
	for _, ack := range g.pendingAcks {
		if ack.GroupID == groupID {
			ackCopy := *ack
			acks = append(acks, &ackCopy)
		}
	}
	return acks, nil
}

func (g *GroupStateStore) GetMemberSeq(ctx context.Context, groupID, senderPubKey string, epoch int) (*storage.MemberSeq, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seq, exists := g.memberSeqs[memberSeqKey(groupID, senderPubKey, epoch)]
	if !exists {
		return nil, nil
	}
	seqCopy := *seq
	return &seqCopy, nil
}

func (g *GroupStateStore) UpdateMemberSeq(ctx context.Context, groupID, senderPubKey string, epoch int, seq int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := memberSeqKey(groupID, senderPubKey, epoch)
	existing, ok := g.memberSeqs[key]
	if !ok || seq > existing.HighestSeq {
		g.memberSeqs[key] = &storage.MemberSeq{
			GroupID:      groupID,
			SenderPubKey: senderPubKey,
			Epoch:        epoch,
			HighestSeq:   seq,
			UpdatedAt:    time.Now(),
		}
	}
	return nil
}

func (g *GroupStateStore) GetGroupKeyForEpoch(ctx context.Context, groupID string, epoch int) (*storage.GroupEpochKey, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	key, exists := g.epochKeys[epochKeyKey(groupID, epoch)]
	if !exists {
		return nil, fmt.Errorf("no key stored for group %s epoch %d", groupID, epoch)
	}
	keyCopy := *key
	return &keyCopy, nil
}

func (g *GroupStateStore) PutGroupKeyForEpoch(ctx context.Context, key *storage.GroupEpochKey) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	keyCopy := *key
	g.epochKeys[epochKeyKey(key.GroupID, key.Epoch)] = &keyCopy
	return nil
}

func (g *GroupStateStore) GetGroupOfflineCursor(ctx context.Context, groupID, readerID string) (*storage.GroupOfflineCursor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cursor, exists := g.cursors[cursorKey(groupID, readerID)]
	if !exists {
		return nil, nil
	}
	cursorCopy := *cursor
	return &cursorCopy, nil
}

func (g *GroupStateStore) UpsertGroupOfflineCursor(ctx context.Context, cursor *storage.GroupOfflineCursor) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cursorCopy := *cursor
	cursorCopy.UpdatedAt = time.Now()
	g.cursors[cursorKey(cursor.GroupID, cursor.ReaderID)] = &cursorCopy
	return nil
}

func (g *GroupStateStore) RecordFailedLoginAttempt(ctx context.Context, identityID string, cooldownUntil time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	attempt, exists := g.logins[identityID]
	if !exists {
		attempt = &storage.LoginAttempt{IdentityID: identityID}
		g.logins[identityID] = attempt
	}
	attempt.Attempts++
	attempt.LastAttempt = time.Now()
	attempt.CooldownUntil = cooldownUntil
	return nil
}

func (g *GroupStateStore) CheckLoginCooldown(ctx context.Context, identityID string) (*storage.LoginAttempt, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	attempt, exists := g.logins[identityID]
	if !exists {
		return nil, nil
	}
	attemptCopy := *attempt
	return &attemptCopy, nil
}

func (g *GroupStateStore) ClearLoginAttempts(ctx context.Context, identityID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.logins, identityID)
	return nil
}
