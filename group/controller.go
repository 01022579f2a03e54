package group

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiyeovo/kiyeovo/crypto/keys"
	"github.com/kiyeovo/kiyeovo/errs"
	"github.com/kiyeovo/kiyeovo/internal/logger"
	"github.com/kiyeovo/kiyeovo/offline"
	"github.com/kiyeovo/kiyeovo/pkg/storage"
)

// ContactDirectory resolves a peer id to the material the control
// plane needs to reach and verify it: its Ed25519 signing public key,
// its RSA offline-sealing public key, and the bucket secret shared
// with it over the direct transport (C3).
type ContactDirectory interface {
	SigningKeyFor(peerID string) (ed25519.PublicKey, bool)
	OfflineEnvelope(peerID string) (offline.Peer, bool)
	IsBlocked(peerID string) bool
}

// Controller drives the group control-plane state machine: creating
// groups, handling invites/responses/welcomes/state-updates, and
// rotating the group key on membership changes.
type Controller struct {
	selfPeerID  string
	signingKey  ed25519.PrivateKey
	offlinePriv *rsa.PrivateKey

	directory ContactDirectory
	sender    *offline.Engine
	state     storage.GroupStateStore
	log       logger.Logger

	mu    sync.Mutex
	chats map[string]*Chat
}

// NewController builds a group Controller. sender is the direct
// offline bucket engine (C4) used to carry every control message.
func NewController(selfPeerID string, signingKey ed25519.PrivateKey, offlinePriv *rsa.PrivateKey, directory ContactDirectory, sender *offline.Engine, state storage.GroupStateStore) *Controller {
	return &Controller{
		selfPeerID:  selfPeerID,
		signingKey:  signingKey,
		offlinePriv: offlinePriv,
		directory:   directory,
		sender:      sender,
		state:       state,
		log:         logger.GetDefaultLogger(),
		chats:       make(map[string]*Chat),
	}
}

func (c *Controller) chat(groupID string) *Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chats[groupID]
}

func (c *Controller) putChat(chat *Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats[chat.GroupID] = chat
}

// GroupIDs lists every group this controller currently tracks, for a
// caller sweeping RepublishPending across all of them on a schedule.
func (c *Controller) GroupIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.chats))
	for id := range c.chats {
		ids = append(ids, id)
	}
	return ids
}

// Chat returns a tracked group's current roster and key version, for
// a caller assembling a groupoffline.GroupContext to poll with.
func (c *Controller) Chat(groupID string) (*Chat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chat, ok := c.chats[groupID]
	return chat, ok
}

// CreateGroup starts a new group as its creator: builds the local
// chat row and fans invites out to invitees in batches, persisting
// each to Pending ACK before sending.
func (c *Controller) CreateGroup(ctx context.Context, name string, invitees []string) (*Chat, error) {
	if len(invitees) < 2 {
		return nil, ErrTooFewInvitees
	}
	if len(invitees)+1 > MaxMembers {
		return nil, ErrGroupFull
	}
	for _, peerID := range invitees {
		if c.directory.IsBlocked(peerID) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
		}
	}

	groupID := uuid.NewString()
	_, status, _, _ := newInviteMetadataBuilder().build()
	chat := &Chat{
		GroupID:   groupID,
		GroupName: name,
		CreatorID: c.selfPeerID,
		Status:    status,
		Roster:    []string{c.selfPeerID},
	}
	c.putChat(chat)

	for i := 0; i < len(invitees); i += InviteBatchSize {
		end := i + InviteBatchSize
		if end > len(invitees) {
			end = len(invitees)
		}
		for _, peerID := range invitees[i:end] {
			if err := c.sendInvite(ctx, groupID, name, peerID); err != nil {
				c.log.Warn("group: failed to send invite", logger.String("peer_id", peerID), logger.Error(err))
			}
		}
	}
	return chat, nil
}

func (c *Controller) sendInvite(ctx context.Context, groupID, groupName, peerID string) error {
	inviteID, _, createdAt, expiresAt := newInviteMetadataBuilder().withExpiresAfter(InviteLifetime).build()
	inv := Invite{
		InviteID:  inviteID,
		GroupID:   groupID,
		GroupName: groupName,
		CreatorID: c.selfPeerID,
		ExpiresAt: expiresAt,
		MessageID: uuid.NewString(),
		Timestamp: createdAt,
	}
	inv.Signature = c.sign(inv.InviteID, inv.GroupID, inv.MessageID, inv.ExpiresAt, inv.Timestamp)

	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal invite: %w", err)
	}
	if err := c.persistPending(ctx, inv.MessageID, inv.InviteID, groupID, peerID, string(KindInvite), payload); err != nil {
		return err
	}
	return c.deliver(ctx, peerID, KindInvite, payload)
}

// HandleInvite implements the invitee path: verify, check expiry,
// dedup, and create a local pending chat row. Returns the chat row.
func (c *Controller) HandleInvite(inv *Invite) (*Chat, error) {
	if c.directory.IsBlocked(inv.CreatorID) {
		return nil, ErrUnknownPeer
	}
	pub, ok := c.directory.SigningKeyFor(inv.CreatorID)
	if !ok {
		return nil, ErrUnknownPeer
	}
	if !ed25519.Verify(pub, c.inviteSignedBytes(inv), inv.Signature) {
		return nil, ErrInvalidSignature
	}
	if time.Now().UnixMilli() > inv.ExpiresAt {
		return nil, ErrInviteExpired
	}

	if existing := c.chat(inv.GroupID); existing != nil {
		return existing, nil // already known: caller sends only the delivery ack
	}

	chat := &Chat{
		GroupID:   inv.GroupID,
		GroupName: inv.GroupName,
		CreatorID: inv.CreatorID,
		Status:    StatusInvitedPending,
	}
	c.putChat(chat)
	return chat, nil
}

// RespondToInvite builds and sends the invitee's accept/reject
// response, persisting it to Pending ACK first.
func (c *Controller) RespondToInvite(ctx context.Context, inviteID string, chat *Chat, accept bool) error {
	now := time.Now()
	resp := InviteResponse{
		InviteID:        inviteID,
		Accept:          accept,
		MessageID:       uuid.NewString(),
		Timestamp:       now.UnixMilli(),
		ResponderPeerID: c.selfPeerID,
	}
	resp.Signature = c.sign(resp.InviteID, resp.MessageID, resp.ResponderPeerID, resp.Timestamp, accept)

	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal invite response: %w", err)
	}
	if err := c.persistPending(ctx, resp.MessageID, inviteID, chat.GroupID, chat.CreatorID, string(KindInviteResponse), payload); err != nil {
		return err
	}
	if accept {
		chat.Status = StatusAwaitingActivation
	} else {
		chat.Status = StatusInviteExpired
	}
	c.putChat(chat)
	return c.deliver(ctx, chat.CreatorID, KindInviteResponse, payload)
}

// rotateKey generates a fresh 32-byte group key, bumps the chat's key
// version, records the new epoch key, and updates the roster.
func (c *Controller) rotateKey(ctx context.Context, chat *Chat, event StateUpdateEvent, targetPeerID string) ([]byte, error) {
	newKey := make([]byte, 32)
	if _, err := rand.Read(newKey); err != nil {
		return nil, fmt.Errorf("generate group key: %w", err)
	}
	newVersion := chat.KeyVersion + 1

	switch event {
	case EventJoin:
		chat.Roster = append(chat.Roster, targetPeerID)
	case EventLeave, EventKick:
		roster := chat.Roster[:0:0]
		for _, p := range chat.Roster {
			if p != targetPeerID {
				roster = append(roster, p)
			}
		}
		chat.Roster = roster
	}
	chat.KeyVersion = newVersion

	if err := c.state.PutGroupKeyForEpoch(ctx, &storage.GroupEpochKey{
		GroupID:   chat.GroupID,
		Epoch:     newVersion,
		Key:       newKey,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("store epoch key: %w", err)
	}
	c.putChat(chat)
	return newKey, nil
}

// HandleInviteResponse implements the creator's response handling: on
// accept it rotates the key, sends GROUP_WELCOME to the new member
// and GROUP_STATE_UPDATE to every existing member. groupID is the
// group the pending invite belongs to, resolved by the caller from
// the Pending ACK row matching resp.InviteID.
func (c *Controller) HandleInviteResponse(ctx context.Context, groupID string, resp *InviteResponse) error {
	chat := c.chat(groupID)
	if chat == nil || chat.CreatorID != c.selfPeerID {
		return ErrNotCreator
	}

	pub, ok := c.directory.SigningKeyFor(resp.ResponderPeerID)
	if !ok {
		return ErrUnknownPeer
	}
	if !ed25519.Verify(pub, c.inviteResponseSignedBytes(resp), resp.Signature) {
		return ErrInvalidSignature
	}

	pendingAcks, err := c.state.GetPendingAcksForGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("list pending acks: %w", err)
	}
	var pendingInvite *storage.PendingAck
	for _, ack := range pendingAcks {
		if ack.InviteID == resp.InviteID && ack.Kind == string(KindInvite) {
			pendingInvite = ack
			break
		}
	}
	if pendingInvite == nil {
		return ErrNoPendingInvite // already processed; idempotent drop
	}
	if time.Now().UnixMilli() > pendingInvite.ExpiresAt.UnixMilli() {
		return ErrInviteExpired
	}

	if err := c.deliver(ctx, resp.ResponderPeerID, KindInviteResponseAck, mustMarshal(ControlAck{
		GroupID:          groupID,
		AckedMessageType: KindInviteResponse,
		AckedMessageID:   resp.MessageID,
		Timestamp:        time.Now().UnixMilli(),
	})); err != nil {
		c.log.Warn("group: failed to send invite-response ack", logger.Error(err))
	}

	if !resp.Accept {
		return c.state.RemovePendingAck(ctx, pendingInvite.MessageID)
	}

	for _, p := range chat.Roster {
		if p == resp.ResponderPeerID {
			return ErrAlreadyMember // idempotent drop
		}
	}

	newKey, err := c.rotateKey(ctx, chat, EventJoin, resp.ResponderPeerID)
	if err != nil {
		return err
	}

	responderOffline, ok := c.directory.OfflineEnvelope(resp.ResponderPeerID)
	if !ok || responderOffline.OfflinePub == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, resp.ResponderPeerID)
	}
	sealedForResponder, err := keys.SealAESKeyOAEP(responderOffline.OfflinePub, newKey)
	if err != nil {
		return err
	}

	welcome := Welcome{
		GroupID:           groupID,
		GroupName:         chat.GroupName,
		KeyVersion:        chat.KeyVersion,
		EncryptedGroupKey: sealedForResponder,
		Roster:            append([]string(nil), chat.Roster...),
		MessageID:         uuid.NewString(),
		Timestamp:         time.Now().UnixMilli(),
	}
	welcome.Signature = c.sign(welcome.GroupID, welcome.MessageID, welcome.KeyVersion, welcome.Timestamp)
	welcomePayload, err := json.Marshal(welcome)
	if err != nil {
		return fmt.Errorf("marshal welcome: %w", err)
	}
	if err := c.persistPending(ctx, welcome.MessageID, "", groupID, resp.ResponderPeerID, string(KindWelcome), welcomePayload); err != nil {
		return err
	}
	if err := c.deliver(ctx, resp.ResponderPeerID, KindWelcome, welcomePayload); err != nil {
		c.log.Warn("group: failed to send welcome", logger.Error(err))
	}

	for _, memberID := range chat.Roster {
		if memberID == c.selfPeerID || memberID == resp.ResponderPeerID {
			continue
		}
		memberEnvelope, ok := c.directory.OfflineEnvelope(memberID)
		if !ok || memberEnvelope.OfflinePub == nil {
			continue
		}
		sealedForMember, err := keys.SealAESKeyOAEP(memberEnvelope.OfflinePub, newKey)
		if err != nil {
			continue
		}
		update := StateUpdate{
			GroupID:           groupID,
			Event:             EventJoin,
			KeyVersion:        chat.KeyVersion,
			EncryptedGroupKey: sealedForMember,
			Roster:            append([]string(nil), chat.Roster...),
			TargetPeerID:       resp.ResponderPeerID,
			MessageID:         uuid.NewString(),
			Timestamp:         time.Now().UnixMilli(),
		}
		update.Signature = c.sign(update.GroupID, update.MessageID, update.KeyVersion, update.Timestamp)
		updatePayload, err := json.Marshal(update)
		if err != nil {
			continue
		}
		if err := c.persistPending(ctx, update.MessageID, "", groupID, memberID, string(KindStateUpdate), updatePayload); err != nil {
			continue
		}
		if err := c.deliver(ctx, memberID, KindStateUpdate, updatePayload); err != nil {
			c.log.Warn("group: failed to send state update", logger.String("peer_id", memberID), logger.Error(err))
		}
	}

	chat.Status = StatusActive
	c.putChat(chat)
	return c.state.RemovePendingAck(ctx, pendingInvite.MessageID)
}

// HandleWelcome implements the joiner path: verify, decrypt the group
// key, record it, activate the chat, and send GROUP_CONTROL_ACK.
func (c *Controller) HandleWelcome(ctx context.Context, w *Welcome) error {
	chat := c.chat(w.GroupID)
	if chat == nil {
		return fmt.Errorf("group: no pending chat for welcome to group %s", w.GroupID)
	}
	creatorPub, ok := c.directory.SigningKeyFor(chat.CreatorID)
	if !ok {
		return ErrUnknownPeer
	}
	if !ed25519.Verify(creatorPub, c.welcomeSignedBytes(w), w.Signature) {
		return ErrInvalidSignature
	}

	if chat.Status == StatusActive {
		return c.sendControlAck(ctx, chat.CreatorID, chat.GroupID, KindWelcome, w.MessageID)
	}

	groupKey, err := keys.OpenAESKeyOAEP(c.offlinePriv, w.EncryptedGroupKey)
	if err != nil {
		return fmt.Errorf("decrypt group key: %w", err)
	}
	if err := c.state.PutGroupKeyForEpoch(ctx, &storage.GroupEpochKey{
		GroupID:   w.GroupID,
		Epoch:     w.KeyVersion,
		Key:       groupKey,
		CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("store epoch key: %w", err)
	}

	chat.GroupName = w.GroupName
	chat.KeyVersion = w.KeyVersion
	chat.Roster = append([]string(nil), w.Roster...)
	chat.Status = StatusActive
	c.putChat(chat)

	acks, err := c.state.GetPendingAcksForGroup(ctx, w.GroupID)
	if err == nil {
		for _, ack := range acks {
			if ack.Kind == string(KindInviteResponse) {
				_ = c.state.RemovePendingAck(ctx, ack.MessageID)
			}
		}
	}

	return c.sendControlAck(ctx, chat.CreatorID, chat.GroupID, KindWelcome, w.MessageID)
}

// HandleStateUpdate implements an existing member's handling of a
// roster/key change.
func (c *Controller) HandleStateUpdate(ctx context.Context, senderID string, u *StateUpdate) error {
	chat := c.chat(u.GroupID)
	if chat == nil {
		return fmt.Errorf("group: unknown group %s", u.GroupID)
	}
	creatorPub, ok := c.directory.SigningKeyFor(chat.CreatorID)
	if !ok {
		return ErrUnknownPeer
	}
	if !ed25519.Verify(creatorPub, c.stateUpdateSignedBytes(u), u.Signature) {
		return ErrInvalidSignature
	}

	groupKey, err := keys.OpenAESKeyOAEP(c.offlinePriv, u.EncryptedGroupKey)
	if err != nil {
		return fmt.Errorf("decrypt group key: %w", err)
	}
	if err := c.state.PutGroupKeyForEpoch(ctx, &storage.GroupEpochKey{
		GroupID:   u.GroupID,
		Epoch:     u.KeyVersion,
		Key:       groupKey,
		CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("store epoch key: %w", err)
	}

	chat.KeyVersion = u.KeyVersion
	chat.Roster = append([]string(nil), u.Roster...)
	c.putChat(chat)

	return c.sendControlAck(ctx, chat.CreatorID, chat.GroupID, KindStateUpdate, u.MessageID)
}

// HandleControlAck implements the control-ACK matching rule: only a
// stored pending row whose messageId matches is removed; a mismatch
// is a silent drop.
func (c *Controller) HandleControlAck(ctx context.Context, ack *ControlAck) error {
	acks, err := c.state.GetPendingAcksForGroup(ctx, ack.GroupID)
	if err != nil {
		return fmt.Errorf("list pending acks: %w", err)
	}
	for _, pending := range acks {
		if pending.Kind != string(ack.AckedMessageType) {
			continue
		}
		if pending.MessageID != ack.AckedMessageID {
			continue // stale re-delivery; silent drop per spec
		}
		return c.state.RemovePendingAck(ctx, pending.MessageID)
	}
	return nil // no matching pending row: already processed
}

func (c *Controller) sendControlAck(ctx context.Context, toPeerID, groupID string, kind MessageKind, messageID string) error {
	ack := ControlAck{
		GroupID:          groupID,
		AckedMessageType: kind,
		AckedMessageID:   messageID,
		Timestamp:        time.Now().UnixMilli(),
	}
	ack.Signature = c.sign(ack.GroupID, string(ack.AckedMessageType), ack.AckedMessageID, ack.Timestamp)
	payload, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("marshal control ack: %w", err)
	}
	return c.deliver(ctx, toPeerID, KindControlAck, payload)
}

// RepublishPending re-sends every unacknowledged message for groupID
// through the direct offline bucket. Intended to run periodically via
// scheduler.Scheduler.
func (c *Controller) RepublishPending(ctx context.Context, groupID string) error {
	acks, err := c.state.GetPendingAcksForGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("list pending acks: %w", err)
	}
	for _, ack := range acks {
		if ack.TargetPeerID == "" {
			continue
		}
		if err := c.deliver(ctx, ack.TargetPeerID, MessageKind(ack.Kind), ack.Payload); err != nil {
			c.log.Warn("group: republish failed", logger.String("message_id", ack.MessageID), logger.Error(err))
		}
	}
	return nil
}

func (c *Controller) deliver(ctx context.Context, toPeerID string, kind MessageKind, payload []byte) error {
	envelope, ok := c.directory.OfflineEnvelope(toPeerID)
	if !ok {
		return errs.New(errs.PeerUnreachable, "Controller.deliver", fmt.Errorf("no offline envelope for %s", toPeerID))
	}
	return c.sender.Put(ctx, envelope, offline.SenderInfo{PeerID: c.selfPeerID}, wireMessage(kind, payload), 0)
}

func (c *Controller) persistPending(ctx context.Context, messageID, inviteID, groupID, targetPeerID, kind string, payload []byte) error {
	return c.state.InsertPendingAck(ctx, &storage.PendingAck{
		MessageID:    messageID,
		InviteID:     inviteID,
		GroupID:      groupID,
		Kind:         kind,
		TargetPeerID: targetPeerID,
		Payload:      payload,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(InviteLifetime),
	})
}

func wireMessage(kind MessageKind, payload []byte) []byte {
	env := struct {
		Kind    MessageKind     `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}{Kind: kind, Payload: payload}
	b, _ := json.Marshal(env)
	return b
}

func mustMarshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

