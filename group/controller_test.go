package group

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"sync"
	"testing"

	"github.com/kiyeovo/kiyeovo/offline"
	"github.com/kiyeovo/kiyeovo/pkg/storage/memory"
	"github.com/kiyeovo/kiyeovo/transport"
	"github.com/stretchr/testify/require"
)

// memoryDHT is a minimal transport.Transport test double shared by
// every peer's offline.Engine in a test, so puts from one peer are
// visible to another peer's polls.
type memoryDHT struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryDHT() *memoryDHT {
	return &memoryDHT{data: make(map[string][]byte)}
}

func (d *memoryDHT) SelfPeerID() string { return "test-node" }

func (d *memoryDHT) DialProtocol(ctx context.Context, peerID, protocol string) (transport.Stream, error) {
	panic("memoryDHT: DialProtocol not supported")
}

func (d *memoryDHT) Handle(protocol string, handler transport.StreamHandler) {}

func (d *memoryDHT) DHTGet(ctx context.Context, key string) (<-chan transport.Event, error) {
	ch := make(chan transport.Event, 2)
	d.mu.Lock()
	val, ok := d.data[key]
	d.mu.Unlock()
	go func() {
		defer close(ch)
		if ok {
			ch <- transport.Event{Kind: transport.EventValue, Value: val}
		}
		ch <- transport.Event{Kind: transport.EventDone}
	}()
	return ch, nil
}

func (d *memoryDHT) DHTPut(ctx context.Context, key string, value []byte) (<-chan transport.Event, error) {
	d.mu.Lock()
	d.data[key] = append([]byte(nil), value...)
	d.mu.Unlock()

	ch := make(chan transport.Event, 2)
	go func() {
		defer close(ch)
		ch <- transport.Event{Kind: transport.EventPeerResponse, PeerID: "peer1"}
		ch <- transport.Event{Kind: transport.EventDone}
	}()
	return ch, nil
}

func (d *memoryDHT) Close() error { return nil }

var _ transport.Transport = (*memoryDHT)(nil)

// fakeDirectory resolves contact material from a fixed map, set up
// by the test before exercising the controller.
type fakeDirectory struct {
	signing map[string]ed25519.PublicKey
	offline map[string]offline.Peer
	blocked map[string]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		signing: make(map[string]ed25519.PublicKey),
		offline: make(map[string]offline.Peer),
		blocked: make(map[string]bool),
	}
}

func (d *fakeDirectory) SigningKeyFor(peerID string) (ed25519.PublicKey, bool) {
	k, ok := d.signing[peerID]
	return k, ok
}

func (d *fakeDirectory) OfflineEnvelope(peerID string) (offline.Peer, bool) {
	p, ok := d.offline[peerID]
	return p, ok
}

func (d *fakeDirectory) IsBlocked(peerID string) bool { return d.blocked[peerID] }

type peerFixture struct {
	peerID     string
	signPub    ed25519.PublicKey
	signPriv   ed25519.PrivateKey
	offlinePub *rsa.PublicKey
	offlinePriv *rsa.PrivateKey
	engine     *offline.Engine
	controller *Controller
	dir        *fakeDirectory
}

// newPeerFixture builds one participant's full stack (signing keys,
// RSA offline keys, offline engine over the shared dht, and a group
// Controller), but does not yet know about any other peer.
func newPeerFixture(t *testing.T, peerID string, dht *memoryDHT) *peerFixture {
	t.Helper()
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	offlinePriv, err := rsa.GenerateKey(rand.Reader, 3072)
	require.NoError(t, err)

	dir := newFakeDirectory()
	mirror := offline.NewMemoryMirror()
	engine := offline.NewEngine(peerID, signPriv, &offlinePriv.PublicKey, offlinePriv, dht, mirror)
	state := memory.NewStore().GroupStateStore()
	controller := NewController(peerID, signPriv, offlinePriv, dir, engine, state)

	return &peerFixture{
		peerID:      peerID,
		signPub:     signPub,
		signPriv:    signPriv,
		offlinePub:  &offlinePriv.PublicKey,
		offlinePriv: offlinePriv,
		engine:      engine,
		controller:  controller,
		dir:         dir,
	}
}

// link makes a and b mutually reachable: each learns the other's
// signing key, offline envelope, and shared bucket secret.
func link(a, b *peerFixture) {
	secret := []byte("shared-secret-" + a.peerID + "-" + b.peerID)
	a.dir.signing[b.peerID] = b.signPub
	a.dir.offline[b.peerID] = offline.Peer{PeerID: b.peerID, SigningPub: b.signPub, OfflinePub: b.offlinePub, BucketSecret: secret}
	b.dir.signing[a.peerID] = a.signPub
	b.dir.offline[a.peerID] = offline.Peer{PeerID: a.peerID, SigningPub: a.signPub, OfflinePub: a.offlinePub, BucketSecret: secret}
}

// deliverOne polls to's engine once for messages sent by from, and
// hands each wire message it finds, in bucket order, to handle.
func deliverOne(t *testing.T, ctx context.Context, from, to *peerFixture, handle func(kind MessageKind, payload []byte)) {
	t.Helper()
	envelope, ok := to.dir.OfflineEnvelope(from.peerID)
	require.True(t, ok)

	var got []offline.MessageReceived
	to.engine.OnMessage(func(m offline.MessageReceived) { got = append(got, m) })
	require.NoError(t, to.engine.PollPeers(ctx, []offline.Peer{envelope}, 0))
	for _, m := range got {
		kind, payload := unwrapWireMessage(t, m.Content)
		handle(kind, payload)
	}
}

func unwrapWireMessage(t *testing.T, raw []byte) (MessageKind, []byte) {
	t.Helper()
	var env struct {
		Kind    MessageKind     `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	return env.Kind, env.Payload
}

func TestCreateGroupInviteAcceptFlow(t *testing.T) {
	ctx := context.Background()
	dht := newMemoryDHT()

	creator := newPeerFixture(t, "creator", dht)
	alice := newPeerFixture(t, "alice", dht)
	bob := newPeerFixture(t, "bob", dht)

	link(creator, alice)
	link(creator, bob)
	link(alice, bob)

	chat, err := creator.controller.CreateGroup(ctx, "friends", []string{alice.peerID, bob.peerID})
	require.NoError(t, err)
	require.Equal(t, StatusInvitedPending, chat.Status)

	// alice receives and accepts the invite.
	var aliceChat *Chat
	deliverOne(t, ctx, creator, alice, func(kind MessageKind, payload []byte) {
		require.Equal(t, KindInvite, kind)
		var inv Invite
		require.NoError(t, json.Unmarshal(payload, &inv))
		c, err := alice.controller.HandleInvite(&inv)
		require.NoError(t, err)
		aliceChat = c
		require.NoError(t, alice.controller.RespondToInvite(ctx, inv.InviteID, c, true))
	})
	require.NotNil(t, aliceChat)

	// creator receives alice's acceptance, rotates the key, and sends
	// a welcome back to alice (plus a state-update to bob, who isn't
	// a member yet so there's nothing to update).
	deliverOne(t, ctx, alice, creator, func(kind MessageKind, payload []byte) {
		require.Equal(t, KindInviteResponse, kind)
		var resp InviteResponse
		require.NoError(t, json.Unmarshal(payload, &resp))
		require.NoError(t, creator.controller.HandleInviteResponse(ctx, chat.GroupID, &resp))
	})

	creatorChat := creator.controller.chat(chat.GroupID)
	require.Equal(t, StatusActive, creatorChat.Status)
	require.Contains(t, creatorChat.Roster, alice.peerID)

	// creator -> alice: ack for the invite response, then the welcome,
	// both found by a single poll.
	var kinds []MessageKind
	deliverOne(t, ctx, creator, alice, func(kind MessageKind, payload []byte) {
		kinds = append(kinds, kind)
		if kind != KindWelcome {
			return
		}
		var w Welcome
		require.NoError(t, json.Unmarshal(payload, &w))
		require.NoError(t, alice.controller.HandleWelcome(ctx, &w))
	})
	require.Len(t, kinds, 2)
	require.Equal(t, KindInviteResponseAck, kinds[0])
	require.Equal(t, KindWelcome, kinds[1])

	require.Equal(t, StatusActive, aliceChat.Status)
	require.Equal(t, creatorChat.KeyVersion, aliceChat.KeyVersion)
}

func TestHandleInviteRejectsBadSignature(t *testing.T) {
	dht := newMemoryDHT()
	creator := newPeerFixture(t, "creator", dht)
	alice := newPeerFixture(t, "alice", dht)
	link(creator, alice)

	inv := &Invite{
		InviteID:  "inv-1",
		GroupID:   "group-1",
		CreatorID: creator.peerID,
		ExpiresAt: 9999999999999,
	}
	inv.Signature = []byte("not-a-real-signature")

	_, err := alice.controller.HandleInvite(inv)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleControlAckMismatchIsSilentDrop(t *testing.T) {
	ctx := context.Background()
	dht := newMemoryDHT()
	creator := newPeerFixture(t, "creator", dht)

	require.NoError(t, creator.controller.persistPending(ctx, "real-message-id", "", "group-1", "alice", string(KindWelcome), []byte("payload")))

	err := creator.controller.HandleControlAck(ctx, &ControlAck{
		GroupID:          "group-1",
		AckedMessageType: KindWelcome,
		AckedMessageID:   "a-different-message-id",
	})
	require.NoError(t, err) // mismatch: silent drop, not an error

	acks, err := creator.controller.state.GetPendingAcksForGroup(ctx, "group-1")
	require.NoError(t, err)
	require.Len(t, acks, 1) // still pending: nothing matched
}

func TestRepublishPendingUsesStoredTarget(t *testing.T) {
	ctx := context.Background()
	dht := newMemoryDHT()
	creator := newPeerFixture(t, "creator", dht)
	alice := newPeerFixture(t, "alice", dht)
	link(creator, alice)

	require.NoError(t, creator.controller.persistPending(ctx, "msg-1", "", "group-1", alice.peerID, string(KindWelcome), []byte(`"payload"`)))

	require.NoError(t, creator.controller.RepublishPending(ctx, "group-1"))

	var got *offline.MessageReceived
	alice.engine.OnMessage(func(m offline.MessageReceived) { got = &m })
	envelope, ok := alice.dir.OfflineEnvelope(creator.peerID)
	require.True(t, ok)
	require.NoError(t, alice.engine.PollPeers(ctx, []offline.Peer{envelope}, 0))
	require.NotNil(t, got)
	kind, _ := unwrapWireMessage(t, got.Content)
	require.Equal(t, KindWelcome, kind)
}
