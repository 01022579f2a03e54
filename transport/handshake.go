package transport

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kiyeocrypto "github.com/kiyeovo/kiyeovo/crypto"
	"github.com/kiyeovo/kiyeovo/crypto/keys"
	"github.com/kiyeovo/kiyeovo/errs"
	"github.com/kiyeovo/kiyeovo/internal/logger"
	"github.com/kiyeovo/kiyeovo/session"
)

// KeyExchangeRequest is the initiator's signed opening message, sent
// as a FrameKeyExchange frame. The signature covers the canonical
// byte encoding returned by signedBytes, so a relay cannot alter any
// field without invalidating it.
type KeyExchangeRequest struct {
	KXID              string `json:"kxId"`
	InitiatorPeerID   string `json:"initiatorPeerId"`
	InitiatorSignPub  []byte `json:"initiatorSignPub"`
	InitiatorEphPub   []byte `json:"initiatorEphPub"`
	ResponderPeerID   string `json:"responderPeerId"`
	TimestampMs       int64  `json:"timestampMs"`
	Greeting          string `json:"greeting,omitempty"`
	Signature         []byte `json:"signature"`
}

func (r *KeyExchangeRequest) signedBytes() []byte {
	cp := *r
	cp.Signature = nil
	b, _ := json.Marshal(cp)
	return b
}

// KeyExchangeResponse is the responder's signed reply.
type KeyExchangeResponse struct {
	KXID             string `json:"kxId"`
	ResponderPeerID  string `json:"responderPeerId"`
	ResponderSignPub []byte `json:"responderSignPub"`
	ResponderEphPub  []byte `json:"responderEphPub"`
	TimestampMs      int64  `json:"timestampMs"`
	Accepted         bool   `json:"accepted"`
	Signature        []byte `json:"signature"`
}

func (r *KeyExchangeResponse) signedBytes() []byte {
	cp := *r
	cp.Signature = nil
	b, _ := json.Marshal(cp)
	return b
}

// EstablishedSession is the outcome of a completed handshake: the
// installed secure session plus the deterministic offline-bucket
// secret both sides can independently derive from the same ECDH
// output.
type EstablishedSession struct {
	Session            session.Session
	SessionID          string
	PeerID             string
	OfflineBucketSecret []byte
}

// Handshake drives the key-exchange protocol described for the direct
// transport: generating and verifying the signed envelopes, enforcing
// policy and rate limits on the responder side, and installing the
// resulting session.
type Handshake struct {
	selfPeerID string
	signingKey kiyeocrypto.KeyPair // Ed25519 application signing key

	sessions *session.Manager
	policy   ContactPolicy
	limiter  *RateLimiter
	maxAge   time.Duration
	log      logger.Logger

	mu      sync.Mutex
	pending map[string]*pendingExchange // kxID -> initiator's ephemeral keypair, awaiting response
}

type pendingExchange struct {
	eph    kiyeocrypto.KeyPair
	peerID string
	at     time.Time
}

// NewHandshake creates a Handshake for a node identified by
// selfPeerID and signing with signingKey.
func NewHandshake(selfPeerID string, signingKey kiyeocrypto.KeyPair, sessions *session.Manager, policy ContactPolicy, limiter *RateLimiter, maxAge time.Duration) *Handshake {
	return &Handshake{
		selfPeerID: selfPeerID,
		signingKey: signingKey,
		sessions:   sessions,
		policy:     policy,
		limiter:    limiter,
		maxAge:     maxAge,
		log:        logger.GetDefaultLogger(),
		pending:    make(map[string]*pendingExchange),
	}
}

// BuildRequest generates the initiator's ephemeral key pair and a
// signed KeyExchangeRequest addressed to responderPeerID. The caller
// is responsible for sending the frame and later feeding the reply to
// CompleteInitiator.
func (h *Handshake) BuildRequest(kxID, responderPeerID, greeting string) (*KeyExchangeRequest, error) {
	eph, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, errs.New(errs.CryptoAuthFailed, "Handshake.BuildRequest", fmt.Errorf("generate ephemeral key: %w", err))
	}

	req := &KeyExchangeRequest{
		KXID:             kxID,
		InitiatorPeerID:  h.selfPeerID,
		InitiatorSignPub: pubKeyBytes(h.signingKey),
		InitiatorEphPub:  eph.(interface{ PublicBytesKey() []byte }).PublicBytesKey(),
		ResponderPeerID:  responderPeerID,
		TimestampMs:      time.Now().UnixMilli(),
		Greeting:         greeting,
	}
	sig, err := h.signingKey.Sign(req.signedBytes())
	if err != nil {
		return nil, errs.New(errs.CryptoAuthFailed, "Handshake.BuildRequest", err)
	}
	req.Signature = sig

	h.mu.Lock()
	h.pending[kxID] = &pendingExchange{eph: eph, peerID: responderPeerID, at: time.Now()}
	h.mu.Unlock()

	return req, nil
}

// HandleRequest is run on the responder when a KeyExchangeRequest
// frame arrives. It verifies the signature, policy, rate limit and
// age, then either builds an accepting response and installs the
// mirror session, or returns a non-nil error for the caller to
// classify. A DecisionPending peer gets neither: all three results are
// nil while the request awaits user approval.
func (h *Handshake) HandleRequest(req *KeyExchangeRequest) (*KeyExchangeResponse, *EstablishedSession, error) {
	if req.ResponderPeerID != h.selfPeerID {
		return nil, nil, errs.New(errs.ProtocolViolation, "Handshake.HandleRequest", fmt.Errorf("request addressed to %s, not us", req.ResponderPeerID))
	}
	if len(req.InitiatorSignPub) != ed25519.PublicKeySize {
		return nil, nil, errs.New(errs.ProtocolViolation, "Handshake.HandleRequest", fmt.Errorf("bad signing key length"))
	}
	if !ed25519.Verify(ed25519.PublicKey(req.InitiatorSignPub), req.signedBytes(), req.Signature) {
		return nil, nil, errs.New(errs.ProtocolViolation, "Handshake.HandleRequest", fmt.Errorf("signature verify failed"))
	}
	if h.sessions.ReplayGuardSeenOnce(req.InitiatorPeerID, req.KXID) {
		return nil, nil, errs.New(errs.ProtocolViolation, "Handshake.HandleRequest", fmt.Errorf("replayed key exchange id %s from %s", req.KXID, req.InitiatorPeerID))
	}

	age := time.Since(time.UnixMilli(req.TimestampMs))
	if age < 0 {
		age = -age
	}
	if h.maxAge > 0 && age > h.maxAge {
		return nil, nil, errs.New(errs.ProtocolViolation, "Handshake.HandleRequest", fmt.Errorf("key exchange timestamp too old: %s", age))
	}

	if h.policy != nil && h.policy.IsBlocked(req.InitiatorPeerID) {
		return nil, nil, errs.New(errs.ProtocolViolation, "Handshake.HandleRequest", fmt.Errorf("peer %s is blocked", req.InitiatorPeerID))
	}
	if h.limiter != nil && !h.limiter.Allow(req.InitiatorPeerID) {
		return nil, nil, errs.New(errs.RateLimited, "Handshake.HandleRequest", fmt.Errorf("rate limit exceeded for %s", req.InitiatorPeerID))
	}

	decision := DecisionAutoAccept
	if h.policy != nil {
		decision = h.policy.Evaluate(req.InitiatorPeerID)
	}
	switch decision {
	case DecisionReject:
		return nil, nil, errs.New(errs.ProtocolViolation, "Handshake.HandleRequest", fmt.Errorf("peer %s rejected by policy", req.InitiatorPeerID))
	case DecisionPending:
		if mp, ok := h.policy.(*MemoryContactPolicy); ok {
			mp.MarkPending(req.InitiatorPeerID)
		}
		return nil, nil, nil // caller surfaces this as "awaiting user approval", not an error
	}

	eph, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, nil, errs.New(errs.CryptoAuthFailed, "Handshake.HandleRequest", fmt.Errorf("generate ephemeral key: %w", err))
	}
	ephX, ok := eph.(interface {
		PublicBytesKey() []byte
		DeriveSharedSecret([]byte) ([]byte, error)
	})
	if !ok {
		return nil, nil, errs.New(errs.CryptoAuthFailed, "Handshake.HandleRequest", fmt.Errorf("unexpected ephemeral key type"))
	}

	shared, err := ephX.DeriveSharedSecret(req.InitiatorEphPub)
	if err != nil {
		return nil, nil, errs.New(errs.CryptoAuthFailed, "Handshake.HandleRequest", fmt.Errorf("ecdh: %w", err))
	}

	resp := &KeyExchangeResponse{
		KXID:             req.KXID,
		ResponderPeerID:  h.selfPeerID,
		ResponderSignPub: pubKeyBytes(h.signingKey),
		ResponderEphPub:  ephX.PublicBytesKey(),
		TimestampMs:      time.Now().UnixMilli(),
		Accepted:         true,
	}
	sig, err := h.signingKey.Sign(resp.signedBytes())
	if err != nil {
		return nil, nil, errs.New(errs.CryptoAuthFailed, "Handshake.HandleRequest", err)
	}
	resp.Signature = sig

	params := session.Params{
		ContextID: req.KXID,
		SelfEph:   ephX.PublicBytesKey(),
		PeerEph:   req.InitiatorEphPub,
	}
	sess, sid, _, err := h.sessions.EnsureSessionWithParams(session.Params{
		ContextID:    params.ContextID,
		SelfEph:      params.SelfEph,
		PeerEph:      params.PeerEph,
		SharedSecret: shared,
	}, nil)
	if err != nil {
		return nil, nil, errs.New(errs.CryptoAuthFailed, "Handshake.HandleRequest", err)
	}

	established := &EstablishedSession{
		Session:             sess,
		SessionID:           sid,
		PeerID:              req.InitiatorPeerID,
		OfflineBucketSecret: DeriveOfflineBucketSecret(shared),
	}
	return resp, established, nil
}

// CompleteInitiator verifies the responder's KeyExchangeResponse
// against the pending exchange identified by resp.KXID, derives the
// shared secret and installs the mirror session.
func (h *Handshake) CompleteInitiator(resp *KeyExchangeResponse) (*EstablishedSession, error) {
	h.mu.Lock()
	pend, ok := h.pending[resp.KXID]
	if ok {
		delete(h.pending, resp.KXID)
	}
	h.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.ProtocolViolation, "Handshake.CompleteInitiator", fmt.Errorf("no pending exchange for kxId %s", resp.KXID))
	}

	if len(resp.ResponderSignPub) != ed25519.PublicKeySize {
		return nil, errs.New(errs.ProtocolViolation, "Handshake.CompleteInitiator", fmt.Errorf("bad signing key length"))
	}
	if !ed25519.Verify(ed25519.PublicKey(resp.ResponderSignPub), resp.signedBytes(), resp.Signature) {
		return nil, errs.New(errs.ProtocolViolation, "Handshake.CompleteInitiator", fmt.Errorf("signature verify failed"))
	}
	if !resp.Accepted {
		return nil, errs.New(errs.ProtocolViolation, "Handshake.CompleteInitiator", fmt.Errorf("exchange rejected by responder"))
	}

	ephX, ok := pend.eph.(interface {
		PublicBytesKey() []byte
		DeriveSharedSecret([]byte) ([]byte, error)
	})
	if !ok {
		return nil, errs.New(errs.CryptoAuthFailed, "Handshake.CompleteInitiator", fmt.Errorf("unexpected ephemeral key type"))
	}
	shared, err := ephX.DeriveSharedSecret(resp.ResponderEphPub)
	if err != nil {
		return nil, errs.New(errs.CryptoAuthFailed, "Handshake.CompleteInitiator", fmt.Errorf("ecdh: %w", err))
	}

	sess, sid, _, err := h.sessions.EnsureSessionWithParams(session.Params{
		ContextID:    resp.KXID,
		SelfEph:      ephX.PublicBytesKey(),
		PeerEph:      resp.ResponderEphPub,
		SharedSecret: shared,
	}, nil)
	if err != nil {
		return nil, errs.New(errs.CryptoAuthFailed, "Handshake.CompleteInitiator", err)
	}

	return &EstablishedSession{
		Session:             sess,
		SessionID:           sid,
		PeerID:              pend.peerID,
		OfflineBucketSecret: DeriveOfflineBucketSecret(shared),
	}, nil
}

func pubKeyBytes(kp kiyeocrypto.KeyPair) []byte {
	if ed, ok := kp.PublicKey().(ed25519.PublicKey); ok {
		return []byte(ed)
	}
	return nil
}

// base64url is used by callers that need to place a public key or
// bucket secret into a DHT key path.
func base64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
