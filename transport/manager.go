package transport

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kiyeocrypto "github.com/kiyeovo/kiyeovo/crypto"
	"github.com/kiyeovo/kiyeovo/errs"
	"github.com/kiyeovo/kiyeovo/internal/logger"
	"github.com/kiyeovo/kiyeovo/session"
)

// MessageReceived is emitted for every successfully decrypted inbound
// chat message.
type MessageReceived struct {
	PeerID              string
	Content             []byte
	SenderUsername      string
	OfflineAckTimestamp int64
}

// Manager is the direct-transport façade (C3): it owns the network
// Transport, runs the key-exchange handshake, and maintains one
// Envelope per established session so callers can Send/receive chat
// messages by peer ID without touching frames directly.
type Manager struct {
	transport Transport
	sessions  *session.Manager
	handshake *Handshake
	selfID    string
	signKey   kiyeocrypto.KeyPair

	rotateAt      int
	messageTimeout time.Duration
	log           logger.Logger

	mu        sync.RWMutex
	envelopes map[string]*Envelope // peerID -> envelope

	onMessage func(MessageReceived)
}

// ManagerConfig bundles the knobs a Manager needs, mirroring the
// SessionConfig/TransportConfig fields in package config.
type ManagerConfig struct {
	SelfPeerID          string
	SigningKey          kiyeocrypto.KeyPair
	MaxKeyExchangeAge   time.Duration
	KeyExchangeRateLimit int
	MessageTimeout      time.Duration
	RotationThreshold   int
}

// NewManager wires a Manager over an already-constructed Transport and
// session.Manager.
func NewManager(t Transport, sessions *session.Manager, policy ContactPolicy, cfg ManagerConfig) *Manager {
	limiter := NewRateLimiter(cfg.KeyExchangeRateLimit, time.Minute)
	hs := NewHandshake(cfg.SelfPeerID, cfg.SigningKey, sessions, policy, limiter, cfg.MaxKeyExchangeAge)

	m := &Manager{
		transport:      t,
		sessions:       sessions,
		handshake:      hs,
		selfID:         cfg.SelfPeerID,
		signKey:        cfg.SigningKey,
		rotateAt:       cfg.RotationThreshold,
		messageTimeout: cfg.MessageTimeout,
		log:            logger.GetDefaultLogger(),
		envelopes:      make(map[string]*Envelope),
	}
	t.Handle(ChatProtocol, m.handleStream)
	return m
}

// OnMessage registers the callback invoked for every decrypted inbound
// chat message.
func (m *Manager) OnMessage(fn func(MessageReceived)) {
	m.onMessage = fn
}

// fingerprintOf returns a stable short hash of a signing public key,
// used as the AAD's recv_pub_fingerprint field.
func fingerprintOf(pub []byte) string {
	sum := sha256.Sum256(pub)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// EnsurePeer runs a key exchange with peerID if no session exists yet,
// blocking until the handshake completes or ctx is cancelled.
func (m *Manager) EnsurePeer(ctx context.Context, peerID string) error {
	m.mu.RLock()
	_, ok := m.envelopes[peerID]
	m.mu.RUnlock()
	if ok {
		return nil
	}
	return m.initiateHandshake(ctx, peerID, "")
}

func (m *Manager) initiateHandshake(ctx context.Context, peerID, greeting string) error {
	stream, err := m.transport.DialProtocol(ctx, peerID, ChatProtocol)
	if err != nil {
		return errs.New(errs.PeerUnreachable, "Manager.initiateHandshake", err)
	}
	defer stream.Close()

	kxID := fmt.Sprintf("%s-%d", m.selfID, time.Now().UnixNano())
	req, err := m.handshake.BuildRequest(kxID, peerID, greeting)
	if err != nil {
		return err
	}
	if err := WriteFrame(stream, FrameKeyExchange, req); err != nil {
		return errs.New(errs.PeerUnreachable, "Manager.initiateHandshake", err)
	}

	frame, err := ReadFrame(stream)
	if err != nil {
		return errs.New(errs.PeerUnreachable, "Manager.initiateHandshake", err)
	}
	if frame.Type != FrameKeyExchangeResponse {
		return errs.New(errs.ProtocolViolation, "Manager.initiateHandshake", fmt.Errorf("expected key_exchange_response, got %s", frame.Type))
	}

	var resp KeyExchangeResponse
	if err := json.Unmarshal(frame.Payload, &resp); err != nil {
		return errs.New(errs.ProtocolViolation, "Manager.initiateHandshake", err)
	}

	established, err := m.handshake.CompleteInitiator(&resp)
	if err != nil {
		return err
	}
	m.installEnvelope(peerID, established, resp.ResponderSignPub)
	return nil
}

func (m *Manager) installEnvelope(peerID string, established *EstablishedSession, peerSignPub []byte) {
	env := NewEnvelope(established, m.selfID, fingerprintOf(peerSignPub), m.rotateAt)
	m.mu.Lock()
	m.envelopes[peerID] = env
	m.mu.Unlock()
}

// Send encrypts and delivers content to peerID, running a key
// exchange first if no session exists yet.
func (m *Manager) Send(ctx context.Context, peerID string, content []byte) error {
	if err := m.EnsurePeer(ctx, peerID); err != nil {
		return err
	}

	m.mu.RLock()
	env := m.envelopes[peerID]
	m.mu.RUnlock()
	if env == nil {
		return errs.New(errs.ProtocolViolation, "Manager.Send", fmt.Errorf("no session for peer %s", peerID))
	}

	sealed, err := env.Seal(content)
	if err != nil {
		if errs.Is(err, errs.RotationInProgress) {
			m.mu.Lock()
			delete(m.envelopes, peerID)
			m.mu.Unlock()
		}
		return err
	}

	sendCtx := ctx
	var cancel context.CancelFunc
	if m.messageTimeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, m.messageTimeout)
		defer cancel()
	}

	stream, err := m.transport.DialProtocol(sendCtx, peerID, ChatProtocol)
	if err != nil {
		return errs.New(errs.PeerUnreachable, "Manager.Send", err)
	}
	defer stream.Close()

	if err := WriteFrame(stream, FrameEncrypted, sealed); err != nil {
		return errs.New(errs.PeerUnreachable, "Manager.Send", err)
	}
	return nil
}

// handleStream dispatches an inbound chat stream's frames: a
// key_exchange request is answered inline; an encrypted frame is
// decrypted and handed to the registered callback.
func (m *Manager) handleStream(stream Stream) {
	defer stream.Close()

	frame, err := ReadFrame(stream)
	if err != nil {
		m.log.Debug("chat stream read failed", logger.String("peer", stream.RemotePeerID()), logger.Error(err))
		return
	}

	switch frame.Type {
	case FrameKeyExchange:
		m.handleKeyExchangeFrame(stream, frame)
	case FrameEncrypted:
		m.handleEncryptedFrame(stream, frame)
	case FramePlain:
		m.log.Debug("dropping unsupported plain frame", logger.String("peer", stream.RemotePeerID()))
	default:
		m.log.Debug("dropping unknown frame type", logger.String("type", string(frame.Type)))
	}
}

func (m *Manager) handleKeyExchangeFrame(stream Stream, frame Frame) {
	var req KeyExchangeRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		m.log.Debug("malformed key exchange request", logger.Error(err))
		return
	}

	resp, established, err := m.handshake.HandleRequest(&req)
	if err != nil {
		if errs.Is(err, errs.RateLimited) || errs.Is(err, errs.ProtocolViolation) {
			m.log.Debug("rejected key exchange", logger.String("peer", req.InitiatorPeerID), logger.Error(err))
		}
		return
	}
	if resp == nil {
		// DecisionPending: no immediate reply, awaiting user approval.
		return
	}

	if err := WriteFrame(stream, FrameKeyExchangeResponse, resp); err != nil {
		m.log.Debug("failed writing key exchange response", logger.Error(err))
		return
	}
	m.installEnvelope(req.InitiatorPeerID, established, req.InitiatorSignPub)
}

func (m *Manager) handleEncryptedFrame(stream Stream, frame Frame) {
	var sealed SealedMessage
	if err := json.Unmarshal(frame.Payload, &sealed); err != nil {
		m.log.Debug("malformed encrypted frame", logger.Error(err))
		return
	}

	m.mu.RLock()
	env := m.envelopes[sealed.SenderPeerID]
	m.mu.RUnlock()
	if env == nil {
		m.log.Debug("encrypted frame from unknown session", logger.String("peer", sealed.SenderPeerID))
		return
	}

	plaintext, err := env.Open(&sealed)
	if err != nil {
		m.log.Debug("decrypt failed, dropping message", logger.String("peer", sealed.SenderPeerID), logger.Error(err))
		return
	}

	var payload EncryptedPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		m.log.Debug("malformed decrypted payload", logger.Error(err))
		return
	}

	if m.onMessage != nil {
		m.onMessage(MessageReceived{
			PeerID:              sealed.SenderPeerID,
			Content:             payload.Content,
			SenderUsername:      payload.SenderUsername,
			OfflineAckTimestamp: payload.OfflineAckTimestamp,
		})
	}
}

// Close releases the underlying transport.
func (m *Manager) Close() error {
	return m.transport.Close()
}
