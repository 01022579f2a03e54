package storage

import "time"

// Session represents a stored secure session between two peers,
// persisted so the session manager survives process restarts.
type Session struct {
	ID           string                 `json:"id"`
	SelfPeerID   string                 `json:"self_peer_id"`
	RemotePeerID string                 `json:"remote_peer_id"`
	SessionKey   []byte                 `json:"session_key"`
	CreatedAt    time.Time              `json:"created_at"`
	ExpiresAt    time.Time              `json:"expires_at"`
	LastActivity time.Time              `json:"last_activity"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Nonce represents a used nonce for handshake replay prevention.
type Nonce struct {
	Nonce     string    `json:"nonce"`
	SessionID string    `json:"session_id"`
	UsedAt    time.Time `json:"used_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingAck is a durable record of a sent group control-plane message
// (invite/response/welcome/state-update) awaiting acknowledgement. The
// scheduler re-publishes it to the DHT on a backoff schedule until a
// matching ACK is observed or it expires.
type PendingAck struct {
	MessageID    string    `json:"message_id"`
	InviteID     string    `json:"invite_id,omitempty"`
	GroupID      string    `json:"group_id"`
	Kind         string    `json:"kind"` // invite/response/welcome/state-update
	TargetPeerID string    `json:"target_peer_id"`
	Payload      []byte    `json:"payload"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Attempts     int       `json:"attempts"`
}

// MemberSeq tracks the highest per-sender sequence number observed for
// a group epoch, used to detect gaps in delivered offline messages.
type MemberSeq struct {
	GroupID      string    `json:"group_id"`
	SenderPubKey string    `json:"sender_pub_key"`
	Epoch        int       `json:"epoch"`
	HighestSeq   int64     `json:"highest_seq"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GroupEpochKey is a stored symmetric key for one rotation epoch of a group.
type GroupEpochKey struct {
	GroupID   string    `json:"group_id"`
	Epoch     int       `json:"epoch"`
	Key       []byte    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// GroupOfflineCursor tracks the last-consumed position in a group's
// offline bucket for one local reader, so reconnects don't reprocess
// already-delivered messages.
type GroupOfflineCursor struct {
	GroupID   string    `json:"group_id"`
	ReaderID  string    `json:"reader_id"`
	Position  int64     `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoginAttempt records failed identity-unlock attempts for an identity
// vault, backing the cooldown enforced between unlock retries.
type LoginAttempt struct {
	IdentityID    string    `json:"identity_id"`
	Attempts      int       `json:"attempts"`
	LastAttempt   time.Time `json:"last_attempt"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// Contact is everything the direct transport (C3), direct offline
// engine (C4), and group control plane (C5) need to reach and verify
// one known peer: its Ed25519 signing public key, its RSA
// offline-sealing public key, and the bucket secret shared with it out
// of band during the initial handshake.
type Contact struct {
	PeerID       string    `json:"peer_id"`
	SigningPub   []byte    `json:"signing_pub"`
	OfflinePub   []byte    `json:"offline_pub"` // PKIX-encoded RSA public key
	BucketSecret []byte    `json:"bucket_secret"`
	Blocked      bool      `json:"blocked"`
	AddedAt      time.Time `json:"added_at"`
}
