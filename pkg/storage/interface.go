package storage

import (
	"context"
	"time"
)

// SessionStore defines the interface for session persistence
type SessionStore interface {
	// Create creates a new session
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by ID
	Get(ctx context.Context, id string) (*Session, error)

	// Update updates an existing session
	Update(ctx context.Context, session *Session) error

	// Delete deletes a session by ID
	Delete(ctx context.Context, id string) error

	// DeleteExpired deletes all expired sessions
	DeleteExpired(ctx context.Context) (int64, error)

	// List lists all sessions for a remote peer
	List(ctx context.Context, remotePeerID string, limit, offset int) ([]*Session, error)

	// UpdateActivity updates the last activity timestamp
	UpdateActivity(ctx context.Context, id string) error

	// Count returns the total number of active sessions
	Count(ctx context.Context) (int64, error)
}

// NonceStore defines the interface for nonce management
type NonceStore interface {
	// CheckAndStore atomically checks if nonce is used and stores it
	CheckAndStore(ctx context.Context, nonce string, sessionID string, expiresAt time.Time) error

	// IsUsed checks if a nonce has been used
	IsUsed(ctx context.Context, nonce string) (bool, error)

	// DeleteExpired deletes all expired nonces
	DeleteExpired(ctx context.Context) (int64, error)

	// Count returns the total number of stored nonces
	Count(ctx context.Context) (int64, error)
}

// GroupStateStore defines the interface for group control-plane state:
// pending-ack re-publication, per-sender sequence tracking, epoch key
// storage, offline-bucket read cursors, and identity-unlock cooldowns.
// This is the Database collaborator interface's group/ack/login surface.
type GroupStateStore interface {
	// InsertPendingAck durably records a sent control-plane message
	// awaiting acknowledgement.
	InsertPendingAck(ctx context.Context, ack *PendingAck) error

	// RemovePendingAck deletes a pending-ack row once its ACK arrives.
	RemovePendingAck(ctx context.Context, messageID string) error

	// GetPendingAcksForGroup lists unacknowledged messages for a group,
	// for the scheduler's re-publication sweep.
	GetPendingAcksForGroup(ctx context.Context, groupID string) ([]*PendingAck, error)

	// GetMemberSeq returns the highest sequence number observed for a
	// (group, sender, epoch) triple.
	GetMemberSeq(ctx context.Context, groupID, senderPubKey string, epoch int) (*MemberSeq, error)

	// UpdateMemberSeq records a newly observed sequence number,
	// advancing HighestSeq if it is larger.
	UpdateMemberSeq(ctx context.Context, groupID, senderPubKey string, epoch int, seq int64) error

	// GetGroupKeyForEpoch returns the stored symmetric key for a group epoch.
	GetGroupKeyForEpoch(ctx context.Context, groupID string, epoch int) (*GroupEpochKey, error)

	// PutGroupKeyForEpoch stores a symmetric key for a group epoch.
	PutGroupKeyForEpoch(ctx context.Context, key *GroupEpochKey) error

	// GetGroupOfflineCursor returns a reader's last-consumed position
	// in a group's offline bucket.
	GetGroupOfflineCursor(ctx context.Context, groupID, readerID string) (*GroupOfflineCursor, error)

	// UpsertGroupOfflineCursor advances a reader's cursor.
	UpsertGroupOfflineCursor(ctx context.Context, cursor *GroupOfflineCursor) error

	// RecordFailedLoginAttempt increments the failed-unlock counter for an identity.
	RecordFailedLoginAttempt(ctx context.Context, identityID string, cooldownUntil time.Time) error

	// CheckLoginCooldown returns the remaining cooldown, if any, before
	// another unlock attempt is permitted.
	CheckLoginCooldown(ctx context.Context, identityID string) (*LoginAttempt, error)

	// ClearLoginAttempts resets the failed-attempt counter after a
	// successful unlock.
	ClearLoginAttempts(ctx context.Context, identityID string) error
}

// ContactStore persists known peers' signing/offline public keys and
// shared bucket secrets, backing group.ContactDirectory and the
// direct offline engine's peer resolution.
type ContactStore interface {
	// Put inserts or replaces a contact.
	Put(ctx context.Context, c *Contact) error

	// Get retrieves a contact by peer id.
	Get(ctx context.Context, peerID string) (*Contact, error)

	// SetBlocked updates a contact's blocked status.
	SetBlocked(ctx context.Context, peerID string, blocked bool) error

	// List returns every known contact.
	List(ctx context.Context) ([]*Contact, error)
}

// Store combines all storage interfaces behind the Database
// collaborator boundary.
type Store interface {
	SessionStore() SessionStore
	NonceStore() NonceStore
	GroupStateStore() GroupStateStore
	ContactStore() ContactStore

	// Close closes the storage connection
	Close() error

	// Ping checks the storage connection
	Ping(ctx context.Context) error
}
