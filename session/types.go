package session

import (
	"time"
)

const GeneralPrefix = "session"

// Session represents an active end-to-end encrypted session between two peers.
type Session interface {
    // Identification
    GetID() string
    GetCreatedAt() time.Time
    GetLastUsedAt() time.Time

    // Lifecycle
    IsExpired() bool
    UpdateLastUsed()
    Close() error

    // Cryptographic operations. Encrypt/Decrypt carry the session's
    // own AEAD tag; EncryptAndSign/DecryptAndVerify are Encrypt/Decrypt
    // that first refuse an expired session, and add no MAC of their
    // own; EncryptWithAAD/DecryptWithAAD also bind caller-supplied
    // data into the tag.
    Encrypt(plaintext []byte) ([]byte, error)
    Decrypt(data []byte) ([]byte, error)
    EncryptAndSign(plaintext []byte) ([]byte, error)
    DecryptAndVerify(ciphertext []byte) ([]byte, error)
    EncryptWithAAD(plaintext, aad []byte) ([]byte, error)
    DecryptWithAAD(data, aad []byte) ([]byte, error)

    // Statistics
    GetMessageCount() int
    GetConfig() Config
}

// Config defines session policies and limits
type Config struct {
    MaxAge       time.Duration `json:"maxAge"`       // absolute expiration (ex: 1 hour)
    IdleTimeout  time.Duration `json:"idleTimeout"`  // idle timeout (ex: 10munutes) 
    MaxMessages  int           `json:"maxMessages"`
}


// Status provides information about session status
type Status struct {
    TotalSessions   int `json:"totalSessions"`
    ActiveSessions  int `json:"activeSessions"`
    ExpiredSessions int `json:"expiredSessions"`
}
