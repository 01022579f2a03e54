// Package errs defines the failure taxonomy shared across the crypto,
// transport, and group control-plane layers. Each Kind carries a fixed
// retry/propagation policy (see Policy) so callers classify failures
// once, at the boundary, instead of re-deriving intent from error text.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the classified failure categories.
type Kind string

const (
	// CryptoAuthFailed means a GCM/Poly1305 tag or ed25519 signature
	// failed to verify. Record the attempt; surface as wrong-password
	// or drop the message, depending on caller context.
	CryptoAuthFailed Kind = "CryptoAuthFailed"

	// CryptoTimeout means a crypto worker exceeded its wall-clock budget.
	// Terminate the worker and surface to the caller.
	CryptoTimeout Kind = "CryptoTimeout"

	// CorruptIdentity means the structural check or peer-id derivation
	// failed after decrypt. Fatal: refuse to load.
	CorruptIdentity Kind = "CorruptIdentity"

	// PeerUnreachable covers dial failures, timeouts, SOCKS errors, or
	// "no addresses" conditions. Classify into the offline fallback path.
	PeerUnreachable Kind = "PeerUnreachable"

	// DhtPutNoPeers means a PUT saw zero PEER_RESPONSE events. Retry
	// once with exponential backoff, then surface.
	DhtPutNoPeers Kind = "DhtPutNoPeers"

	// StoreTooLarge means a compressed store exceeded its cap. Do not
	// retry; the caller must prune or rotate.
	StoreTooLarge Kind = "StoreTooLarge"

	// StaleRecord means a validator or selector rejected a write for
	// failing monotonicity. Ignore; re-read and merge.
	StaleRecord Kind = "StaleRecord"

	// RotationInProgress means a send was attempted mid-rekey.
	// Transient; the caller retries.
	RotationInProgress Kind = "RotationInProgress"

	// ProtocolViolation covers signature failures, id mismatches, or
	// invalid key paths on inbound data. Drop silently at the entry
	// boundary to avoid amplifying malicious traffic.
	ProtocolViolation Kind = "ProtocolViolation"

	// RateLimited means a key-exchange or file-offer was throttled.
	// Reject with a retry-after hint.
	RateLimited Kind = "RateLimited"

	// Cancelled means a timeout or external abort occurred. No retry;
	// no state mutation.
	Cancelled Kind = "Cancelled"
)

// Policy describes how a Kind should be handled by a generic caller
// that has no deeper context of its own.
type Policy struct {
	Retry       bool
	OfflineFallback bool
	Silent      bool
}

var policies = map[Kind]Policy{
	CryptoAuthFailed:    {},
	CryptoTimeout:       {},
	CorruptIdentity:     {},
	PeerUnreachable:     {OfflineFallback: true},
	DhtPutNoPeers:       {Retry: true},
	StoreTooLarge:       {},
	StaleRecord:         {Retry: true},
	RotationInProgress:  {Retry: true},
	ProtocolViolation:   {Silent: true},
	RateLimited:         {Retry: true},
	Cancelled:           {},
}

// PolicyFor returns the propagation policy for a Kind.
func PolicyFor(k Kind) Policy {
	return policies[k]
}

// Error is a classified failure: a Kind plus the underlying cause.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "session.Decrypt"
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, if classified.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
