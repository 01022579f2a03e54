package group

import (
	"time"

	"github.com/google/uuid"
)

// inviteMetadataBuilder constructs an invite's id, status, and
// created/expires timestamps with a fluent API, so sendInvite and
// CreateGroup don't hand-roll the same uuid+timestamp bookkeeping
// independently.
type inviteMetadataBuilder struct {
	id        string
	status    Status
	createdAt time.Time
	expiresAt time.Time
}

// newInviteMetadataBuilder starts a builder defaulted to a freshly
// minted invite id, StatusInvitedPending, and createdAt = now.
func newInviteMetadataBuilder() *inviteMetadataBuilder {
	return &inviteMetadataBuilder{
		id:        uuid.NewString(),
		status:    StatusInvitedPending,
		createdAt: time.Now(),
	}
}

// withExpiresAfter sets expiresAt to createdAt + d.
func (b *inviteMetadataBuilder) withExpiresAfter(d time.Duration) *inviteMetadataBuilder {
	b.expiresAt = b.createdAt.Add(d)
	return b
}

// build returns the invite id, its default local status, and the
// created/expires timestamps in the unix-millis form the wire types
// in types.go use.
func (b *inviteMetadataBuilder) build() (id string, status Status, createdAtMs, expiresAtMs int64) {
	return b.id, b.status, b.createdAt.UnixMilli(), b.expiresAt.UnixMilli()
}
