package group

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInviteMetadataBuilder(t *testing.T) {
	t.Run("DefaultValues", func(t *testing.T) {
		id, status, createdAt, _ := newInviteMetadataBuilder().build()

		require.NotEmpty(t, id)
		require.Contains(t, id, "-", "id should contain UUID hyphens")
		require.Equal(t, StatusInvitedPending, status)
		require.InDelta(t, time.Now().UnixMilli(), createdAt, float64(time.Second.Milliseconds()))
	})

	t.Run("WithExpiresAfter", func(t *testing.T) {
		d := 2 * time.Hour
		_, _, createdAt, expiresAt := newInviteMetadataBuilder().withExpiresAfter(d).build()
		require.Equal(t, createdAt+d.Milliseconds(), expiresAt)
	})

	t.Run("DistinctIDsPerBuilder", func(t *testing.T) {
		id1, _, _, _ := newInviteMetadataBuilder().build()
		id2, _, _, _ := newInviteMetadataBuilder().build()
		require.NotEqual(t, id1, id2)
	})
}
