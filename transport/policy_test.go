package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryContactPolicyDefaultsToPending(t *testing.T) {
	p := NewMemoryContactPolicy()
	require.Equal(t, DecisionPending, p.Evaluate("peer1"))
}

func TestMemoryContactPolicyTrustedAutoAccepts(t *testing.T) {
	p := NewMemoryContactPolicy()
	p.Trust("peer1")
	require.Equal(t, DecisionAutoAccept, p.Evaluate("peer1"))
}

func TestMemoryContactPolicyBlockedRejects(t *testing.T) {
	p := NewMemoryContactPolicy()
	p.Block("peer1")
	require.Equal(t, DecisionReject, p.Evaluate("peer1"))
	require.True(t, p.IsBlocked("peer1"))
}

func TestMemoryContactPolicyApproveRejectClearsPending(t *testing.T) {
	p := NewMemoryContactPolicy()
	p.MarkPending("peer1")
	require.Equal(t, DecisionPending, p.Evaluate("peer1"))

	p.Approve("peer1")
	require.Equal(t, DecisionAutoAccept, p.Evaluate("peer1"))

	p.Reject("peer1")
	require.Equal(t, DecisionReject, p.Evaluate("peer1"))
}

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	require.True(t, rl.Allow("peer1"))
	require.True(t, rl.Allow("peer1"))
	require.False(t, rl.Allow("peer1"))
}

func TestRateLimiterPrunesOldEntries(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)
	require.True(t, rl.Allow("peer1"))
	require.False(t, rl.Allow("peer1"))

	time.Sleep(20 * time.Millisecond)
	require.True(t, rl.Allow("peer1"))
}

func TestRateLimiterIsolatesPeers(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	require.True(t, rl.Allow("peer1"))
	require.True(t, rl.Allow("peer2"))
}
