package kernel

import (
	"testing"
	"time"

	"github.com/jeeves-cluster-organization/agentkernel/internal/kernelid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsUpToBurst(t *testing.T) {
	now := fixedNow()
	clock := func() time.Time { return now }
	rl := NewRateLimiter(RateLimitWindowConfig{RPM: 100, RPH: 1000, Burst: 3}, clock)
	user := kernelid.UserId("u-1")

	for i := 0; i < 3; i++ {
		result := rl.Check(user)
		assert.True(t, result.Allowed, "request %d should be allowed within burst", i)
	}
	result := rl.Check(user)
	assert.False(t, result.Allowed)
	assert.Equal(t, "burst", result.ExceededWindow)
}

func TestRateLimiterRejectionDoesNotMutateWindows(t *testing.T) {
	now := fixedNow()
	clock := func() time.Time { return now }
	rl := NewRateLimiter(RateLimitWindowConfig{RPM: 100, RPH: 1000, Burst: 1}, clock)
	user := kernelid.UserId("u-1")

	require.True(t, rl.Check(user).Allowed)
	require.False(t, rl.Check(user).Allowed)
	require.False(t, rl.Check(user).Allowed)

	w := rl.windows[user]
	assert.Len(t, w.burst, 1, "a rejected check must not push onto any window")
}

func TestRateLimiterBurstWindowExpires(t *testing.T) {
	now := fixedNow()
	clock := func() time.Time { return now }
	rl := NewRateLimiter(RateLimitWindowConfig{RPM: 100, RPH: 1000, Burst: 1}, clock)
	user := kernelid.UserId("u-1")

	require.True(t, rl.Check(user).Allowed)
	require.False(t, rl.Check(user).Allowed)

	now = now.Add(2 * time.Second)
	assert.True(t, rl.Check(user).Allowed, "burst window should have cleared after >1s")
}

func TestRateLimiterRPMWindowIndependentOfBurst(t *testing.T) {
	now := fixedNow()
	clock := func() time.Time { return now }
	rl := NewRateLimiter(RateLimitWindowConfig{RPM: 2, RPH: 1000, Burst: 1000}, clock)
	user := kernelid.UserId("u-1")

	require.True(t, rl.Check(user).Allowed)
	now = now.Add(2 * time.Second)
	require.True(t, rl.Check(user).Allowed)
	now = now.Add(2 * time.Second)
	result := rl.Check(user)
	assert.False(t, result.Allowed)
	assert.Equal(t, "rpm", result.ExceededWindow)
}

func TestRateLimiterPerUserOverride(t *testing.T) {
	now := fixedNow()
	clock := func() time.Time { return now }
	rl := NewRateLimiter(RateLimitWindowConfig{RPM: 100, RPH: 1000, Burst: 1}, clock)
	user := kernelid.UserId("u-1")
	rl.SetUserLimits(user, RateLimitWindowConfig{RPM: 100, RPH: 1000, Burst: 5})

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Check(user).Allowed)
	}
	assert.False(t, rl.Check(user).Allowed)
}

func TestRateLimiterIsolatesDistinctUsers(t *testing.T) {
	now := fixedNow()
	clock := func() time.Time { return now }
	rl := NewRateLimiter(RateLimitWindowConfig{RPM: 100, RPH: 1000, Burst: 1}, clock)

	require.True(t, rl.Check(kernelid.UserId("u-1")).Allowed)
	assert.True(t, rl.Check(kernelid.UserId("u-2")).Allowed, "a separate user must have its own independent windows")
}

func TestRateLimiterRemainingReflectsMinHeadroomAcrossWindows(t *testing.T) {
	now := fixedNow()
	clock := func() time.Time { return now }
	rl := NewRateLimiter(RateLimitWindowConfig{RPM: 5, RPH: 1000, Burst: 2}, clock)
	user := kernelid.UserId("u-1")

	result := rl.Check(user)
	require.True(t, result.Allowed)
	assert.EqualValues(t, 1, result.Remaining, "burst (2-1) is the tightest window")

	result = rl.Check(user)
	require.True(t, result.Allowed)
	assert.EqualValues(t, 0, result.Remaining, "burst is now exhausted")
}

func TestRateLimiterRemainingIsZeroWhenRejected(t *testing.T) {
	now := fixedNow()
	clock := func() time.Time { return now }
	rl := NewRateLimiter(RateLimitWindowConfig{RPM: 100, RPH: 1000, Burst: 1}, clock)
	user := kernelid.UserId("u-1")

	require.True(t, rl.Check(user).Allowed)
	result := rl.Check(user)
	require.False(t, result.Allowed)
	assert.EqualValues(t, 0, result.Remaining)
}

func TestCleanupExpiredRemovesIdleUsers(t *testing.T) {
	now := fixedNow()
	clock := func() time.Time { return now }
	rl := NewRateLimiter(RateLimitWindowConfig{RPM: 100, RPH: 1000, Burst: 10}, clock)
	user := kernelid.UserId("u-1")
	require.True(t, rl.Check(user).Allowed)

	removed := rl.CleanupExpired(now.Add(2 * time.Hour))
	assert.Equal(t, 1, removed)
	assert.Empty(t, rl.windows)
}
