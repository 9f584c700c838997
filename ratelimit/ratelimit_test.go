package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAdmitsUpToLimit(t *testing.T) {
	t.Parallel()

	l := New()
	l.Configure(DimensionRequest, 50, time.Second)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.SetNowFunc(func() time.Time { return base })

	for i := 0; i < 50; i++ {
		ok, _ := l.Allow(DimensionRequest)
		require.True(t, ok, "request %d", i+1)
	}

	ok, retryAfter := l.Allow(DimensionRequest)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Second)
}

func TestLimiterWindowReset(t *testing.T) {
	t.Parallel()

	l := New()
	l.Configure(DimensionRequest, 2, time.Second)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.SetNowFunc(func() time.Time { return now })

	ok, _ := l.Allow(DimensionRequest)
	require.True(t, ok)
	ok, _ = l.Allow(DimensionRequest)
	require.True(t, ok)
	ok, retryAfter := l.Allow(DimensionRequest)
	require.False(t, ok)
	assert.Equal(t, time.Second, retryAfter)

	now = now.Add(500 * time.Millisecond)
	ok, retryAfter = l.Allow(DimensionRequest)
	require.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, retryAfter)

	now = now.Add(500 * time.Millisecond)
	ok, _ = l.Allow(DimensionRequest)
	assert.True(t, ok)
}

func TestLimiterDimensionsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New()
	l.Configure(DimensionRequest, 1, time.Second)
	l.Configure(DimensionScreenshot, 1, time.Minute)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.SetNowFunc(func() time.Time { return now })

	ok, _ := l.Allow(DimensionRequest)
	require.True(t, ok)
	ok, _ = l.Allow(DimensionRequest)
	require.False(t, ok)

	ok, _ = l.Allow(DimensionScreenshot)
	assert.True(t, ok, "screenshot window must not be affected by request window")

	ok, retryAfter := l.Allow(DimensionScreenshot)
	require.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)
}

func TestLimiterUnknownDimension(t *testing.T) {
	t.Parallel()

	l := New()
	for i := 0; i < 100; i++ {
		ok, retryAfter := l.Allow("unconfigured")
		require.True(t, ok)
		require.Zero(t, retryAfter)
	}
}
