package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

func newLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	l, err := New(cfg)
	require.NoError(t, err)
	return l
}

func TestLimiterWaitSpacesRequests(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, Config{DefaultRPS: 0.1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://one.example/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://two.example/a"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example/again")
	require.Error(t, err)
	require.Equal(t, crawler.KindTimeout, crawler.KindOf(err))
}

func TestLimiterHostOverride(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, Config{DefaultRPS: 0.1, DefaultBurst: 1, HostRPS: map[string]float64{"Fast.Example": 0}})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx, "https://fast.example/x"))
	}
}

func TestLimiterBoundsTrackedHosts(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, Config{DefaultRPS: 100, DefaultBurst: 1, MaxHosts: 3})
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(ctx, fmt.Sprintf("https://host-%d.example/", i)))
	}
	require.Equal(t, 3, l.Hosts())
}

func TestLimiterSkipsUnlimitedHosts(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, Config{HostRPS: map[string]float64{"slow.example": 1}})
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(ctx, fmt.Sprintf("https://host-%d.example/", i)))
	}
	require.Zero(t, l.Hosts())

	require.NoError(t, l.Wait(ctx, "https://slow.example/"))
	require.Equal(t, 1, l.Hosts())
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", hostOf("https://Example.com:8443/x"))
	require.Equal(t, "unknown", hostOf("::bad"))
	require.Equal(t, "unknown", hostOf(""))
}
