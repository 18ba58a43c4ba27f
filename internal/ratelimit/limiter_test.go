package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewAllowsBurst(t *testing.T) {
	l := New("GoogleBooks", 2)
	require.Equal(t, "GoogleBooks", l.Name())
	require.True(t, l.Allow())
	require.True(t, l.Allow())
	require.False(t, l.Allow())
}

func TestNewClampsNonPositiveRate(t *testing.T) {
	l := New("broken", 0)
	require.True(t, l.Allow())
	require.False(t, l.Allow())
}

func TestEveryAllowsSingleRequest(t *testing.T) {
	l := Every("Lens", time.Hour)
	require.True(t, l.Allow())
	require.False(t, l.Allow())
}

func TestWaitRespectsContext(t *testing.T) {
	l := Every("Lens", time.Hour)
	require.True(t, l.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Lens")
}

func TestUnlimitedNeverBlocks(t *testing.T) {
	l := Unlimited("test")
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}
