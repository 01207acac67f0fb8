package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeysDoNotShareBudget(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})

	require.True(t, l.Allow("www.gov.br"))
	// The first site's bucket is drained but the second is untouched.
	require.False(t, l.Allow("www.gov.br"))
	require.True(t, l.Allow("agencia.example.gov.br"))
}

func TestWaitRespectsContext(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "site"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "site")
	require.Error(t, err)
}

func TestDefaultsAppliedForZeroConfig(t *testing.T) {
	l := New(Config{})
	require.True(t, l.Allow("site"))
	require.False(t, l.Allow("site"))
}
