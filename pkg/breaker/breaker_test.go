package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpensAfterThresholdFailures(t *testing.T) {
	b := New(Config{Name: "db", FailureThreshold: 3, RecoveryTimeout: 50 * time.Millisecond})

	for i := 0; i < 3; i++ {
		require.True(t, b.AllowRequest())
		b.RecordFailure()
	}

	require.Equal(t, Open, b.State())
	require.False(t, b.AllowRequest())
}

func TestHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New(Config{Name: "rpc", FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})

	b.AllowRequest()
	b.RecordFailure()
	require.Equal(t, Open, b.State())

	time.Sleep(30 * time.Millisecond)

	require.True(t, b.AllowRequest())
	require.Equal(t, HalfOpen, b.State())
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b := New(Config{Name: "rpc", FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	b.AllowRequest()
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	b.AllowRequest()

	b.RecordSuccess()
	require.Equal(t, Closed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{Name: "rpc", FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	b.AllowRequest()
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	b.AllowRequest()

	b.RecordFailure()
	require.Equal(t, Open, b.State())
}

func TestCallWrapsFunctionAndTripsBreaker(t *testing.T) {
	b := New(Config{Name: "peer", FailureThreshold: 2, RecoveryTimeout: time.Second})
	boom := errors.New("boom")

	err := b.Call(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	err = b.Call(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	err = b.Call(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
	require.NotErrorIs(t, err, boom)
}

func TestRegistryReturnsSameBreakerByName(t *testing.T) {
	r := NewRegistry()
	a := r.Get("metastore")
	b := r.Get("metastore")
	require.Same(t, a, b)
}
