package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freitascorp/gotransport/transport/scheduler"
)

func TestNewRejectsInvalidExpression(t *testing.T) {
	_, err := scheduler.New("not a cron expr !!", func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestDueAtMatchesExactMinute(t *testing.T) {
	s, err := scheduler.New("30 4 * * *", func(context.Context) error { return nil })
	require.NoError(t, err)

	due, err := s.DueAt(time.Date(2026, 3, 1, 4, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, due)

	due, err = s.DueAt(time.Date(2026, 3, 1, 4, 31, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, due)
}

func TestStartInvokesFnOnEveryTick(t *testing.T) {
	var calls int32
	s, err := scheduler.New("* * * * *", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, err)
	s.WithTickInterval(10 * time.Millisecond)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestStopEndsTheLoop(t *testing.T) {
	var calls int32
	s, err := scheduler.New("* * * * *", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, err)
	s.WithTickInterval(5 * time.Millisecond)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) > 0
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	after := atomic.LoadInt32(&calls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&calls), "no further invocations after Stop")
}
