package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalytics/parley/internal/session"
)

func TestRegisterValidatesCron(t *testing.T) {
	s := New(0, nil)
	noop := func(context.Context, time.Time) error { return nil }
	assert.Error(t, s.Register(&Job{Name: "bad", Cron: "every minute", Run: noop}))
	assert.Error(t, s.Register(&Job{Name: "", Cron: "* * * * *", Run: noop}))
	assert.Error(t, s.Register(nil))
	require.NoError(t, s.Register(&Job{Name: "ok", Cron: "*/5 * * * *", Run: noop}))

	next, err := s.Next("ok", time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), next)
	_, err = s.Next("missing", time.Now())
	assert.Error(t, err)
}

func TestTickRunsDueJobsOncePerMinute(t *testing.T) {
	s := New(time.Second, nil)
	var runs atomic.Int32
	require.NoError(t, s.Register(&Job{Name: "j", Cron: "*/5 * * * *", Run: func(context.Context, time.Time) error {
		runs.Add(1)
		return nil
	}}))
	ctx := context.Background()

	due := time.Date(2026, 1, 1, 10, 5, 10, 0, time.UTC)
	s.tickAt(ctx, due)
	s.tickAt(ctx, due.Add(30*time.Second)) // same minute
	s.tickAt(ctx, due.Add(time.Minute))    // not due
	s.wg.Wait()
	assert.Equal(t, int32(1), runs.Load())

	s.tickAt(ctx, due.Add(5*time.Minute))
	s.wg.Wait()
	assert.Equal(t, int32(2), runs.Load())
}

func TestJobNeverOverlapsItself(t *testing.T) {
	s := New(time.Second, nil)
	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Register(&Job{Name: "slow", Cron: "* * * * *", Run: func(context.Context, time.Time) error {
		runs.Add(1)
		<-release
		return nil
	}}))
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	s.tickAt(ctx, base)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.tickAt(ctx, base.Add(time.Minute))
	close(release)
	s.wg.Wait()
	assert.Equal(t, int32(1), runs.Load())
}

func TestPanickingJobIsContained(t *testing.T) {
	s := New(time.Second, nil)
	require.NoError(t, s.Register(&Job{Name: "boom", Cron: "* * * * *", Run: func(context.Context, time.Time) error {
		panic("boom")
	}}))
	assert.NotPanics(t, func() {
		s.tickAt(context.Background(), time.Now())
		s.wg.Wait()
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRetentionJobPrunes(t *testing.T) {
	store := session.NewStore(10, "UBOT", nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.RecordMessage(session.Message{Role: session.RoleUser, Content: "old", MessageID: "1", Timestamp: now.Add(-7 * time.Hour)}, []string{"U1"})
	store.RecordMessage(session.Message{Role: session.RoleUser, Content: "new", MessageID: "2", Timestamp: now.Add(-time.Hour)}, []string{"U1"})

	job := RetentionJob("*/5 * * * *", store, 6*time.Hour, nil, nil)
	require.NoError(t, job.Run(context.Background(), now))

	th, ok := store.Thread("U1")
	require.True(t, ok)
	msgs := th.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "new", msgs[0].Content)
}

func TestSemaphore(t *testing.T) {
	sem := NewSemaphore(2)
	assert.Equal(t, 2, sem.Cap())
	require.NoError(t, sem.Acquire(context.Background()))
	assert.True(t, sem.TryAcquire())
	assert.False(t, sem.TryAcquire())
	assert.Equal(t, 0, sem.Available())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sem.Acquire(ctx), context.DeadlineExceeded)

	sem.Release()
	assert.Equal(t, 1, sem.Available())
	assert.Equal(t, 1, NewSemaphore(0).Cap())
}
