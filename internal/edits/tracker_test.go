package edits

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackThenComplete(t *testing.T) {
	var notified atomic.Int32
	tracker := NewTracker(func(key string, files []string) {
		notified.Add(1)
	})

	done := make(chan error, 1)
	go func() {
		done <- tracker.Track(context.Background(), "call-1", []string{"/tmp/a.go"})
	}()

	// Give Track a moment to park.
	time.Sleep(10 * time.Millisecond)
	tracker.Complete("call-1")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("track did not resolve after complete")
	}
	assert.EqualValues(t, 1, notified.Load())
}

func TestCompleteBeforeTrackResolvesImmediately(t *testing.T) {
	var notified atomic.Int32
	tracker := NewTracker(func(key string, files []string) {
		notified.Add(1)
	})

	tracker.Complete("call-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tracker.Track(ctx, "call-1", nil))
	assert.EqualValues(t, 1, notified.Load())
}

func TestCompleteWithoutTrackIsDiscarded(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Complete("orphan")
	tracker.Reset()

	// After reset the remembered completion is gone; a new Track parks
	// until cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tracker.Track(ctx, "orphan", nil), context.DeadlineExceeded)
}

func TestTrackObservesCancellation(t *testing.T) {
	tracker := NewTracker(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tracker.Track(ctx, "call-1", nil)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("track did not observe cancellation")
	}
}

func TestResetReleasesWaitersWithoutNotify(t *testing.T) {
	var notified atomic.Int32
	tracker := NewTracker(func(key string, files []string) {
		notified.Add(1)
	})

	done := make(chan error, 1)
	go func() {
		done <- tracker.Track(context.Background(), "call-1", nil)
	}()

	time.Sleep(10 * time.Millisecond)
	tracker.Reset()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("track did not resolve after reset")
	}
	assert.Zero(t, notified.Load())
}
