package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iskorsukov/aniwatcher/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSyncer struct {
	err error

	mu      sync.Mutex
	windows [][2]time.Time
}

func (c *countingSyncer) Sync(ctx context.Context, start, end time.Time) (syncer.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = append(c.windows, [2]time.Time{start, end})
	return syncer.Result{Source: "fake"}, c.err
}

func (c *countingSyncer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}

func TestRunSyncsImmediatelyAndOnTick(t *testing.T) {
	sy := &countingSyncer{err: errors.New("remote down")}
	s := New(sy, 20*time.Millisecond, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return sy.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSyncNowWindow(t *testing.T) {
	sy := &countingSyncer{}
	s := New(sy, time.Hour, 2, nil)
	s.now = func() time.Time { return time.Date(2024, 4, 6, 15, 30, 0, 0, time.UTC) }

	_, err := s.SyncNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sy.count())
	assert.True(t, sy.windows[0][0].Equal(time.Date(2024, 4, 6, 0, 0, 0, 0, time.UTC)))
	assert.True(t, sy.windows[0][1].Equal(time.Date(2024, 4, 8, 0, 0, 0, 0, time.UTC)))
}
