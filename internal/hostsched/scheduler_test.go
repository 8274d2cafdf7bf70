package hostsched

import (
	"container/heap"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleFires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(ctx, nil)

	var fired atomic.Int32
	s.Schedule("boot", time.Now().Add(50*time.Millisecond), func(time.Time) { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, s.Alarms())
}

func TestSchedulePastFiresImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(ctx, nil)

	done := make(chan struct{})
	s.Schedule("late", time.Now().Add(-time.Hour), func(time.Time) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("past alarm did not fire")
	}
}

func TestCancelBeforeFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(ctx, nil)

	var fired atomic.Int32
	s.Schedule("boot", time.Now().Add(100*time.Millisecond), func(time.Time) { fired.Add(1) })
	s.Cancel("boot")

	time.Sleep(250 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestRegisterReplacesByName(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(ctx, nil)

	var first, second atomic.Int32
	s.Schedule("boot", time.Now().Add(time.Hour), func(time.Time) { first.Add(1) })
	s.Schedule("boot", time.Now().Add(30*time.Millisecond), func(time.Time) { second.Add(1) })

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, first.Load())
	assert.Empty(t, s.Alarms())
}

func TestSchedulePeriodic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(ctx, nil)

	require.NoError(t, s.SchedulePeriodic("job", "*/15 * * * *", func(time.Time) {}))
	require.NoError(t, s.SchedulePeriodic("job", "*/15 * * * *", func(time.Time) {}))
	s.Schedule("boot", time.Now().Add(time.Hour), func(time.Time) {})

	alarms := s.Alarms()
	require.Len(t, alarms, 2)
	assert.Equal(t, "job", alarms[0].Name)
	assert.Equal(t, "*/15 * * * *", alarms[0].Cron)
	assert.Zero(t, alarms[0].At.Minute()%15)
	assert.True(t, alarms[0].At.After(time.Now()))
	assert.Equal(t, "boot", alarms[1].Name)
}

func TestSchedulePeriodicInvalid(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(ctx, nil)

	assert.Error(t, s.SchedulePeriodic("job", "every quarter hour", func(time.Time) {}))
	assert.Empty(t, s.Alarms())
}

func TestWaitForCallbacks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool
	s.Schedule("slow", time.Now(), func(time.Time) {
		close(started)
		<-release
		finished.Store(true)
	})
	<-started
	cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	s.Wait()
	assert.True(t, finished.Load())
	assert.Nil(t, s.Alarms())
}

func TestHeapOrder(t *testing.T) {
	base := time.Now()
	h := &alarmHeap{}
	heap.Init(h)
	heap.Push(h, alarm{name: "c", at: base.Add(3 * time.Second)})
	heap.Push(h, alarm{name: "a", at: base.Add(time.Second)})
	heap.Push(h, alarm{name: "b", at: base.Add(2 * time.Second)})

	assert.True(t, h.removeByName("b"))
	assert.False(t, h.removeByName("missing"))

	assert.Equal(t, "a", heap.Pop(h).(alarm).name)
	assert.Equal(t, "c", heap.Pop(h).(alarm).name)
	assert.Zero(t, h.Len())
}
