package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.Local)
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"earlier today", at(10, 8, 30), at(10, 19, 0)},
		{"exactly at trigger", at(10, 19, 0), at(11, 19, 0)},
		{"later today", at(10, 21, 15), at(11, 19, 0)},
		{"month rollover", time.Date(2025, time.March, 31, 20, 0, 0, 0, time.Local), time.Date(2025, time.April, 1, 19, 0, 0, 0, time.Local)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(NextRun(tt.now, 19, 0)), "got %v", NextRun(tt.now, 19, 0))
		})
	}
}

func TestParseClock(t *testing.T) {
	hour, minute, err := ParseClock("19:00")
	require.NoError(t, err)
	assert.Equal(t, 19, hour)
	assert.Equal(t, 0, minute)

	for _, bad := range []string{"", "7pm", "24:00", "12:60", "12:5", "ab:cd"} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewRequiresJob(t *testing.T) {
	_, err := New("19:00", nil)
	assert.Error(t, err)
}

func TestStepRunsOncePerDay(t *testing.T) {
	clock := &fakeClock{now: at(10, 18, 59)}
	runs := 0
	s, err := New("19:00", func(context.Context) error {
		runs++
		return nil
	}, WithClock(clock.Now))
	require.NoError(t, err)

	ctx := context.Background()

	s.step(ctx)
	assert.Equal(t, Waiting, s.State())
	assert.Equal(t, 0, runs)

	clock.Set(at(10, 19, 0))
	s.step(ctx)
	assert.Equal(t, 1, runs)
	assert.Equal(t, Waiting, s.State())
	assert.True(t, at(11, 19, 0).Equal(s.Next()))

	// Still the same evening: no second run.
	clock.Set(at(10, 19, 1))
	s.step(ctx)
	assert.Equal(t, 1, runs)

	clock.Set(at(11, 19, 0))
	s.step(ctx)
	assert.Equal(t, 2, runs)
	assert.Equal(t, 2, s.Runs())
}

func TestStepJobErrorKeepsLoopAlive(t *testing.T) {
	clock := &fakeClock{now: at(10, 18, 0)}
	s, err := New("19:00", func(context.Context) error {
		return errors.New("catalog down")
	}, WithClock(clock.Now))
	require.NoError(t, err)

	clock.Set(at(10, 19, 30))
	s.step(context.Background())

	assert.Equal(t, Waiting, s.State())
	assert.True(t, at(11, 19, 0).Equal(s.Next()))
}

func TestStepCancelledDuringRun(t *testing.T) {
	clock := &fakeClock{now: at(10, 19, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New("19:00", func(jobCtx context.Context) error {
		cancel()
		<-jobCtx.Done()
		return jobCtx.Err()
	}, WithClock(clock.Now))
	require.NoError(t, err)

	// New computed tomorrow because 19:00 is not ahead of now.
	clock.Set(at(11, 19, 0))
	s.step(ctx)
	assert.Equal(t, Stopped, s.State())
}

func TestRunStopsOnCancel(t *testing.T) {
	clock := &fakeClock{now: at(10, 12, 0)}
	s, err := New("19:00", func(context.Context) error { return nil },
		WithClock(clock.Now), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 0, s.Runs())
}

func TestRunTriggersWhenDue(t *testing.T) {
	clock := &fakeClock{now: at(10, 18, 59)}
	ran := make(chan struct{}, 1)
	s, err := New("19:00", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}, WithClock(clock.Now), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	clock.Set(at(10, 19, 0))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job was not triggered")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "waiting", Waiting.String())
	assert.Equal(t, "due", Due.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopped", Stopped.String())
}
