package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestWatchdog_LostAndRestored(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	var lost, restored int
	var lostSince, restoredAfter time.Duration
	w := New(3*time.Second,
		WithClock(clk.now),
		OnLost(func(d time.Duration) { lost++; lostSince = d }),
		OnRestored(func(d time.Duration) { restored++; restoredAfter = d }),
	)

	clk.advance(time.Second)
	w.Kick()
	clk.advance(3 * time.Second)
	assert.False(t, w.Check(), "ровно таймаут — ещё не потеря")

	clk.advance(time.Millisecond)
	assert.True(t, w.Check())
	clk.advance(time.Second)
	assert.True(t, w.Check())
	assert.Equal(t, 1, lost, "OnLost вызывается один раз")
	assert.Equal(t, 3*time.Second+time.Millisecond, lostSince)

	clk.advance(2 * time.Second)
	w.Kick()
	assert.False(t, w.Lost())
	assert.Equal(t, 1, restored)
	assert.Equal(t, 3*time.Second, restoredAfter)
	assert.Equal(t, uint64(1), w.Losses())

	w.Kick()
	assert.Equal(t, 1, restored, "повторный Kick без потери не восстанавливает")
}

func TestWatchdog_LostWithoutAnyKick(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	w := New(time.Second, WithClock(clk.now))
	clk.advance(2 * time.Second)
	assert.True(t, w.Check())
}

func TestWatchdog_Run(t *testing.T) {
	var fired atomic.Bool
	w := New(20*time.Millisecond, OnLost(func(time.Duration) { fired.Store(true) }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	require.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
	assert.True(t, w.Lost())
}
