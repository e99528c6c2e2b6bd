package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZonedClockConvertsToLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Copenhagen")
	require.NoError(t, err)

	start := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)
	mock := NewMockClock(start.In(loc))

	now := mock.Now()
	assert.Equal(t, loc, now.Location())
	assert.Equal(t, 10, now.Day(), "23:30 UTC is already the next day in Copenhagen")
	assert.Equal(t, loc, mock.Location())
}

func TestNewDefaultsToUTC(t *testing.T) {
	c := NewRealClock(nil)
	assert.Equal(t, time.UTC, c.Location())
	assert.Equal(t, time.UTC, c.Now().Location())
}

func TestMockClockAfterFuncFiresOnAdvance(t *testing.T) {
	mock := NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	var fired atomic.Bool
	mock.AfterFunc(10*time.Second, func() { fired.Store(true) })

	mock.Advance(5 * time.Second)
	assert.False(t, fired.Load())

	mock.Advance(5 * time.Second)
	assert.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

func TestMockClockStopPreventsFire(t *testing.T) {
	mock := NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	var fired atomic.Bool
	timer := mock.AfterFunc(time.Second, func() { fired.Store(true) })
	assert.True(t, timer.Stop())

	mock.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestMockClockSet(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(start)

	mock.Set(start.Add(time.Hour))
	assert.Equal(t, start.Add(time.Hour), mock.Now())

	// Moving backwards is ignored
	mock.Set(start)
	assert.Equal(t, start.Add(time.Hour), mock.Now())
	assert.Equal(t, time.Hour, mock.Since(start))
}

func TestMockClockBlockUntilSeesAfterFunc(t *testing.T) {
	var _ Clock = NewMockClock(time.Now())

	mock := NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	registered := make(chan struct{})
	go func() {
		mock.BlockUntil(1)
		close(registered)
	}()

	mock.AfterFunc(time.Minute, func() {})
	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("BlockUntil did not observe the pending timer")
	}
}
