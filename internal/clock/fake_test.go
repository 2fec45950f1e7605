package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeTimerFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	tm := c.NewTimer(3 * time.Second)

	c.Advance(2 * time.Second)
	select {
	case <-tm.C:
		t.Fatal("timer fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-tm.C:
		require.Equal(t, epoch.Add(3*time.Second), got)
	default:
		t.Fatal("timer did not fire after deadline")
	}
	require.Zero(t, c.PendingCount())
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	tm := c.NewTimer(time.Second)
	require.Equal(t, 1, c.PendingCount())

	require.True(t, tm.Stop())
	require.False(t, tm.Stop())
	require.Zero(t, c.PendingCount())

	c.Advance(time.Hour)
	select {
	case <-tm.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeTimerNonPositiveFiresImmediately(t *testing.T) {
	c := Fake(epoch)
	tm := c.NewTimer(0)
	select {
	case <-tm.C:
	default:
		t.Fatal("zero timer should fire immediately")
	}
	require.False(t, tm.Stop())
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		tm := c.NewTimer(5 * time.Second)
		<-tm.C
		close(done)
	}()

	c.WaitForTimers(1)
	next, ok := c.NextDeadline()
	require.True(t, ok)
	require.Equal(t, epoch.Add(5*time.Second), next)

	c.Set(next)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine was not released")
	}
}
