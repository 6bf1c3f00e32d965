package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_AfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)

	ch := c.After(10 * time.Second)
	assert.Equal(t, 1, c.Waiters())

	c.Advance(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, start.Add(10*time.Second), got)
	default:
		t.Fatal("did not fire at deadline")
	}
	assert.Equal(t, 0, c.Waiters())
}

func TestFakeClock_NonPositiveDurationFiresImmediately(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestFakeClock_SetBackwardsKeepsTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)
	c.Set(start.Add(-time.Hour))
	assert.Equal(t, start, c.Now())
}

func TestFakeClock_BlockUntil(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		<-c.After(time.Minute)
		close(done)
	}()

	c.BlockUntil(1)
	c.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "waiter never released")
	}
}
