package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceReleasesDueWaiters(t *testing.T) {
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	short := f.After(100 * time.Millisecond)
	long := f.After(time.Hour)

	f.Advance(200 * time.Millisecond)

	select {
	case at := <-short:
		assert.Equal(t, start.Add(200*time.Millisecond), at)
	default:
		t.Fatal("due waiter not released")
	}
	select {
	case <-long:
		t.Fatal("waiter released early")
	default:
	}

	assert.Equal(t, start.Add(200*time.Millisecond), f.Now())
}

func TestFakeNonPositiveAfterFiresImmediately(t *testing.T) {
	f := NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	select {
	case <-f.After(0):
	default:
		t.Fatal("zero-duration After must fire immediately")
	}
}

func TestFakeAdvanceAccumulates(t *testing.T) {
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	ch := f.After(time.Second)
	f.Advance(600 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("released before deadline")
	default:
	}

	f.Advance(600 * time.Millisecond)
	require.Len(t, ch, 1)
}
