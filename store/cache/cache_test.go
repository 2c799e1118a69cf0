package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionBasicSetGet(t *testing.T) {
	region := NewRegion[string]("sessions", time.Minute)

	t.Run("set and get returns value", func(t *testing.T) {
		region.Set("s1", "payload")
		value, ok := region.Get("s1")
		require.True(t, ok)
		assert.Equal(t, "payload", value)
	})

	t.Run("get absent key returns false", func(t *testing.T) {
		_, ok := region.Get("absent")
		assert.False(t, ok)
	})

	t.Run("hit and miss counters", func(t *testing.T) {
		hits, misses := region.Stats()
		assert.Equal(t, uint64(1), hits)
		assert.Equal(t, uint64(1), misses)
	})
}

func TestRegionExpiry(t *testing.T) {
	region := NewRegion[int]("turns", 20*time.Millisecond)
	region.Set("t1", 42)

	_, ok := region.Get("t1")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = region.Get("t1")
	assert.False(t, ok, "expired entry must not be returned")
	assert.Equal(t, 0, region.Len(), "expired entry is dropped lazily on read")
}

func TestRegionInvalidate(t *testing.T) {
	region := NewRegion[string]("sessions", time.Minute)
	region.Set("s1", "a")
	region.Set("s2", "b")

	region.Invalidate("s1")
	_, ok := region.Get("s1")
	assert.False(t, ok)

	// Idempotent: invalidating again must not panic or affect others.
	region.Invalidate("s1")
	value, ok := region.Get("s2")
	require.True(t, ok)
	assert.Equal(t, "b", value)

	region.InvalidateAll()
	assert.Equal(t, 0, region.Len())
}

func TestRegionSweep(t *testing.T) {
	region := NewRegion[string]("lists", 10*time.Millisecond)
	region.Set("old", "x")
	time.Sleep(20 * time.Millisecond)
	region.Set("fresh", "y")

	removed := region.Sweep(time.Now())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, region.Len())

	_, ok := region.Get("fresh")
	assert.True(t, ok)
}

func TestRegionConcurrentAccess(t *testing.T) {
	region := NewRegion[int]("sessions", time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := string(rune('a' + n))
				region.Set(key, j)
				region.Get(key)
				if j%50 == 0 {
					region.Invalidate(key)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestSweeperLoop(t *testing.T) {
	region := NewRegion[string]("sessions", 10*time.Millisecond)
	region.Set("stale", "x")

	sweeper := NewSweeper(15*time.Millisecond, region)
	sweeper.Start(context.Background())
	defer sweeper.Close()

	assert.Eventually(t, func() bool {
		return region.Len() == 0
	}, time.Second, 5*time.Millisecond, "sweeper should remove expired entries")
}

func TestSweeperCloseStopsLoop(t *testing.T) {
	region := NewRegion[string]("sessions", time.Minute)
	sweeper := NewSweeper(5*time.Millisecond, region)
	sweeper.Start(context.Background())

	done := make(chan struct{})
	go func() {
		sweeper.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
