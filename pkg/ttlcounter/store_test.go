package ttlcounter_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatehouse/pkg/ttlcounter"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func noPressure() (float64, bool) { return 0, true }

func newStore(clock ttlcounter.Clock, window time.Duration, maxEntries int) *ttlcounter.Store {
	return ttlcounter.New(ttlcounter.Config{
		Name:       "test",
		Window:     window,
		MaxEntries: maxEntries,
		Clock:      clock,
		Memory:     noPressure,
	})
}

func TestIncrement(t *testing.T) {
	t.Parallel()

	t.Run("counts accumulate within one window", func(t *testing.T) {
		clock := newManualClock()
		s := newStore(clock, time.Minute, 100)

		var first time.Time
		for i := range 5 {
			count, exp := s.Increment("k")
			require.Equal(t, i+1, count)
			if i == 0 {
				first = exp
			}
			require.Equal(t, first, exp, "window must not slide")
			clock.Advance(5 * time.Second)
		}
		require.Equal(t, clock.now.Add(-25*time.Second).Add(time.Minute), first)
	})

	t.Run("a hit after the window opens a fresh one", func(t *testing.T) {
		clock := newManualClock()
		s := newStore(clock, time.Minute, 100)

		s.Increment("k")
		s.Increment("k")
		clock.Advance(time.Minute)

		count, exp := s.Increment("k")
		require.Equal(t, 1, count)
		require.Equal(t, clock.Now().Add(time.Minute), exp)
	})

	t.Run("keys are independent", func(t *testing.T) {
		s := newStore(newManualClock(), time.Minute, 100)

		s.Increment("a")
		s.Increment("a")
		count, _ := s.Increment("b")
		require.Equal(t, 1, count)
	})
}

func TestIncrementConcurrent(t *testing.T) {
	t.Parallel()

	s := newStore(newManualClock(), time.Hour, 100)

	const workers, perWorker = 16, 250
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				s.Increment("shared")
			}
		}()
	}
	wg.Wait()

	e, ok := s.Get("shared")
	require.True(t, ok)
	require.Equal(t, workers*perWorker, e.Count, "no increment may be lost")
}

func TestGetLazyExpiry(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	s := newStore(clock, time.Minute, 100)

	s.Increment("k")
	_, ok := s.Get("k")
	require.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = s.Get("k")
	require.False(t, ok, "expired entry reads as absent")
	require.Equal(t, 1, s.Len(), "but is still physically held until swept")
}

func TestDecrement(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	s := newStore(clock, time.Minute, 100)

	s.Increment("k")
	s.Increment("k")
	s.Decrement("k")
	e, _ := s.Get("k")
	require.Equal(t, 1, e.Count)

	s.Decrement("k")
	s.Decrement("k")
	e, _ = s.Get("k")
	require.Equal(t, 0, e.Count, "count never goes negative")

	s.Decrement("missing")
	require.Equal(t, 1, s.Len())
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := newStore(newManualClock(), time.Minute, 100)
	s.Increment("a")
	s.Increment("b")

	s.Reset("a")
	_, ok := s.Get("a")
	require.False(t, ok)
	_, ok = s.Get("b")
	require.True(t, ok)

	s.ResetAll()
	require.Equal(t, 0, s.Len())
}

func TestSweep(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	s := newStore(clock, time.Minute, 100)

	s.Increment("old")
	clock.Advance(30 * time.Second)
	s.Increment("new")
	clock.Advance(31 * time.Second)

	require.Equal(t, 1, s.Sweep())
	_, ok := s.Get("new")
	require.True(t, ok)
	require.Equal(t, uint64(1), s.Stats().Swept)
}

func TestEmergencyEviction(t *testing.T) {
	t.Parallel()

	t.Run("drops the oldest-expiring thirty percent", func(t *testing.T) {
		clock := newManualClock()
		s := newStore(clock, time.Minute, 10)

		for i := range 10 {
			s.Increment(fmt.Sprintf("k%02d", i))
			clock.Advance(time.Second)
		}

		require.Equal(t, 3, s.EmergencyEvict())
		for i := range 3 {
			_, ok := s.Get(fmt.Sprintf("k%02d", i))
			require.False(t, ok, "k%02d should be evicted", i)
		}
		_, ok := s.Get("k03")
		require.True(t, ok)
	})

	t.Run("size is bounded after one pressure cycle", func(t *testing.T) {
		s := newStore(newManualClock(), time.Hour, 100)

		for i := range 140 {
			s.Increment(fmt.Sprintf("ip-%d", i))
		}
		require.Greater(t, s.Len(), 100)

		require.Equal(t, 42, s.CheckPressure())
		require.LessOrEqual(t, s.Len(), 100)
		require.Equal(t, uint64(1), s.Stats().EmergencyEvictions)
	})

	t.Run("just below the inline threshold still ends at the cap", func(t *testing.T) {
		s := newStore(newManualClock(), time.Hour, 100)

		for i := range 199 {
			s.Increment(fmt.Sprintf("ip-%d", i))
		}
		require.Equal(t, 199, s.Len())

		require.Equal(t, 99, s.CheckPressure())
		require.Equal(t, 100, s.Len())
	})

	t.Run("inline eviction sheds back to the cap", func(t *testing.T) {
		s := newStore(newManualClock(), time.Hour, 10)

		for i := range 20 {
			s.Increment(fmt.Sprintf("spoofed-%d", i))
		}
		require.Equal(t, 20, s.Len())

		s.Increment("one-more")
		require.Equal(t, 11, s.Len())
		_, ok := s.Get("one-more")
		require.True(t, ok)
	})

	t.Run("inline eviction caps runaway growth", func(t *testing.T) {
		s := newStore(newManualClock(), time.Hour, 10)

		for i := range 100 {
			s.Increment(fmt.Sprintf("spoofed-%d", i))
		}
		require.LessOrEqual(t, s.Len(), 20)
	})

	t.Run("heap pressure triggers eviction below the entry cap", func(t *testing.T) {
		s := ttlcounter.New(ttlcounter.Config{
			Window:     time.Hour,
			MaxEntries: 1000,
			HeapRatio:  0.9,
			Clock:      newManualClock(),
			Memory:     func() (float64, bool) { return 0.95, true },
		})
		for i := range 10 {
			s.Increment(fmt.Sprintf("k%d", i))
		}

		require.Equal(t, 3, s.CheckPressure())
		require.Equal(t, 7, s.Len())
	})

	t.Run("no pressure means no eviction", func(t *testing.T) {
		s := newStore(newManualClock(), time.Hour, 10)
		s.Increment("a")
		require.Zero(t, s.CheckPressure())
	})
}

func TestStats(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	s := newStore(clock, time.Minute, 100)

	require.Zero(t, s.Stats().Size)

	start := clock.Now()
	s.Increment("a")
	clock.Advance(10 * time.Second)
	s.Increment("b")

	st := s.Stats()
	require.Equal(t, 2, st.Size)
	require.Equal(t, start.Add(time.Minute), st.OldestExpiry)
	require.Equal(t, start.Add(70*time.Second), st.NewestExpiry)
	require.Equal(t, "test", st.Name)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s := ttlcounter.New(ttlcounter.Config{
		Window:            time.Millisecond,
		CleanupInterval:   5 * time.Millisecond,
		EmergencyInterval: 5 * time.Millisecond,
		Memory:            noPressure,
	})
	s.Start()
	s.Start()

	s.Increment("k")
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}

func BenchmarkIncrement(b *testing.B) {
	s := ttlcounter.New(ttlcounter.Config{Window: time.Minute, Memory: noPressure})
	for b.Loop() {
		s.Increment("bench")
	}
}
