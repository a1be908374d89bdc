package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/walletauth/ports"
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

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("take returns the value exactly once", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, "nonce:abc", "0xabc", time.Minute))

		val, err := s.Take(ctx, "nonce:abc")
		require.NoError(t, err)
		require.Equal(t, "0xabc", val)

		_, err = s.Take(ctx, "nonce:abc")
		require.ErrorIs(t, err, ports.ErrKeyNotFound)
	})

	t.Run("entries expire after their ttl", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		s := NewMemoryStore(WithClock(clock.Now))
		require.NoError(t, s.Put(ctx, "k", "v", 300*time.Second))

		clock.Advance(299 * time.Second)
		val, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "v", val)

		clock.Advance(time.Second)
		_, err = s.Take(ctx, "k")
		require.ErrorIs(t, err, ports.ErrKeyNotFound)
	})

	t.Run("incr keeps the expiry of the first increment", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		s := NewMemoryStore(WithClock(clock.Now))

		for want := int64(1); want <= 3; want++ {
			n, err := s.Incr(ctx, "attempts", time.Minute)
			require.NoError(t, err)
			require.Equal(t, want, n)
			clock.Advance(10 * time.Second)
		}

		clock.Advance(time.Minute)
		n, err := s.Incr(ctx, "attempts", time.Minute)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	})

	t.Run("delete ignores missing keys", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, "a", "1", time.Minute))
		require.NoError(t, s.Delete(ctx, "a", "missing"))

		_, err := s.Get(ctx, "a")
		require.ErrorIs(t, err, ports.ErrKeyNotFound)
	})

	t.Run("concurrent takes succeed once", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, "nonce:race", "0xabc", time.Minute))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Take(ctx, "nonce:race"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), wins.Load())
	})
}
