package cache_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kanimedia/internal/cache"
)

func entryOfSize(n int) *cache.Entry {
	return &cache.Entry{
		Data:        bytes.Repeat([]byte{0xAB}, n),
		ContentType: "image/webp",
	}
}

func TestGetMiss(t *testing.T) {
	c := cache.New(1024)

	_, ok := c.Get("absent")
	require.False(t, ok)
}

func TestPutGet(t *testing.T) {
	c := cache.New(1024)

	want := &cache.Entry{Data: []byte("encoded bytes"), ContentType: "image/webp"}
	c.Put("poster-1?w=100,h=100,fit=contain,fmt=webp,q=0", want)

	got, ok := c.Get("poster-1?w=100,h=100,fit=contain,fmt=webp,q=0")
	require.True(t, ok)
	require.Same(t, want, got)
	require.Equal(t, []byte("encoded bytes"), got.Data)
	require.Equal(t, "image/webp", got.ContentType)
}

func TestBudgetNeverExceeded(t *testing.T) {
	c := cache.New(100)

	for i := 0; i < 50; i++ {
		c.Put(fmt.Sprintf("key-%d", i), entryOfSize(1+i%40))
		require.LessOrEqual(t, c.UsedBytes(), int64(100))
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := cache.New(100)

	c.Put("a", entryOfSize(40))
	c.Put("b", entryOfSize(40))
	c.Put("c", entryOfSize(40))

	_, ok := c.Get("a")
	require.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.Get("b")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)
	require.Equal(t, int64(80), c.UsedBytes())
}

func TestGetRefreshesRecency(t *testing.T) {
	c := cache.New(100)

	c.Put("a", entryOfSize(40))
	c.Put("b", entryOfSize(40))

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", entryOfSize(40))

	_, ok = c.Get("a")
	require.True(t, ok, "recently read entry should survive eviction")
	_, ok = c.Get("b")
	require.False(t, ok)
}

func TestOversizedEntryNotAdmitted(t *testing.T) {
	c := cache.New(100)

	c.Put("huge", entryOfSize(101))

	_, ok := c.Get("huge")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
	require.Zero(t, c.UsedBytes())
}

func TestReplaceAdjustsUsedBytes(t *testing.T) {
	c := cache.New(100)

	c.Put("a", entryOfSize(60))
	c.Put("a", entryOfSize(20))

	require.Equal(t, 1, c.Len())
	require.Equal(t, int64(20), c.UsedBytes())

	c.Put("a", entryOfSize(90))
	require.Equal(t, int64(90), c.UsedBytes())
}

func TestEvictionTieBreakPrefersLargest(t *testing.T) {
	frozen := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	c := cache.New(100, cache.WithClock(func() time.Time { return frozen }))

	c.Put("small-1", entryOfSize(10))
	c.Put("large", entryOfSize(60))
	c.Put("small-2", entryOfSize(10))

	// All three share one access time, so the largest goes first.
	c.Put("new", entryOfSize(40))

	_, ok := c.Get("large")
	require.False(t, ok, "largest of the equally old entries should be evicted first")

	_, ok = c.Get("small-1")
	require.True(t, ok)
	_, ok = c.Get("small-2")
	require.True(t, ok)
	_, ok = c.Get("new")
	require.True(t, ok)
}

func TestClear(t *testing.T) {
	c := cache.New(100)

	c.Put("a", entryOfSize(40))
	c.Put("b", entryOfSize(40))
	c.Clear()

	require.Equal(t, 0, c.Len())
	require.Zero(t, c.UsedBytes())

	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestGetOrComputeCachesResult(t *testing.T) {
	c := cache.New(1024)

	var calls atomic.Int64
	compute := func(ctx context.Context) (*cache.Entry, error) {
		calls.Add(1)
		return entryOfSize(10), nil
	}

	first, err := c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)

	second, err := c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.EqualValues(t, 1, calls.Load())
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	c := cache.New(1 << 20)

	var calls atomic.Int64
	release := make(chan struct{})
	compute := func(ctx context.Context) (*cache.Entry, error) {
		calls.Add(1)
		<-release
		return entryOfSize(64), nil
	}

	const waiters = 20

	var wg sync.WaitGroup
	results := make([]*cache.Entry, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := c.GetOrCompute(context.Background(), "shared", compute)
			require.NoError(t, err)
			results[i] = entry
		}(i)
	}

	// Give every goroutine time to join the in-flight computation.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load(), "concurrent misses for one key must share a single computation")
	for i := 1; i < waiters; i++ {
		require.Same(t, results[0], results[i])
	}
}

func TestGetOrComputeFailureNotCached(t *testing.T) {
	c := cache.New(1024)

	boom := errors.New("decoder exploded")

	var calls atomic.Int64
	_, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (*cache.Entry, error) {
		calls.Add(1)
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, c.Len())

	entry, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (*cache.Entry, error) {
		calls.Add(1)
		return entryOfSize(10), nil
	})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.EqualValues(t, 2, calls.Load(), "a failed computation must be retried by the next caller")
}

func TestGetOrComputeCallerCancellation(t *testing.T) {
	c := cache.New(1024)

	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (*cache.Entry, error) {
		close(started)
		select {
		case <-release:
			return entryOfSize(10), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctx, "k", compute)
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	// The computation keeps running detached from the cancelled caller
	// and its result is still published for everyone else.
	close(release)
	require.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return ok
	}, time.Second, 5*time.Millisecond, "abandoned computation should still publish its entry")
}
