package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

// Entry is one encoded rendition. Entries are immutable once published:
// all concurrent readers of a hit share the same bytes, and the cache
// only ever replaces or evicts whole entries.
type Entry struct {
	Data        []byte
	ContentType string
}

func (e *Entry) Size() int64 {
	return int64(len(e.Data))
}

type item struct {
	key        string
	entry      *Entry
	lastAccess time.Time
}

// Cache is an in-memory LRU bounded by a total byte budget rather than
// an entry count, so large renditions weigh proportionally more.
// Lookups for the same key are deduplicated: GetOrCompute runs at most
// one computation per key at any instant.
type Cache struct {
	mu         sync.Mutex
	limitBytes int64
	usedBytes  int64
	items      map[string]*list.Element
	lruList    *list.List // front is most recently used
	now        func() time.Time

	flight singleflight.Group
}

type Option func(*Cache)

// WithClock overrides the time source used for recency bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache holding at most limitBytes of encoded output.
func New(limitBytes int64, opts ...Option) *Cache {
	c := &Cache{
		limitBytes: limitBytes,
		items:      make(map[string]*list.Element),
		lruList:    list.New(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	it := elem.Value.(*item)
	it.lastAccess = c.now()
	c.lruList.MoveToFront(elem)

	return it.entry, true
}

func (c *Cache) Put(key string, entry *Entry) {
	// An entry larger than the whole budget is never admitted; the
	// caller still serves it, it just stays uncached.
	if entry.Size() > c.limitBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		it := elem.Value.(*item)
		c.usedBytes += entry.Size() - it.entry.Size()
		it.entry = entry
		it.lastAccess = c.now()
		c.lruList.MoveToFront(elem)
		c.evict(0)
		return
	}

	c.evict(entry.Size())

	elem := c.lruList.PushFront(&item{
		key:        key,
		entry:      entry,
		lastAccess: c.now(),
	})
	c.items[key] = elem
	c.usedBytes += entry.Size()
}

// evict removes entries until needBytes more fit within the budget.
// Caller must hold c.mu.
func (c *Cache) evict(needBytes int64) {
	for c.usedBytes+needBytes > c.limitBytes && c.lruList.Len() > 0 {
		victim := c.evictionCandidate()
		it := victim.Value.(*item)

		delete(c.items, it.key)
		c.lruList.Remove(victim)
		c.usedBytes -= it.entry.Size()
	}
}

// evictionCandidate picks the least recently used entry. When several
// tail entries share the same access time the largest one goes first,
// freeing the most capacity per eviction. Caller must hold c.mu.
func (c *Cache) evictionCandidate() *list.Element {
	oldest := c.lruList.Back()
	oldestAccess := oldest.Value.(*item).lastAccess

	tied := []*list.Element{oldest}
	for prev := oldest.Prev(); prev != nil; prev = prev.Prev() {
		if !prev.Value.(*item).lastAccess.Equal(oldestAccess) {
			break
		}
		tied = append(tied, prev)
	}

	return lo.MaxBy(tied, func(a *list.Element, b *list.Element) bool {
		return a.Value.(*item).entry.Size() > b.Value.(*item).entry.Size()
	})
}

// GetOrCompute returns the cached entry for key, or runs compute to
// produce and publish it. Concurrent calls with an equal key observe
// exactly one computation and all receive its entry or its error;
// failures are never cached, so the next caller retries from scratch.
// The computation is detached from the initiating caller: a caller
// abandoning its ctx stops waiting but does not cancel the work other
// waiters depend on.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) (*Entry, error)) (*Entry, error) {
	if entry, ok := c.Get(key); ok {
		return entry, nil
	}

	resultChan := c.flight.DoChan(key, func() (interface{}, error) {
		// Re-check after winning the flight: a previous flight for
		// this key may have published while we queued.
		if entry, ok := c.Get(key); ok {
			return entry, nil
		}

		entry, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.Put(key, entry)
		return entry, nil
	})

	select {
	case result := <-resultChan:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.usedBytes
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lruList.Len()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lruList = list.New()
	c.usedBytes = 0
}
