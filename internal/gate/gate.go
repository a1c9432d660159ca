package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrSaturated is returned when no transcode slot frees up within the
// wait budget. Callers translate it into backpressure toward the
// client instead of queueing without bound.
var ErrSaturated = errors.New("transcoder saturated")

// Gate bounds the number of concurrently running transcodes. Requests
// beyond the limit wait briefly for a slot; once the wait budget is
// spent they fail fast with ErrSaturated.
type Gate struct {
	sem         *semaphore.Weighted
	waitTimeout time.Duration
	limit       int64
	inFlight    atomic.Int64
}

// New creates a gate admitting at most limit concurrent holders.
// A waitTimeout of zero means callers wait until their own context
// expires.
func New(limit int64, waitTimeout time.Duration) *Gate {
	return &Gate{
		sem:         semaphore.NewWeighted(limit),
		waitTimeout: waitTimeout,
		limit:       limit,
	}
}

// Acquire obtains a transcode slot and returns its release func, which
// is safe to call more than once. A caller whose own ctx ends while
// waiting gets that ctx error; a caller that merely outwaits the
// budget gets ErrSaturated.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	waitCtx := ctx
	if g.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.waitTimeout)
		defer cancel()
	}

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrSaturated
	}

	g.inFlight.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		})
	}

	return release, nil
}

func (g *Gate) Limit() int64 {
	return g.limit
}

func (g *Gate) InFlight() int64 {
	return g.inFlight.Load()
}
