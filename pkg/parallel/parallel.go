// Package parallel provides generic parallel processing utilities.
//
// The engine's concurrency model is coarse-grained parallel-for over
// independent units: per-predictor presort, per-candidate split evaluation
// within a level, and per-row prediction. Each parallel section runs on a
// single shared pool of workers; there are no suspension points inside a
// unit of work, and cancellation is observed only between units.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// PoolConfig configures parallel execution.
type PoolConfig struct {
	// MaxWorkers is the maximum number of concurrent workers.
	// Default: runtime.NumCPU(), clamped to [2, 8]
	MaxWorkers int
}

// DefaultPoolConfig returns a default pool configuration.
func DefaultPoolConfig() PoolConfig {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8 // Cap at 8 to avoid excessive overhead
	}
	if workers < 2 {
		workers = 2
	}
	return PoolConfig{MaxWorkers: workers}
}

// WithWorkers returns a new config with the specified number of workers.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	c.MaxWorkers = n
	return c
}

// For runs fn(i) for every i in [0, n) on cfg.MaxWorkers workers. It blocks
// until all indices complete or ctx is cancelled, returning the context
// error in the latter case. Work already dispatched finishes before return;
// indices not yet dispatched are skipped.
func For(ctx context.Context, cfg PoolConfig, n int, fn func(i int)) error {
	if n <= 0 {
		return nil
	}
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = DefaultPoolConfig().MaxWorkers
	}
	if workers > n {
		workers = n
	}

	var next int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				if ctx != nil && ctx.Err() != nil {
					return
				}
				i := int(atomic.AddInt64(&next, 1)) - 1
				if i >= n {
					return
				}
				fn(i)
			}
		}()
	}
	wg.Wait()

	if ctx != nil {
		return ctx.Err()
	}
	return nil
}

// Map runs fn(i) for every i in [0, n) and collects the results in order.
func Map[R any](ctx context.Context, cfg PoolConfig, n int, fn func(i int) R) ([]R, error) {
	out := make([]R, n)
	err := For(ctx, cfg, n, func(i int) {
		out[i] = fn(i)
	})
	return out, err
}

// Chunked runs fn(lo, hi) over contiguous index ranges covering [0, n),
// with roughly n/workers indices per chunk. Useful when per-index work is
// tiny and the dispatch overhead of For would dominate.
func Chunked(ctx context.Context, cfg PoolConfig, n int, fn func(lo, hi int)) error {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = DefaultPoolConfig().MaxWorkers
	}
	if workers > n {
		workers = n
	}
	if workers <= 0 {
		return nil
	}
	chunk := (n + workers - 1) / workers
	nChunk := (n + chunk - 1) / chunk
	return For(ctx, cfg, nChunk, func(c int) {
		lo := c * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		fn(lo, hi)
	})
}
