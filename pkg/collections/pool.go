package collections

import (
	"sync"
)

// SlicePool is a generic pool for slices of any type. The per-level scratch
// tables — factor-run slots in the splitting engine, branch marks in the
// frontier — are recycled through one of these: a level reclaims a buffer
// already grown to a prior level's high-water mark instead of re-allocating
// it, and growth beyond that mark happens by the usual append doubling.
type SlicePool[T any] struct {
	pool       sync.Pool
	initialCap int
}

// NewSlicePool creates a new slice pool with the given initial capacity.
func NewSlicePool[T any](initialCap int) *SlicePool[T] {
	if initialCap <= 0 {
		initialCap = 256
	}
	return &SlicePool[T]{
		initialCap: initialCap,
		pool: sync.Pool{
			New: func() interface{} {
				s := make([]T, 0, initialCap)
				return &s
			},
		},
	}
}

// Get gets a slice from the pool.
func (p *SlicePool[T]) Get() *[]T {
	return p.pool.Get().(*[]T)
}

// Put returns a slice to the pool after clearing it.
func (p *SlicePool[T]) Put(s *[]T) {
	*s = (*s)[:0]
	p.pool.Put(s)
}

// Grown returns a slice from the pool resized to length n.
func (p *SlicePool[T]) Grown(n int) *[]T {
	s := p.Get()
	if cap(*s) < n {
		*s = make([]T, n)
	} else {
		*s = (*s)[:n]
	}
	return s
}
