package collections

import "math/rand"

// ============================================================================
// BHeap - binary min-heap over (key, slot) pairs
// ============================================================================

// BHPair is a heap element: a float64 comparator key plus the index of the
// slot it orders.
type BHPair struct {
	Key  float64
	Slot int
}

// BHeap is a simple binary min-heap used wherever the engine needs slots
// ordered by a scalar key: factor runs by mean response, fixed-count
// predictor selection, and column permutation. Insert is O(log n);
// Depopulate pops the whole heap in ascending key order.
type BHeap struct {
	pairs []BHPair
}

// NewBHeap creates a heap with capacity for n pairs.
func NewBHeap(n int) *BHeap {
	return &BHeap{pairs: make([]BHPair, 0, n)}
}

// Insert pushes a (key, slot) pair onto the heap.
func (h *BHeap) Insert(slot int, key float64) {
	h.pairs = append(h.pairs, BHPair{Key: key, Slot: slot})
	idx := len(h.pairs) - 1
	for idx > 0 {
		par := (idx - 1) / 2
		if h.pairs[par].Key <= h.pairs[idx].Key {
			break
		}
		h.pairs[par], h.pairs[idx] = h.pairs[idx], h.pairs[par]
		idx = par
	}
}

// Len returns the number of pairs currently on the heap.
func (h *BHeap) Len() int {
	return len(h.pairs)
}

// Pop removes and returns the slot with the minimum key.
func (h *BHeap) Pop() int {
	slot := h.pairs[0].Slot
	last := len(h.pairs) - 1
	h.pairs[0] = h.pairs[last]
	h.pairs = h.pairs[:last]

	idx := 0
	for {
		descL := 2*idx + 1
		descR := 2*idx + 2
		min := idx
		if descL < last && h.pairs[descL].Key < h.pairs[min].Key {
			min = descL
		}
		if descR < last && h.pairs[descR].Key < h.pairs[min].Key {
			min = descR
		}
		if min == idx {
			break
		}
		h.pairs[idx], h.pairs[min] = h.pairs[min], h.pairs[idx]
		idx = min
	}
	return slot
}

// Depopulate pops all pairs, returning slot indices in ascending key order.
func (h *BHeap) Depopulate() []int {
	out := make([]int, 0, len(h.pairs))
	for len(h.pairs) > 0 {
		out = append(out, h.Pop())
	}
	return out
}

// HeapPermute returns a uniform random permutation of [0, n) by heap-sorting
// n uniform variates. Column shuffles during permutation importance use this
// so that a permutation is a pure function of the supplied variate stream.
func HeapPermute(n int, rng *rand.Rand) []int {
	h := NewBHeap(n)
	for slot := 0; slot < n; slot++ {
		h.Insert(slot, rng.Float64())
	}
	return h.Depopulate()
}
