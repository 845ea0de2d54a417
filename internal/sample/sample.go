// Package sample materializes one weighted bag per tree: the drawn row
// multiset, its bitset, and the packed sample records staged into the
// observation partition.
package sample

import (
	"math/rand"
	"sort"

	"github.com/decision-forest/pkg/collections"
	"github.com/decision-forest/pkg/errors"
)

// Nux is one packed sample record: the weighted response contribution of a
// bagged row, its occurrence count in the bag and, for classification, the
// response category.
type Nux struct {
	YSum   float64
	SCount int
	Ctg    int
}

// Sampled is the per-tree bag. Destroyed when the tree is consumed.
type Sampled struct {
	Nux      []Nux // packed records, indexed by sample index
	SIdxRow  []int // row -> sample index; -1 if out-of-bag
	Bag      *collections.Bitset
	BagCount int
	NSamp    int

	Sum    float64   // weighted response total over the bag
	SCount int       // == NSamp
	CtgSum []float64 // per-category weighted totals; nil for regression

	// S2Rank maps sample index to the rank of the training response.
	// Regression only; consumed by quantile bookkeeping.
	S2Rank []int
}

// Rows draws nSamp row indices from [0, nRow), optionally weighted,
// with or without replacement. Weights need not be normalized; a weight
// vector summing to zero yields an EMPTY_BAG diagnostic and the tree is
// skipped by the caller.
func Rows(nRow, nSamp int, withRepl bool, weights []float64, rng *rand.Rand) ([]int, error) {
	if nSamp <= 0 {
		return nil, errors.New(errors.CodeInvalidInput, "nSamp must be positive")
	}
	if !withRepl && nSamp > nRow {
		return nil, errors.Newf(errors.CodeInvalidInput, "nSamp %d exceeds nRow %d without replacement", nSamp, nRow)
	}

	if weights == nil {
		return rowsUnweighted(nRow, nSamp, withRepl, rng), nil
	}
	return rowsWeighted(nRow, nSamp, withRepl, weights, rng)
}

func rowsUnweighted(nRow, nSamp int, withRepl bool, rng *rand.Rand) []int {
	out := make([]int, nSamp)
	if withRepl {
		for i := range out {
			out[i] = rng.Intn(nRow)
		}
		return out
	}

	// Partial Fisher-Yates for the without-replacement draw.
	perm := make([]int, nRow)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < nSamp; i++ {
		j := i + rng.Intn(nRow-i)
		perm[i], perm[j] = perm[j], perm[i]
		out[i] = perm[i]
	}
	return out
}

func rowsWeighted(nRow, nSamp int, withRepl bool, weights []float64, rng *rand.Rand) ([]int, error) {
	cum := make([]float64, nRow)
	total := 0.0
	for row, w := range weights {
		if w < 0 {
			return nil, errors.Newf(errors.CodeInvalidInput, "negative sample weight at row %d", row)
		}
		total += w
		cum[row] = total
	}
	if total <= 0 {
		return nil, errors.Wrap(errors.CodeEmptyBag, "sample weights sum to zero", nil)
	}

	out := make([]int, nSamp)
	if withRepl {
		for i := range out {
			out[i] = sort.SearchFloat64s(cum, rng.Float64()*total)
			if out[i] == nRow {
				out[i] = nRow - 1
			}
		}
		return out, nil
	}

	// Weighted draw without replacement: order rows by exponential keys
	// scaled inversely by weight and keep the first nSamp.
	h := collections.NewBHeap(nRow)
	live := 0
	for row, w := range weights {
		if w > 0 {
			h.Insert(row, rng.ExpFloat64()/w)
			live++
		}
	}
	if live < nSamp {
		return nil, errors.Newf(errors.CodeInvalidInput, "only %d rows carry positive weight; %d requested", live, nSamp)
	}
	order := h.Depopulate()
	copy(out, order[:nSamp])
	return out, nil
}

// Pack aggregates drawn rows into the per-tree bag. For classification pass
// yCtg and nCtg > 0; for regression pass y2Rank (the rank of each training
// response) to enable quantile bookkeeping, or nil to skip it.
func Pack(rows []int, y []float64, yCtg []int, nCtg int, y2Rank []int) *Sampled {
	nRow := len(y)
	sCountRow := make([]int, nRow)
	for _, row := range rows {
		sCountRow[row]++
	}

	s := &Sampled{
		SIdxRow: make([]int, nRow),
		Bag:     collections.NewBitset(nRow),
		NSamp:   len(rows),
	}
	if nCtg > 0 {
		s.CtgSum = make([]float64, nCtg)
	}

	idx := 0
	for row := 0; row < nRow; row++ {
		sCount := sCountRow[row]
		if sCount == 0 {
			s.SIdxRow[row] = -1
			continue
		}
		nux := Nux{
			YSum:   float64(sCount) * y[row],
			SCount: sCount,
		}
		if nCtg > 0 {
			nux.Ctg = yCtg[row]
			s.CtgSum[nux.Ctg] += nux.YSum
		}
		s.Nux = append(s.Nux, nux)
		s.SIdxRow[row] = idx
		s.Bag.Set(row)
		s.Sum += nux.YSum
		s.SCount += sCount
		if y2Rank != nil {
			s.S2Rank = append(s.S2Rank, y2Rank[row])
		}
		idx++
	}
	s.BagCount = idx
	return s
}

// ResponseRanks ranks the training responses ascending, ties broken by row.
// The result indexes the sorted response vector YRanked used by quantile
// estimation.
func ResponseRanks(y []float64) (y2Rank []int, yRanked []float64) {
	n := len(y)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return y[order[a]] < y[order[b]] })

	y2Rank = make([]int, n)
	yRanked = make([]float64, n)
	for rk, row := range order {
		y2Rank[row] = rk
		yRanked[rk] = y[row]
	}
	return y2Rank, yRanked
}
