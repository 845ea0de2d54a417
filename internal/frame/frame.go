// Package frame builds the per-predictor rank tables consumed by staging
// and splitting. A Frame is constructed once per training session from the
// raw observation columns and is immutable thereafter; all trees share it.
package frame

import (
	"context"
	"sort"

	"github.com/decision-forest/pkg/errors"
	"github.com/decision-forest/pkg/parallel"
)

// NoRank is the reserved rank value, never assigned to an observation.
const NoRank = -1

// Frame holds rank-ordered, tie-aware codes for every predictor.
//
// For each predictor the frame records a dense rank per row and the inverse
// permutation r2r, ordered so that a scan of r2r yields ranks in
// nondecreasing order with ties contiguous. Numeric predictors additionally
// retain one representative value per rank for cut interpolation; factor
// predictors use rank == code.
type Frame struct {
	nRow     int
	nPredNum int
	nPredFac int

	cardinality []int // per predictor; 0 => numeric

	rank      [][]int // per predictor: row -> rank
	r2r       [][]int // per predictor: sorted position -> row
	rankCount []int   // distinct ranks per predictor

	rankVal [][]float64 // numeric predictors: rank -> value; nil for factors

	denseRank  []int // implicit rank, or NoRank
	denseCount []int // rows at the implicit rank
}

// Options configures frame construction.
type Options struct {
	// DenseThreshold marks a rank implicit when it covers at least this
	// fraction of rows. Values above 1.0 disable the optimization.
	DenseThreshold float64
	// Workers bounds presort parallelism.
	Workers parallel.PoolConfig
}

// DefaultOptions returns construction defaults: dense optimization off,
// runtime worker cap.
func DefaultOptions() Options {
	return Options{
		DenseThreshold: 2.0,
		Workers:        parallel.DefaultPoolConfig(),
	}
}

// New presorts the observation columns into a Frame. Numeric predictors
// occupy indices [0, len(numBlock)); factor predictors follow, with
// facCard[i] giving the cardinality of factor column i.
func New(numBlock [][]float64, facBlock [][]int, facCard []int, opts Options) (*Frame, error) {
	nPredNum := len(numBlock)
	nPredFac := len(facBlock)
	nPred := nPredNum + nPredFac
	if nPred == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "no predictors")
	}
	if len(facCard) != nPredFac {
		return nil, errors.Newf(errors.CodeInvalidInput, "cardinality count %d does not match factor count %d", len(facCard), nPredFac)
	}

	nRow := 0
	if nPredNum > 0 {
		nRow = len(numBlock[0])
	} else {
		nRow = len(facBlock[0])
	}
	if nRow == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "no rows")
	}
	for _, col := range numBlock {
		if len(col) != nRow {
			return nil, errors.New(errors.CodeInvalidInput, "ragged numeric block")
		}
	}
	for i, col := range facBlock {
		if len(col) != nRow {
			return nil, errors.New(errors.CodeInvalidInput, "ragged factor block")
		}
		for _, code := range col {
			if code < 0 || code >= facCard[i] {
				return nil, errors.Newf(errors.CodeInvalidInput, "factor code %d outside cardinality %d", code, facCard[i])
			}
		}
	}

	f := &Frame{
		nRow:        nRow,
		nPredNum:    nPredNum,
		nPredFac:    nPredFac,
		cardinality: make([]int, nPred),
		rank:        make([][]int, nPred),
		r2r:         make([][]int, nPred),
		rankCount:   make([]int, nPred),
		rankVal:     make([][]float64, nPred),
		denseRank:   make([]int, nPred),
		denseCount:  make([]int, nPred),
	}
	for i := 0; i < nPredFac; i++ {
		f.cardinality[nPredNum+i] = facCard[i]
	}

	// Predictors presort independently.
	_ = parallel.For(context.Background(), opts.Workers, nPred, func(pred int) {
		if pred < nPredNum {
			f.presortNum(pred, numBlock[pred])
		} else {
			f.presortFac(pred, facBlock[pred-nPredNum], facCard[pred-nPredNum])
		}
		f.markDense(pred, opts.DenseThreshold)
	})

	return f, nil
}

// presortNum sorts one numeric column and assigns dense tie-aware ranks.
func (f *Frame) presortNum(pred int, col []float64) {
	r2r := make([]int, f.nRow)
	for i := range r2r {
		r2r[i] = i
	}
	sort.SliceStable(r2r, func(a, b int) bool {
		return col[r2r[a]] < col[r2r[b]]
	})

	rank := make([]int, f.nRow)
	var vals []float64
	cur := -1
	for i, row := range r2r {
		// The current rank persists across equal-valued neighbors.
		if i == 0 || col[row] != col[r2r[i-1]] {
			cur++
			vals = append(vals, col[row])
		}
		rank[row] = cur
	}

	f.rank[pred] = rank
	f.r2r[pred] = r2r
	f.rankCount[pred] = cur + 1
	f.rankVal[pred] = vals
}

// presortFac counting-sorts one factor column; rank == code.
func (f *Frame) presortFac(pred int, col []int, card int) {
	counts := make([]int, card+1)
	for _, code := range col {
		counts[code+1]++
	}
	for c := 1; c <= card; c++ {
		counts[c] += counts[c-1]
	}

	r2r := make([]int, f.nRow)
	for row, code := range col {
		r2r[counts[code]] = row
		counts[code]++
	}

	rank := make([]int, f.nRow)
	copy(rank, col)

	f.rank[pred] = rank
	f.r2r[pred] = r2r
	f.rankCount[pred] = card
}

// markDense marks the most populous rank implicit if it covers at least
// threshold * nRow rows.
func (f *Frame) markDense(pred int, threshold float64) {
	f.denseRank[pred] = NoRank
	if threshold > 1.0 {
		return
	}

	counts := make([]int, f.rankCount[pred])
	for _, rk := range f.rank[pred] {
		counts[rk]++
	}
	argMax, max := NoRank, 0
	for rk, n := range counts {
		if n > max {
			argMax, max = rk, n
		}
	}
	if float64(max) >= threshold*float64(f.nRow) {
		f.denseRank[pred] = argMax
		f.denseCount[pred] = max
	}
}

// NRow returns the number of rows.
func (f *Frame) NRow() int { return f.nRow }

// NPred returns the total predictor count.
func (f *Frame) NPred() int { return f.nPredNum + f.nPredFac }

// NPredNum returns the numeric predictor count.
func (f *Frame) NPredNum() int { return f.nPredNum }

// NPredFac returns the factor predictor count.
func (f *Frame) NPredFac() int { return f.nPredFac }

// IsFactor reports whether the predictor is a factor.
func (f *Frame) IsFactor(pred int) bool { return pred >= f.nPredNum }

// Cardinality returns the factor cardinality, or 0 for numeric predictors.
func (f *Frame) Cardinality(pred int) int { return f.cardinality[pred] }

// Cardinalities returns the per-predictor cardinality vector.
func (f *Frame) Cardinalities() []int { return f.cardinality }

// Rank returns the dense rank of a row along a predictor.
func (f *Frame) Rank(pred, row int) int { return f.rank[pred][row] }

// RankCount returns the number of distinct ranks for a predictor.
func (f *Frame) RankCount(pred int) int { return f.rankCount[pred] }

// R2R returns the rank-ordered row permutation for a predictor.
func (f *Frame) R2R(pred int) []int { return f.r2r[pred] }

// DenseRank returns the predictor's implicit rank, or NoRank.
func (f *Frame) DenseRank(pred int) int { return f.denseRank[pred] }

// DenseCount returns the number of rows at the predictor's implicit rank.
func (f *Frame) DenseCount(pred int) int { return f.denseCount[pred] }

// SplitValue interpolates the cut value between two adjacent split ranks of
// a numeric predictor. quant is the per-predictor interpolation fraction in
// [0, 1]; 0.5 yields the midpoint. The interpolation choice is part of the
// forest's serialization contract: predictions reproduce only if the same
// quantile is used when the forest is rebuilt.
func (f *Frame) SplitValue(pred, rankLH, rankRH int, quant float64) float64 {
	vals := f.rankVal[pred]
	vLow := vals[rankLH]
	vHigh := vals[rankRH]
	return vLow + quant*(vHigh-vLow)
}

// RankValue returns the representative value at a numeric predictor's rank.
func (f *Frame) RankValue(pred, rk int) float64 { return f.rankVal[pred][rk] }
