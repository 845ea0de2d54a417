// Package predict walks packed trees over row blocks. Scoring policy
// stays with the caller-visible helpers here; the per-row tree walk
// itself is forest.Walk.
package predict

import (
	"context"
	"math"
	"math/rand"

	"github.com/decision-forest/internal/forest"
	"github.com/decision-forest/pkg/collections"
	"github.com/decision-forest/pkg/errors"
	"github.com/decision-forest/pkg/parallel"
	"github.com/decision-forest/pkg/utils"
)

// NoPrediction is the sentinel score for a row no tree could vote on
// (every tree bagged it under OOB restriction).
var NoPrediction = math.NaN()

// Block is a row-major block of observations split into numeric and factor
// sub-matrices, mirroring the training frame's predictor index space.
type Block struct {
	Num  [][]float64
	Fac  [][]int
	NRow int
}

// NewBlock validates shape against the model and wraps the matrices.
func NewBlock(f *forest.Forest, num [][]float64, fac [][]int) (*Block, error) {
	nRow := len(num)
	if nRow == 0 {
		nRow = len(fac)
	}
	if nRow == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "empty prediction block")
	}
	if f.NPredNum > 0 && (len(num) != nRow || len(num[0]) != f.NPredNum) {
		return nil, errors.Newf(errors.CodePredictError, "numeric block shape mismatch: want %d columns", f.NPredNum)
	}
	if f.NPredFac > 0 && (len(fac) != nRow || len(fac[0]) != f.NPredFac) {
		return nil, errors.Newf(errors.CodePredictError, "factor block shape mismatch: want %d columns", f.NPredFac)
	}
	return &Block{Num: num, Fac: fac, NRow: nRow}, nil
}

func (b *Block) row(i int) ([]float64, []int) {
	var num []float64
	var fac []int
	if b.Num != nil {
		num = b.Num[i]
	}
	if b.Fac != nil {
		fac = b.Fac[i]
	}
	return num, fac
}

// Predictor evaluates a model over row blocks.
type Predictor struct {
	model   *forest.Model
	workers parallel.PoolConfig
	logger  utils.Logger
}

// New creates a predictor. A nil logger silences diagnostics.
func New(model *forest.Model, workers parallel.PoolConfig, logger utils.Logger) *Predictor {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Predictor{model: model, workers: workers, logger: logger}
}

// warnUnseen logs once per call when factor codes outside the training
// cardinality appear; such codes route to the false branch.
func (p *Predictor) warnUnseen(b *Block) {
	f := p.model.Forest
	if b.Fac == nil {
		return
	}
	for i := 0; i < b.NRow; i++ {
		for j, code := range b.Fac[i] {
			if code < 0 || code >= int(f.Cardinality[f.NPredNum+j]) {
				p.logger.Warn("factor code %d unseen in training for predictor %d; routing to false branch", code, f.NPredNum+j)
				return
			}
		}
	}
}

// Regression predicts mean scores per row. With oob set, trees bagging a
// row are skipped; rows indexed against the training block. The returned
// counts give the number of trees contributing to each row; a row with no
// contributing tree scores NoPrediction.
func (p *Predictor) Regression(ctx context.Context, b *Block, oob bool) ([]float64, []int, error) {
	f := p.model.Forest
	p.warnUnseen(b)

	scores := make([]float64, b.NRow)
	used := make([]int, b.NRow)
	err := parallel.For(ctx, p.workers, b.NRow, func(row int) {
		num, fac := b.row(row)
		total := 0.0
		n := 0
		for tree := 0; tree < f.NTree; tree++ {
			if oob && f.Bagged(tree, row) {
				continue
			}
			total += f.Score[f.Walk(tree, num, fac)]
			n++
		}
		used[row] = n
		if n == 0 {
			scores[row] = NoPrediction
			return
		}
		scores[row] = total / float64(n)
	})
	return scores, used, err
}

// Classification predicts the argmax category per row along with the
// per-category vote census. Fractional leaf jitter breaks census ties
// toward higher-confidence leaves; reported votes are whole tree counts.
func (p *Predictor) Classification(ctx context.Context, b *Block, oob bool) ([]int, [][]int, error) {
	f := p.model.Forest
	p.warnUnseen(b)

	yPred := make([]int, b.NRow)
	census := make([][]int, b.NRow)
	err := parallel.For(ctx, p.workers, b.NRow, func(row int) {
		num, fac := b.row(row)
		weights := make([]float64, f.NCtg)
		counts := make([]int, f.NCtg)
		n := 0
		for tree := 0; tree < f.NTree; tree++ {
			if oob && f.Bagged(tree, row) {
				continue
			}
			score := f.Score[f.Walk(tree, num, fac)]
			ctg := int(score)
			weights[ctg] += 1 + (score - float64(ctg))
			counts[ctg]++
			n++
		}
		census[row] = counts
		if n == 0 {
			yPred[row] = -1
			return
		}
		argMax := 0
		for ctg := 1; ctg < f.NCtg; ctg++ {
			if weights[ctg] > weights[argMax] {
				argMax = ctg
			}
		}
		yPred[row] = argMax
	})
	return yPred, census, err
}

// Quantiles estimates the requested response quantiles per row by pooling
// the rank multisets of every leaf the row reaches.
func (p *Predictor) Quantiles(ctx context.Context, b *Block, qVec []float64, oob bool) ([][]float64, error) {
	f := p.model.Forest
	leaves := p.model.Leaves
	if leaves == nil {
		return nil, errors.New(errors.CodePredictError, "model carries no quantile state")
	}
	for _, q := range qVec {
		if q < 0 || q > 1 {
			return nil, errors.Newf(errors.CodeInvalidInput, "quantile %g outside [0,1]", q)
		}
	}
	p.warnUnseen(b)

	nRank := len(leaves.YRanked)
	out := make([][]float64, b.NRow)
	err := parallel.For(ctx, p.workers, b.NRow, func(row int) {
		num, fac := b.row(row)
		rankCount := make([]int, nRank)
		total := 0
		for tree := 0; tree < f.NTree; tree++ {
			if oob && f.Bagged(tree, row) {
				continue
			}
			nodeOff := f.Walk(tree, num, fac)
			leaves.LeafSamples(tree, nodeOff, func(rank, count int) {
				rankCount[rank] += count
				total += count
			})
		}

		qRow := make([]float64, len(qVec))
		if total == 0 {
			for i := range qRow {
				qRow[i] = NoPrediction
			}
			out[row] = qRow
			return
		}
		for i, q := range qVec {
			threshold := q * float64(total)
			seen := 0
			for rank := 0; rank < nRank; rank++ {
				seen += rankCount[rank]
				if float64(seen) >= threshold {
					qRow[i] = leaves.YRanked[rank]
					break
				}
			}
		}
		out[row] = qRow
	})
	return out, err
}

// Importance reports per-predictor permutation importance for regression:
// the increase in out-of-bag mean squared error after shuffling each
// predictor's column in turn.
func (p *Predictor) Importance(ctx context.Context, b *Block, y []float64, rng *rand.Rand) ([]float64, error) {
	f := p.model.Forest
	if len(y) != b.NRow {
		return nil, errors.New(errors.CodeInvalidInput, "response length mismatch")
	}

	baseline, _, err := p.Regression(ctx, b, true)
	if err != nil {
		return nil, err
	}
	baseSSE := sse(baseline, y)

	out := make([]float64, f.NPred())
	for pred := 0; pred < f.NPred(); pred++ {
		perm := collections.HeapPermute(b.NRow, rng)
		shuffled := shuffleBlock(b, pred, f.NPredNum, perm)
		scores, _, err := p.Regression(ctx, shuffled, true)
		if err != nil {
			return nil, err
		}
		out[pred] = sse(scores, y) - baseSSE
	}
	return out, nil
}

func sse(scores, y []float64) float64 {
	total := 0.0
	n := 0
	for i, s := range scores {
		if math.IsNaN(s) {
			continue
		}
		d := s - y[i]
		total += d * d
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// shuffleBlock clones the block with one predictor's column permuted.
func shuffleBlock(b *Block, pred, nPredNum int, perm []int) *Block {
	out := &Block{NRow: b.NRow}
	if b.Num != nil {
		out.Num = make([][]float64, b.NRow)
	}
	if b.Fac != nil {
		out.Fac = make([][]int, b.NRow)
	}
	for i := 0; i < b.NRow; i++ {
		if b.Num != nil {
			out.Num[i] = b.Num[i]
		}
		if b.Fac != nil {
			out.Fac[i] = b.Fac[i]
		}
	}
	if pred < nPredNum {
		for i := 0; i < b.NRow; i++ {
			row := append([]float64(nil), b.Num[i]...)
			row[pred] = b.Num[perm[i]][pred]
			out.Num[i] = row
		}
	} else {
		col := pred - nPredNum
		for i := 0; i < b.NRow; i++ {
			row := append([]int(nil), b.Fac[i]...)
			row[col] = b.Fac[perm[i]][col]
			out.Fac[i] = row
		}
	}
	return out
}
