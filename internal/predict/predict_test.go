package predict

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decision-forest/internal/forest"
	"github.com/decision-forest/internal/leaf"
	"github.com/decision-forest/pkg/parallel"
)

// stumpModel builds two numeric stumps on x0 <= 1.5: scores 10/20 and
// 12/22. Rows 0,1 bagged by tree 0; rows 2,3 by tree 1.
func stumpModel() *forest.Model {
	f := forest.New(4, 1, 0, 0, []int{0})
	f.AppendTree(&forest.Tree{
		Pred:     []int32{0, 0, 0},
		Split:    []float64{1.5, 0, 0},
		Score:    []float64{0, 10, 20},
		Bump:     []int32{1, 0, 0},
		BagWords: []uint64{0b0011},
		PredInfo: []float64{1},
	})
	f.AppendTree(&forest.Tree{
		Pred:     []int32{0, 0, 0},
		Split:    []float64{1.5, 0, 0},
		Score:    []float64{0, 12, 22},
		Bump:     []int32{1, 0, 0},
		BagWords: []uint64{0b1100},
		PredInfo: []float64{1},
	})
	return &forest.Model{Forest: f}
}

func workers() parallel.PoolConfig { return parallel.DefaultPoolConfig() }

func TestNewBlock_Validation(t *testing.T) {
	m := stumpModel()

	_, err := NewBlock(m.Forest, nil, nil)
	assert.Error(t, err)

	_, err = NewBlock(m.Forest, [][]float64{{1, 2}}, nil)
	assert.Error(t, err, "too many numeric columns")

	b, err := NewBlock(m.Forest, [][]float64{{1}, {2}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, b.NRow)
}

func TestRegression_MeanOverTrees(t *testing.T) {
	m := stumpModel()
	p := New(m, workers(), nil)

	block, err := NewBlock(m.Forest, [][]float64{{1.0}, {2.0}}, nil)
	require.NoError(t, err)
	scores, used, err := p.Regression(context.Background(), block, false)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2}, used)
	assert.InDelta(t, 11.0, scores[0], 1e-12)
	assert.InDelta(t, 21.0, scores[1], 1e-12)
}

func TestRegression_OOBSkipsBaggedTrees(t *testing.T) {
	m := stumpModel()
	p := New(m, workers(), nil)

	// Rows indexed against the training block: row 0 bagged by tree 0
	// only, so OOB prediction uses tree 1 alone.
	block, err := NewBlock(m.Forest, [][]float64{{1.0}, {1.0}, {1.0}, {1.0}}, nil)
	require.NoError(t, err)
	scores, used, err := p.Regression(context.Background(), block, true)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1, 1, 1}, used)
	assert.InDelta(t, 12.0, scores[0], 1e-12, "tree 0 bagged row 0")
	assert.InDelta(t, 10.0, scores[2], 1e-12, "tree 1 bagged row 2")
}

func TestRegression_AllBaggedSentinel(t *testing.T) {
	f := forest.New(1, 1, 0, 0, []int{0})
	f.AppendTree(&forest.Tree{
		Pred:     []int32{0},
		Split:    []float64{0},
		Score:    []float64{7},
		Bump:     []int32{0},
		BagWords: []uint64{0b1},
		PredInfo: []float64{0},
	})
	m := &forest.Model{Forest: f}
	p := New(m, workers(), nil)

	block, err := NewBlock(f, [][]float64{{1}}, nil)
	require.NoError(t, err)
	scores, used, err := p.Regression(context.Background(), block, true)
	require.NoError(t, err)
	assert.Equal(t, 0, used[0])
	assert.True(t, math.IsNaN(scores[0]))
}

func TestClassification_VotesAndJitterTieBreak(t *testing.T) {
	// Two single-leaf trees voting different categories; the leaf with
	// higher category probability (larger jitter) wins the tie.
	f := forest.New(2, 1, 0, 2, []int{0})
	f.AppendTree(&forest.Tree{
		Pred: []int32{0}, Split: []float64{0},
		Score: []float64{0 + 0.15}, // category 0, moderate confidence
		Bump:  []int32{0}, BagWords: []uint64{0}, PredInfo: []float64{0},
	})
	f.AppendTree(&forest.Tree{
		Pred: []int32{0}, Split: []float64{0},
		Score: []float64{1 + 0.25}, // category 1, full confidence
		Bump:  []int32{0}, BagWords: []uint64{0}, PredInfo: []float64{0},
	})
	m := &forest.Model{Forest: f}
	p := New(m, workers(), nil)

	block, err := NewBlock(f, [][]float64{{1}}, nil)
	require.NoError(t, err)
	yPred, census, err := p.Classification(context.Background(), block, false)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1}, census[0], "one whole vote per tree")
	assert.Equal(t, 1, yPred[0], "jitter breaks the tie toward the confident leaf")
}

func TestQuantiles_PoolsLeafRanks(t *testing.T) {
	f := forest.New(4, 1, 0, 0, []int{0})
	f.AppendTree(&forest.Tree{
		Pred:     []int32{0, 0, 0},
		Split:    []float64{1.5, 0, 0},
		Score:    []float64{0, 1.5, 3.5},
		Bump:     []int32{1, 0, 0},
		BagWords: []uint64{0b1111},
		PredInfo: []float64{1},
	})
	leaves := leaf.NewSet([]float64{1, 2, 3, 4})
	leaves.AppendTree(&leaf.TreeLeaves{
		Rank:       []int32{0, 1, 2, 3},
		RankCount:  []int32{1, 1, 1, 1},
		LeafPos:    []int32{-1, 0, 2},
		LeafExtent: []int32{0, 2, 2},
	})
	m := &forest.Model{Forest: f, Leaves: leaves}
	p := New(m, workers(), nil)

	block, err := NewBlock(f, [][]float64{{1.0}, {2.0}}, nil)
	require.NoError(t, err)
	quants, err := p.Quantiles(context.Background(), block, []float64{0.5, 1.0}, false)
	require.NoError(t, err)

	// True-branch leaf holds ranks {0,1}: median 1, max 2.
	assert.Equal(t, 1.0, quants[0][0])
	assert.Equal(t, 2.0, quants[0][1])
	// False-branch leaf holds ranks {2,3}.
	assert.Equal(t, 3.0, quants[1][0])
	assert.Equal(t, 4.0, quants[1][1])
}

func TestQuantiles_RequiresLeafState(t *testing.T) {
	m := stumpModel()
	p := New(m, workers(), nil)
	block, err := NewBlock(m.Forest, [][]float64{{1}}, nil)
	require.NoError(t, err)

	_, err = p.Quantiles(context.Background(), block, []float64{0.5}, false)
	assert.Error(t, err)

	m2 := &forest.Model{Forest: m.Forest, Leaves: leaf.NewSet(nil)}
	_, err = New(m2, workers(), nil).Quantiles(context.Background(), block, []float64{1.5}, false)
	assert.Error(t, err, "quantile outside [0,1]")
}
