package train

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decision-forest/internal/forest"
	"github.com/decision-forest/internal/predict"
	"github.com/decision-forest/pkg/errors"
	"github.com/decision-forest/pkg/parallel"
)

func ctxBg() context.Context { return context.Background() }

func TestRegression_FourRowExact(t *testing.T) {
	x := [][]float64{{1, 2, 3, 4}}
	y := []float64{1, 2, 3, 4}

	cfg := Config{
		NTree:    1,
		NSamp:    4,
		MinNode:  1,
		PredProb: []float64{1.0},
		Seed:     1,
	}
	res, err := Regression(ctxBg(), x, nil, nil, y, cfg)
	require.NoError(t, err)

	f := res.Model.Forest
	require.Equal(t, 1, f.NTree)

	// Root cut at the midpoint between ranks 1 and 2.
	assert.Equal(t, int32(0), f.Pred[0])
	assert.Equal(t, 2.5, f.Split[0])
	assert.NotEqual(t, int32(0), f.Bump[0])
	assert.Greater(t, res.PredInfo[0], 0.0, "information strictly positive")

	// A full bag without replacement reproduces the response exactly.
	p := predict.New(res.Model, parallel.DefaultPoolConfig(), nil)
	block, err := predict.NewBlock(f, [][]float64{{1}, {2}, {3}, {4}}, nil)
	require.NoError(t, err)
	scores, used, err := p.Regression(ctxBg(), block, false)
	require.NoError(t, err)
	for i, want := range y {
		assert.Equal(t, 1, used[i])
		assert.InDelta(t, want, scores[i], 1e-12)
	}
}

func TestRegression_ConstantResponseSingleLeaf(t *testing.T) {
	x := [][]float64{{1, 2, 3, 4}, {4, 1, 3, 2}}
	y := []float64{5, 5, 5, 5}

	cfg := Config{NTree: 3, NSamp: 4, MinNode: 1, Seed: 2}
	res, err := Regression(ctxBg(), x, nil, nil, y, cfg)
	require.NoError(t, err)

	f := res.Model.Forest
	assert.Equal(t, 3, f.NTree)
	assert.Equal(t, 3, f.NodeCount(), "every tree is a single leaf")
	for _, bump := range f.Bump {
		assert.Equal(t, int32(0), bump)
	}
	for _, score := range f.Score {
		assert.Equal(t, 5.0, score)
	}
}

func TestClassification_BinaryFactorPerfect(t *testing.T) {
	codes := [][]int{{0, 0, 1, 1}}
	yCtg := []int{0, 0, 1, 1}

	cfg := Config{
		NTree:    1,
		NSamp:    4,
		MinNode:  1,
		PredProb: []float64{1.0},
		Seed:     3,
	}
	res, err := Classification(ctxBg(), nil, codes, []int{2}, yCtg, 2, cfg)
	require.NoError(t, err)

	f := res.Model.Forest
	assert.Equal(t, 3, f.NodeCount(), "one split; pure children delist")
	assert.InDelta(t, 2.0, res.PredInfo[0], 1e-12, "Gini gain of the perfect split")

	p := predict.New(res.Model, parallel.DefaultPoolConfig(), nil)
	block, err := predict.NewBlock(f, nil, [][]int{{0}, {1}})
	require.NoError(t, err)
	yPred, census, err := p.Classification(ctxBg(), block, false)
	require.NoError(t, err)
	assert.Equal(t, 0, yPred[0])
	assert.Equal(t, 1, yPred[1])
	assert.Equal(t, []int{1, 0}, census[0])
	assert.Equal(t, []int{0, 1}, census[1])
}

func TestRegression_MonotoneConstraint(t *testing.T) {
	x := [][]float64{{1, 2, 3, 4, 5, 6, 7, 8}}
	y := []float64{2, 1, 4, 3, 6, 5, 8, 7} // increasing overall, local dips

	cfg := Config{
		NTree:    5,
		NSamp:    8,
		MinNode:  1,
		PredProb: []float64{1.0},
		MonoSign: []int{+1},
		Seed:     4,
	}
	res, err := Regression(ctxBg(), x, nil, nil, y, cfg)
	require.NoError(t, err)

	// Every accepted split keeps the left mean at or below the right:
	// walking with increasing x never decreases the prediction.
	p := predict.New(res.Model, parallel.DefaultPoolConfig(), nil)
	var rows [][]float64
	for v := 0.5; v < 9; v += 0.5 {
		rows = append(rows, []float64{v})
	}
	block, err := predict.NewBlock(res.Model.Forest, rows, nil)
	require.NoError(t, err)
	scores, _, err := p.Regression(ctxBg(), block, false)
	require.NoError(t, err)
	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i]+1e-9, scores[i-1])
	}
}

func TestOOB_BaggedTreesSkipped(t *testing.T) {
	x := [][]float64{{1, 2, 3, 4, 5, 6, 7, 8}}
	y := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	cfg := Config{
		NTree:    6,
		NSamp:    4, // half the rows per tree: OOB rows guaranteed
		MinNode:  1,
		PredProb: []float64{1.0},
		Seed:     5,
	}
	res, err := Regression(ctxBg(), x, nil, nil, y, cfg)
	require.NoError(t, err)
	f := res.Model.Forest

	oobExists := false
	for tree := 0; tree < f.NTree; tree++ {
		for row := 0; row < 8; row++ {
			if !f.Bagged(tree, row) {
				oobExists = true
			}
		}
	}
	require.True(t, oobExists)

	p := predict.New(res.Model, parallel.DefaultPoolConfig(), nil)
	var rows [][]float64
	for _, v := range []float64{1, 2, 3, 4, 5, 6, 7, 8} {
		rows = append(rows, []float64{v})
	}
	block, err := predict.NewBlock(f, rows, nil)
	require.NoError(t, err)
	_, used, err := p.Regression(ctxBg(), block, true)
	require.NoError(t, err)

	for row := 0; row < 8; row++ {
		wantUsed := 0
		for tree := 0; tree < f.NTree; tree++ {
			if !f.Bagged(tree, row) {
				wantUsed++
			}
		}
		assert.Equal(t, wantUsed, used[row], "row %d", row)
	}
}

func TestQuantiles_MedianWithinAdjacentResponses(t *testing.T) {
	// Constant predictor: every tree is a single leaf holding the whole
	// bag, so the median estimate reads straight off the ranked response.
	x := [][]float64{{1, 1, 1, 1}}
	y := []float64{1, 2, 3, 4}

	cfg := Config{
		NTree:     4,
		NSamp:     4,
		MinNode:   1,
		Quantiles: true,
		Seed:      6,
	}
	res, err := Regression(ctxBg(), x, nil, nil, y, cfg)
	require.NoError(t, err)
	require.NotNil(t, res.Model.Leaves)
	assert.Equal(t, []float64{1, 2, 3, 4}, res.Model.Leaves.YRanked)

	p := predict.New(res.Model, parallel.DefaultPoolConfig(), nil)
	block, err := predict.NewBlock(res.Model.Forest, [][]float64{{1}}, nil)
	require.NoError(t, err)
	quants, err := p.Quantiles(ctxBg(), block, []float64{0.5}, false)
	require.NoError(t, err)

	q := quants[0][0]
	assert.GreaterOrEqual(t, q, 2.0, "median within adjacent training responses")
	assert.LessOrEqual(t, q, 3.0)
}

func TestRoundTrip_PredictionsBitExact(t *testing.T) {
	x := [][]float64{{1.5, 2.5, 3.5, 4.5, 5.5, 6.5}}
	codes := [][]int{{0, 1, 2, 0, 1, 2}}
	y := []float64{1, 4, 2, 8, 5, 7}

	cfg := Config{
		NTree:    4,
		NSamp:    6,
		MinNode:  1,
		PredProb: []float64{1.0, 1.0},
		WithReplacement: true,
		Seed:     7,
	}
	res, err := Regression(ctxBg(), x, codes, []int{3}, y, cfg)
	require.NoError(t, err)

	data, err := res.Model.Marshal()
	require.NoError(t, err)
	restored, err := forest.Unmarshal(data)
	require.NoError(t, err)

	f := res.Model.Forest
	for row := 0; row < 6; row++ {
		num := []float64{x[0][row]}
		fac := []int{codes[0][row]}
		for tree := 0; tree < f.NTree; tree++ {
			orig := f.Score[f.Walk(tree, num, fac)]
			rt := restored.Forest.Score[restored.Forest.Walk(tree, num, fac)]
			assert.Equal(t, orig, rt, "tree %d row %d", tree, row)
		}
	}
}

func TestTrain_ConfigErrors(t *testing.T) {
	x := [][]float64{{1, 2, 3, 4}}
	y := []float64{1, 2, 3, 4}

	_, err := Regression(ctxBg(), x, nil, nil, y, Config{NTree: 0})
	assert.True(t, errors.IsConfigError(err))

	_, err = Regression(ctxBg(), x, nil, nil, y, Config{NTree: 1, MaxDepth: -1})
	assert.True(t, errors.IsConfigError(err))

	_, err = Regression(ctxBg(), x, nil, nil, y, Config{NTree: 1, PredProb: []float64{1.5}})
	assert.True(t, errors.IsConfigError(err))

	_, err = Regression(ctxBg(), x, nil, nil, y, Config{NTree: 1, MinRatio: 2.0})
	assert.True(t, errors.IsConfigError(err))

	_, err = Regression(ctxBg(), x, nil, nil, []float64{1, 2}, Config{NTree: 1})
	assert.Error(t, err)

	_, err = Regression(ctxBg(), nil, nil, nil, nil, Config{NTree: 1})
	assert.Error(t, err, "zero predictors")
}

func TestTrain_EmptyBagSkipsTree(t *testing.T) {
	x := [][]float64{{1, 2, 3, 4}}
	y := []float64{1, 2, 3, 4}

	cfg := Config{
		NTree:        2,
		NSamp:        4,
		WithReplacement: true,
		SampleWeight: []float64{0, 0, 0, 0},
		Seed:         8,
	}
	_, err := Regression(ctxBg(), x, nil, nil, y, cfg)
	require.Error(t, err, "every tree skipped leaves nothing to train")
	assert.Equal(t, errors.CodeTrainError, errors.GetErrorCode(err))
}

func TestTrain_MaxDepthBoundsTree(t *testing.T) {
	x := [][]float64{{1, 2, 3, 4, 5, 6, 7, 8}}
	y := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	cfg := Config{
		NTree:    1,
		NSamp:    8,
		MinNode:  1,
		MaxDepth: 1,
		PredProb: []float64{1.0},
		Seed:     9,
	}
	res, err := Regression(ctxBg(), x, nil, nil, y, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Model.Forest.NodeCount(), "one root split only")
}

func TestTrain_DeterministicAcrossTreeBlocks(t *testing.T) {
	x := [][]float64{{3, 1, 4, 1, 5, 9, 2, 6}}
	y := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	base := Config{
		NTree:    6,
		NSamp:    8,
		WithReplacement: true,
		MinNode:  1,
		PredProb: []float64{1.0},
		Seed:     10,
	}
	serial := base
	serial.TreeBlock = 1
	parallelCfg := base
	parallelCfg.TreeBlock = 6

	r1, err := Regression(ctxBg(), x, nil, nil, y, serial)
	require.NoError(t, err)
	r2, err := Regression(ctxBg(), x, nil, nil, y, parallelCfg)
	require.NoError(t, err)

	assert.Equal(t, r1.Model.Forest.Pred, r2.Model.Forest.Pred)
	assert.Equal(t, r1.Model.Forest.Split, r2.Model.Forest.Split)
	assert.Equal(t, r1.Model.Forest.Score, r2.Model.Forest.Score)
	assert.Equal(t, r1.Model.Forest.BagBits, r2.Model.Forest.BagBits)
}

func TestImportance_SignalDominatesNoise(t *testing.T) {
	n := 40
	xSignal := make([]float64, n)
	xNoise := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		xSignal[i] = float64(i)
		xNoise[i] = float64((i*7+3)%n) - float64(n)/2
		y[i] = float64(i)
	}

	cfg := Config{
		NTree:    20,
		WithReplacement: true,
		MinNode:  2,
		PredProb: []float64{1.0, 1.0},
		Seed:     11,
	}
	res, err := Regression(ctxBg(), [][]float64{xSignal, xNoise}, nil, nil, y, cfg)
	require.NoError(t, err)

	p := predict.New(res.Model, parallel.DefaultPoolConfig(), nil)
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = []float64{xSignal[i], xNoise[i]}
	}
	block, err := predict.NewBlock(res.Model.Forest, rows, nil)
	require.NoError(t, err)

	imp, err := p.Importance(ctxBg(), block, y, rand.New(rand.NewSource(12)))
	require.NoError(t, err)
	assert.Greater(t, imp[0], imp[1], "shuffling the signal predictor hurts more")
	assert.False(t, math.IsNaN(imp[0]))
}
