package sample

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decision-forest/pkg/errors"
)

func TestRows_WithoutReplacement(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	rows, err := Rows(10, 10, false, nil, rng)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, r := range rows {
		assert.False(t, seen[r], "row %d drawn twice", r)
		seen[r] = true
	}
	assert.Len(t, seen, 10)
}

func TestRows_WithReplacementRange(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	rows, err := Rows(5, 50, true, nil, rng)
	require.NoError(t, err)
	require.Len(t, rows, 50)
	for _, r := range rows {
		assert.GreaterOrEqual(t, r, 0)
		assert.Less(t, r, 5)
	}
}

func TestRows_Validation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	_, err := Rows(10, 0, true, nil, rng)
	assert.Error(t, err)

	_, err = Rows(5, 6, false, nil, rng)
	assert.Error(t, err)
}

func TestRows_WeightedZeroSum(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	_, err := Rows(4, 4, true, []float64{0, 0, 0, 0}, rng)
	require.Error(t, err)
	assert.True(t, errors.IsEmptyBag(err))
}

func TestRows_WeightedSkewsDraws(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	weights := []float64{100, 1, 1, 1}
	counts := make([]int, 4)
	rows, err := Rows(4, 4000, true, weights, rng)
	require.NoError(t, err)
	for _, r := range rows {
		counts[r]++
	}
	assert.Greater(t, counts[0], 3000)
}

func TestRows_WeightedWithoutReplacement(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	weights := []float64{1, 0, 1, 1, 1}
	rows, err := Rows(5, 4, false, weights, rng)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, r := range rows {
		assert.NotEqual(t, 1, r, "zero-weight row drawn")
		assert.False(t, seen[r])
		seen[r] = true
	}

	_, err = Rows(5, 5, false, weights, rng)
	assert.Error(t, err, "only 4 rows carry positive weight")
}

func TestPack_BagClosure(t *testing.T) {
	y := []float64{1, 2, 3, 4, 5}
	rows := []int{0, 0, 2, 4}

	s := Pack(rows, y, nil, 0, nil)

	// Sum of sCount equals nSamp; bagCount counts distinct rows.
	assert.Equal(t, 4, s.SCount)
	assert.Equal(t, 4, s.NSamp)
	assert.Equal(t, 3, s.BagCount)
	assert.Equal(t, 3, s.Bag.Count())

	// Every bagged row resolves to a sample index, every OOB row to -1.
	for row := range y {
		if s.Bag.Test(row) {
			assert.GreaterOrEqual(t, s.SIdxRow[row], 0)
		} else {
			assert.Equal(t, -1, s.SIdxRow[row])
		}
	}

	// Weighted response: row 0 drawn twice.
	s0 := s.Nux[s.SIdxRow[0]]
	assert.Equal(t, 2, s0.SCount)
	assert.Equal(t, 2.0, s0.YSum)
	assert.Equal(t, 2.0+3.0+5.0, s.Sum)
}

func TestPack_Classification(t *testing.T) {
	y := []float64{1, 1, 1, 1}
	yCtg := []int{0, 1, 1, 0}
	rows := []int{1, 2, 3}

	s := Pack(rows, y, yCtg, 2, nil)
	require.Len(t, s.CtgSum, 2)
	assert.Equal(t, 1.0, s.CtgSum[0])
	assert.Equal(t, 2.0, s.CtgSum[1])
	assert.Equal(t, 1, s.Nux[s.SIdxRow[2]].Ctg)
}

func TestPack_SampleRanks(t *testing.T) {
	y := []float64{5, 1, 3}
	y2Rank, yRanked := ResponseRanks(y)
	assert.Equal(t, []float64{1, 3, 5}, yRanked)
	assert.Equal(t, []int{2, 0, 1}, y2Rank)

	s := Pack([]int{0, 2}, y, nil, 0, y2Rank)
	require.Len(t, s.S2Rank, 2)
	assert.Equal(t, 2, s.S2Rank[s.SIdxRow[0]])
	assert.Equal(t, 1, s.S2Rank[s.SIdxRow[2]])
}
