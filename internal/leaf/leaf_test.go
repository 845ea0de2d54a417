package leaf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendTree_Origins(t *testing.T) {
	s := NewSet([]float64{1, 2, 3})

	s.AppendTree(&TreeLeaves{
		Rank:       []int32{0, 2},
		RankCount:  []int32{1, 2},
		LeafPos:    []int32{-1, 0, 1},
		LeafExtent: []int32{0, 1, 1},
	})
	s.AppendTree(&TreeLeaves{
		Rank:       []int32{1},
		RankCount:  []int32{3},
		LeafPos:    []int32{0},
		LeafExtent: []int32{1},
	})

	assert.Equal(t, 2, s.NTree())
	assert.Equal(t, []int32{0, 2}, s.RankOrigin)
	assert.Equal(t, []int32{0, 2, 1}, s.Rank)
}

func TestLeafSamples(t *testing.T) {
	s := NewSet([]float64{1, 2, 3})
	s.AppendTree(&TreeLeaves{
		Rank:       []int32{0, 2, 1},
		RankCount:  []int32{1, 2, 1},
		LeafPos:    []int32{-1, 0, 2},
		LeafExtent: []int32{0, 2, 1},
	})

	var ranks, counts []int
	s.LeafSamples(0, 1, func(rank, count int) {
		ranks = append(ranks, rank)
		counts = append(counts, count)
	})
	assert.Equal(t, []int{0, 2}, ranks)
	assert.Equal(t, []int{1, 2}, counts)

	// Nonterminal offsets yield nothing.
	called := false
	s.LeafSamples(0, 0, func(rank, count int) { called = true })
	assert.False(t, called)
}
