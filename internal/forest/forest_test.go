package forest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decision-forest/internal/leaf"
	"github.com/decision-forest/pkg/compression"
)

// stumpTree builds a single numeric split with two leaves: x0 <= 1.5
// scores 10, else 20.
func stumpTree() *Tree {
	return &Tree{
		Pred:     []int32{0, 0, 0},
		Split:    []float64{1.5, 0, 0},
		Score:    []float64{0, 10, 20},
		Bump:     []int32{1, 0, 0},
		BagWords: []uint64{0b0011},
		PredInfo: []float64{4.0},
	}
}

// facStumpTree splits on factor codes {0, 2} true, scoring 1 / 2.
func facStumpTree() *Tree {
	return &Tree{
		Pred:     []int32{1, 0, 0},
		Split:    []float64{0, 0, 0}, // bit offset 0
		Score:    []float64{0, 1, 2},
		Bump:     []int32{1, 0, 0},
		FacWords: []uint32{0b101},
		BagWords: []uint64{0b1100},
		PredInfo: []float64{0, 2.0},
	}
}

func newTwoTreeForest() *Forest {
	f := New(4, 1, 1, 0, []int{0, 3})
	f.AppendTree(stumpTree())
	f.AppendTree(facStumpTree())
	return f
}

func TestAppendTree_OriginsAndInfo(t *testing.T) {
	f := newTwoTreeForest()

	assert.Equal(t, 2, f.NTree)
	assert.Equal(t, 6, f.NodeCount())
	assert.Equal(t, []int32{0, 3}, f.Origin)
	assert.Equal(t, []int32{0, 0}, f.FacOrigin, "first tree has no factor bits")
	assert.Equal(t, []float64{4.0, 2.0}, f.PredInfo)

	lo, hi := f.TreeRange(1)
	assert.Equal(t, 3, lo)
	assert.Equal(t, 6, hi)
}

func TestWalk_NumericAndFactor(t *testing.T) {
	f := newTwoTreeForest()

	// Tree 0: numeric stump.
	assert.Equal(t, 1, f.Walk(0, []float64{1.0}, []int{0}))
	assert.Equal(t, 2, f.Walk(0, []float64{3.0}, []int{0}))

	// Tree 1: factor stump over codes {0,2} true.
	assert.Equal(t, 4, f.Walk(1, []float64{0}, []int{0}))
	assert.Equal(t, 5, f.Walk(1, []float64{0}, []int{1}))
	assert.Equal(t, 4, f.Walk(1, []float64{0}, []int{2}))
}

func TestWalk_UnseenFactorCodeFalseBranch(t *testing.T) {
	f := newTwoTreeForest()
	assert.Equal(t, 5, f.Walk(1, []float64{0}, []int{7}), "missing level routes deterministically")
}

func TestBagged(t *testing.T) {
	f := newTwoTreeForest()
	assert.True(t, f.Bagged(0, 0))
	assert.True(t, f.Bagged(0, 1))
	assert.False(t, f.Bagged(0, 2))
	assert.True(t, f.Bagged(1, 3))
	assert.False(t, f.Bagged(1, 0))
}

func TestMarshal_RoundTripBitExact(t *testing.T) {
	f := newTwoTreeForest()
	leaves := leaf.NewSet([]float64{1, 2, 3, 4})
	leaves.AppendTree(&leaf.TreeLeaves{
		Rank:       []int32{0, 1, 2, 3},
		RankCount:  []int32{1, 1, 2, 1},
		LeafPos:    []int32{-1, 0, 2},
		LeafExtent: []int32{0, 2, 2},
	})

	m := &Model{Forest: f, Leaves: leaves}
	data, err := m.Marshal()
	require.NoError(t, err)

	m2, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, f.Pred, m2.Forest.Pred)
	assert.Equal(t, f.Split, m2.Forest.Split)
	assert.Equal(t, f.Score, m2.Forest.Score)
	assert.Equal(t, f.Bump, m2.Forest.Bump)
	assert.Equal(t, f.Origin, m2.Forest.Origin)
	assert.Equal(t, f.FacOrigin, m2.Forest.FacOrigin)
	assert.Equal(t, f.FacBits, m2.Forest.FacBits)
	assert.Equal(t, f.BagBits, m2.Forest.BagBits)
	assert.Equal(t, f.Cardinality, m2.Forest.Cardinality)
	assert.Equal(t, f.PredInfo, m2.Forest.PredInfo)
	require.NotNil(t, m2.Leaves)
	assert.Equal(t, leaves.Rank, m2.Leaves.Rank)
	assert.Equal(t, leaves.LeafPos, m2.Leaves.LeafPos)

	// Walking the round-tripped forest agrees on every row.
	for _, x := range []float64{0.5, 1.5, 2.5} {
		for code := 0; code < 3; code++ {
			assert.Equal(t,
				f.Walk(0, []float64{x}, []int{code}),
				m2.Forest.Walk(0, []float64{x}, []int{code}))
			assert.Equal(t,
				f.Walk(1, []float64{x}, []int{code}),
				m2.Forest.Walk(1, []float64{x}, []int{code}))
		}
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.df")
	m := &Model{Forest: newTwoTreeForest()}
	require.NoError(t, m.Save(path))

	m2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.Forest.Pred, m2.Forest.Pred)
	assert.Nil(t, m2.Leaves)
}

func TestSaveWith_CodecTagged(t *testing.T) {
	// Decode dispatches on the artifact's tag byte, so any configured
	// codec stays loadable.
	m := &Model{Forest: newTwoTreeForest()}
	for _, ctype := range []compression.Type{compression.TypeGzip, compression.TypeNone} {
		path := filepath.Join(t.TempDir(), "model.df")
		require.NoError(t, m.SaveWith(path, ctype))

		m2, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, m.Forest.Split, m2.Forest.Split)
	}
}

func TestUnmarshal_Garbage(t *testing.T) {
	_, err := Unmarshal([]byte("not a forest"))
	assert.Error(t, err)

	_, err = Decode([]byte{})
	assert.Error(t, err)
}
