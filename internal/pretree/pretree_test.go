package pretree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SingleTerminalRoot(t *testing.T) {
	pt := New(4)
	assert.Equal(t, 1, pt.NodeCount())
	assert.Equal(t, Terminal, pt.Node(0).LhID)
	assert.Equal(t, []int{0, 0, 0, 0}, pt.Sample2PT)
}

func TestSplitNum_ChildrenAdjacent(t *testing.T) {
	pt := New(4)
	trueID, falseID := pt.SplitNum(0, 2, 2.5, 0.8)

	assert.Equal(t, 1, trueID)
	assert.Equal(t, 2, falseID)
	assert.Equal(t, trueID+1, falseID, "false branch is implicitly lhId+1")

	root := pt.Node(0)
	assert.Equal(t, trueID, root.LhID)
	assert.Equal(t, 2, root.PredIdx)
	assert.Equal(t, 2.5, root.SplitVal)
	assert.False(t, root.Factor)
	assert.Equal(t, Terminal, pt.Node(trueID).LhID)
}

func TestSplitFac_BitRanges(t *testing.T) {
	pt := New(4)
	_, _, off0 := pt.SplitFac(0, 1, 4, 0.5)
	trueID, _, off1 := pt.SplitFac(1, 3, 3, 0.25)
	_ = trueID

	assert.Equal(t, 0, off0)
	assert.Equal(t, 4, off1, "second split's bits follow the first's")

	pt.SetBit(off0, 2)
	pt.SetBit(off1, 0)
	assert.True(t, pt.BitsTest(off0, 2))
	assert.False(t, pt.BitsTest(off0, 0))
	assert.True(t, pt.BitsTest(off1, 0))

	root := pt.Node(0)
	assert.True(t, root.Factor)
	assert.Equal(t, float64(off0), root.SplitVal)
}

func TestWalk_BreadthFirstIDs(t *testing.T) {
	pt := New(8)
	l, r := pt.SplitNum(0, 0, 1.0, 0.1)
	pt.SplitNum(l, 0, 0.5, 0.1)
	pt.SplitNum(r, 0, 1.5, 0.1)

	var ids []int
	pt.Walk(func(id int, n *Node) { ids = append(ids, id) })
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, ids)

	// Both inner splits produced adjacent child pairs.
	assert.Equal(t, 3, pt.Node(l).LhID)
	assert.Equal(t, 5, pt.Node(r).LhID)
}

func TestConsumeBits_WordAligned(t *testing.T) {
	pt := New(2)
	_, _, off := pt.SplitFac(0, 0, 3, 0.1)
	pt.SetBit(off, 1)

	var words []uint32
	n := pt.ConsumeBits(&words)
	require.Equal(t, 1, n)
	assert.Equal(t, uint32(2), words[0])
}
