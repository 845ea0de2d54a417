// Package pretree holds the tree under construction: a growable node array
// plus a growable bit vector for factor-split subsets. Node ids are
// assigned in breadth-first creation order, so a nonterminal's false branch
// is always the node following its true branch.
package pretree

import (
	"github.com/decision-forest/pkg/collections"
)

// Terminal marks a node with no true-branch child.
const Terminal = -1

// Node is one crescent-tree node. LhID is the id of the true-branch child,
// or Terminal; the false branch is implicitly LhID + 1.
type Node struct {
	LhID     int
	PredIdx  int
	SplitVal float64 // cut value (numeric) or bit offset (factor)
	Factor   bool
	Info     float64 // information gain recorded at the split
}

// PreTree is the crescent representation consumed into the packed forest
// once the frontier empties.
type PreTree struct {
	nodes   []Node
	facBits *collections.BitVec32

	// Sample2PT maps each bagged sample to the id of the node currently
	// holding it. Reindexed by splitting; on completion every entry
	// identifies a terminal.
	Sample2PT []int
}

// New creates a pre-tree over bagCount samples, all initially at the root.
func New(bagCount int) *PreTree {
	pt := &PreTree{
		nodes:     make([]Node, 1, 2*bagCount),
		facBits:   collections.NewBitVec32(),
		Sample2PT: make([]int, bagCount),
	}
	pt.nodes[0] = Node{LhID: Terminal}
	return pt
}

// NodeCount returns the number of nodes created so far.
func (pt *PreTree) NodeCount() int { return len(pt.nodes) }

// Node returns a pointer to the node with the given id.
func (pt *PreTree) Node(id int) *Node { return &pt.nodes[id] }

// SplitNum converts a terminal into a numeric nonterminal, appending its
// two children. Returns the true- and false-branch ids.
func (pt *PreTree) SplitNum(id, predIdx int, splitVal, info float64) (trueID, falseID int) {
	trueID, falseID = pt.grow(id)
	n := &pt.nodes[id]
	n.PredIdx = predIdx
	n.SplitVal = splitVal
	n.Factor = false
	n.Info = info
	return trueID, falseID
}

// SplitFac converts a terminal into a factor nonterminal, reserving
// cardinality bits for the true-branch subset. The returned bit offset is
// also recorded as the node's splitting value.
func (pt *PreTree) SplitFac(id, predIdx, cardinality int, info float64) (trueID, falseID, bitOff int) {
	trueID, falseID = pt.grow(id)
	bitOff = pt.facBits.Extend(cardinality)
	n := &pt.nodes[id]
	n.PredIdx = predIdx
	n.SplitVal = float64(bitOff)
	n.Factor = true
	n.Info = info
	return trueID, falseID, bitOff
}

// SetBit admits a factor code to a split's true branch.
func (pt *PreTree) SetBit(bitOff, code int) {
	pt.facBits.Set(bitOff + code)
}

// BitsTest reports whether a factor code lies in a split's true branch.
func (pt *PreTree) BitsTest(bitOff, code int) bool {
	return pt.facBits.Test(bitOff + code)
}

func (pt *PreTree) grow(id int) (trueID, falseID int) {
	trueID = len(pt.nodes)
	falseID = trueID + 1
	pt.nodes = append(pt.nodes, Node{LhID: Terminal}, Node{LhID: Terminal})
	pt.nodes[id].LhID = trueID
	return trueID, falseID
}

// ConsumeBits drains the factor-split bit vector into out, returning the
// number of 32-bit words appended.
func (pt *PreTree) ConsumeBits(out *[]uint32) int {
	return pt.facBits.Consume(out)
}

// Walk applies fn to every node id in creation (breadth-first) order.
func (pt *PreTree) Walk(fn func(id int, n *Node)) {
	for id := range pt.nodes {
		fn(id, &pt.nodes[id])
	}
}
