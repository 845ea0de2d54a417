// Package forest holds the packed decision-forest representation used by
// prediction, and its bit-exact serialization surface.
//
// For a nonterminal at node offset o, the true branch lies at o + bump[o]
// and the false branch at o + bump[o] + 1; bump[o] == 0 marks a terminal
// whose score is score[o]. Factor-split criteria are bit vectors packed
// LSB-first into 32-bit words, addressed by a per-tree base offset plus the
// node's recorded bit position plus the observed factor code.
package forest

import (
	"github.com/decision-forest/pkg/collections"
)

// Tree is one consumed tree, ready to append to a forest.
type Tree struct {
	Pred     []int32
	Split    []float64
	Score    []float64
	Bump     []int32
	FacWords []uint32
	BagWords []uint64

	// PredInfo accumulates the tree's split gains per predictor.
	PredInfo []float64
}

// Forest accumulates packed trees across a training session.
type Forest struct {
	NTree  int
	Pred   []int32
	Split  []float64
	Score  []float64
	Bump   []int32
	Origin []int32 // per-tree node offsets

	FacOrigin []int32 // per-tree bit offsets into FacBits
	FacBits   []uint32

	// Bag membership, one stride of words per tree.
	NRow      int
	bagStride int
	BagBits   []uint64

	// Training-session shape, preserved for prediction-time validation.
	Cardinality []int32 // per predictor; 0 marks numeric
	NPredNum    int
	NPredFac    int
	NCtg        int

	PredInfo []float64
}

// New creates an empty forest for the given frame shape.
func New(nRow, nPredNum, nPredFac, nCtg int, cardinality []int) *Forest {
	card := make([]int32, len(cardinality))
	for i, c := range cardinality {
		card[i] = int32(c)
	}
	return &Forest{
		NRow:        nRow,
		bagStride:   (nRow + 63) / 64,
		Cardinality: card,
		NPredNum:    nPredNum,
		NPredFac:    nPredFac,
		NCtg:        nCtg,
		PredInfo:    make([]float64, nPredNum+nPredFac),
	}
}

// NPred returns the predictor count.
func (f *Forest) NPred() int { return f.NPredNum + f.NPredFac }

// NodeCount returns the total packed node count.
func (f *Forest) NodeCount() int { return len(f.Pred) }

// AppendTree packs one consumed tree onto the forest.
func (f *Forest) AppendTree(t *Tree) {
	f.Origin = append(f.Origin, int32(len(f.Pred)))
	f.Pred = append(f.Pred, t.Pred...)
	f.Split = append(f.Split, t.Split...)
	f.Score = append(f.Score, t.Score...)
	f.Bump = append(f.Bump, t.Bump...)

	f.FacOrigin = append(f.FacOrigin, int32(32*len(f.FacBits)))
	f.FacBits = append(f.FacBits, t.FacWords...)

	bag := make([]uint64, f.bagStride)
	copy(bag, t.BagWords)
	f.BagBits = append(f.BagBits, bag...)

	for pred, info := range t.PredInfo {
		f.PredInfo[pred] += info
	}
	f.NTree++
}

// TreeRange returns the half-open node offset range of a tree.
func (f *Forest) TreeRange(tree int) (lo, hi int) {
	lo = int(f.Origin[tree])
	if tree+1 < f.NTree {
		hi = int(f.Origin[tree+1])
	} else {
		hi = len(f.Pred)
	}
	return lo, hi
}

// Bagged reports whether a training row lies in a tree's bag.
func (f *Forest) Bagged(tree, row int) bool {
	word := f.BagBits[tree*f.bagStride+row/64]
	return word&(1<<(row%64)) != 0
}

// Walk advances one row through one tree, returning the terminal's
// absolute node offset. Numeric predictors branch true on value <= split;
// factor predictors branch true on a set criterion bit. Factor codes
// outside the training cardinality route deterministically to the false
// branch.
func (f *Forest) Walk(tree int, num []float64, fac []int) int {
	at := int(f.Origin[tree])
	facOrigin := int(f.FacOrigin[tree])
	for {
		bump := int(f.Bump[at])
		if bump == 0 {
			return at
		}
		pred := int(f.Pred[at])
		var takeTrue bool
		if pred < f.NPredNum {
			takeTrue = num[pred] <= f.Split[at]
		} else {
			code := fac[pred-f.NPredNum]
			if code >= 0 && code < int(f.Cardinality[pred]) {
				takeTrue = collections.TestWord(f.FacBits, facOrigin+int(f.Split[at])+code)
			}
		}
		if takeTrue {
			at += bump
		} else {
			at += bump + 1
		}
	}
}
