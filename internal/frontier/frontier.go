// Package frontier maintains the node table for the tree level under
// construction. Each IndexSet tracks one live node's response statistics
// and, once a split is accepted, the branch taken by every sample, feeding
// both the pre-tree and the next level's repartitioning.
package frontier

import (
	"fmt"

	"github.com/decision-forest/internal/partition"
	"github.com/decision-forest/internal/pretree"
	"github.com/decision-forest/internal/sample"
	"github.com/decision-forest/pkg/collections"
)

// sidePool recycles the per-level branch-mark table across levels and
// trees; each level reclaims it at the bag's size.
var sidePool = collections.NewSlicePool[int8](256)

// IndexSet is one frontier node.
type IndexSet struct {
	SplitIdx int // slot within the current level
	PTId     int // pre-tree node backing this set
	Depth    int

	Extent int     // sample count (distinct indices)
	SCount int     // multiset count: sum of per-sample sCount
	Sum    float64 // weighted response sum
	CtgSum []float64

	// PreBias is the node's own impurity baseline; a candidate split's
	// information must exceed PreBias + MinInfo to be considered.
	PreBias float64
	MinInfo float64

	// Split outcome, populated by Apply.
	DoesSplit    bool
	Decision     *SplitDecision
	PTTrue       int
	PTFalse      int
	trueExtent   int
	trueSCount   int
	trueSum      float64
	trueCtg      []float64
	falseExtent  int
	falseSCount  int
	falseSum     float64
	falseCtg     []float64
	trueLiveIdx  int // next-level slot, -1 if not live
	falseLiveIdx int
}

// SplitFloor returns the information bar a candidate must clear.
func (s *IndexSet) SplitFloor() float64 { return s.PreBias + s.MinInfo }

// Unsplitable reports whether the node is too small to split given the
// minimum node size.
func (s *IndexSet) Unsplitable(minNode int) bool {
	return s.Extent <= 1 || s.SCount < minNode
}

// SplitDecision encodes an accepted argmax split, produced by the
// split-selection engine and consumed by Apply.
type SplitDecision struct {
	SplitIdx int
	PredIdx  int
	Info     float64 // gain above the node's pre-bias

	Cell *partition.StagedCell

	// Numeric cut: explicit observations at positions [Cell.Start, CutObs)
	// take the true branch.
	Factor   bool
	SplitVal float64
	CutObs   int

	// Factor split: explicit observations within the true runs' ranges
	// take the true branch.
	TrueRanges  [][2]int // (start, extent) pairs, absolute within the column
	TrueCodes   []int
	Cardinality int

	// ImplicitTrue routes the cell's residual blob, if any, to the true
	// branch during reindexing.
	ImplicitTrue bool
}

// Frontier drives the per-level loop for a single tree.
type Frontier struct {
	sets     []*IndexSet
	pt       *pretree.PreTree
	smp      *sample.Sampled
	nCtg     int
	minNode  int
	maxDepth int
	minRatio float64
}

// New seeds the frontier with the root node covering the whole bag.
func New(smp *sample.Sampled, pt *pretree.PreTree, nCtg, minNode, maxDepth int, minRatio float64) *Frontier {
	root := &IndexSet{
		SplitIdx: 0,
		PTId:     0,
		Extent:   smp.BagCount,
		SCount:   smp.SCount,
		Sum:      smp.Sum,
	}
	if nCtg > 0 {
		root.CtgSum = append([]float64(nil), smp.CtgSum...)
	}
	root.PreBias = preBias(root, nCtg)

	return &Frontier{
		sets:     []*IndexSet{root},
		pt:       pt,
		smp:      smp,
		nCtg:     nCtg,
		minNode:  minNode,
		maxDepth: maxDepth,
		minRatio: minRatio,
	}
}

// preBias computes the node impurity baseline: sum^2/sCount for regression,
// the per-category Gini numerator over the node sum for classification.
func preBias(s *IndexSet, nCtg int) float64 {
	if nCtg == 0 {
		return s.Sum * s.Sum / float64(s.SCount)
	}
	ss := 0.0
	for _, c := range s.CtgSum {
		ss += c * c
	}
	return ss / s.Sum
}

// Sets returns the current level's nodes.
func (f *Frontier) Sets() []*IndexSet { return f.sets }

// Set returns the node at the given slot.
func (f *Frontier) Set(i int) *IndexSet { return f.sets[i] }

// Empty reports whether the frontier has no live nodes.
func (f *Frontier) Empty() bool { return len(f.sets) == 0 }

// Apply records accepted split decisions, converts their pre-tree nodes to
// nonterminals and reindexes every affected sample to its child node.
// Reindexing completes before the caller begins restaging.
func (f *Frontier) Apply(decisions []*SplitDecision, obsPart *partition.ObsPart) {
	// sideOf records the branch of each explicit observation of a
	// splitting node; samples left unmarked belong to the residual blob.
	sideBuf := sidePool.Grown(len(f.pt.Sample2PT))
	defer sidePool.Put(sideBuf)
	sideOf := *sideBuf
	for i := range sideOf {
		sideOf[i] = -1
	}

	for _, dec := range decisions {
		set := f.sets[dec.SplitIdx]
		set.DoesSplit = true
		set.Decision = dec

		if dec.Factor {
			var bitOff int
			set.PTTrue, set.PTFalse, bitOff = f.pt.SplitFac(set.PTId, dec.PredIdx, dec.Cardinality, dec.Info)
			for _, code := range dec.TrueCodes {
				f.pt.SetBit(bitOff, code)
			}
			for _, r := range dec.TrueRanges {
				for _, obs := range obsPart.Cell(dec.Cell)[r[0]-dec.Cell.Start : r[0]-dec.Cell.Start+r[1]] {
					sideOf[obs.SIdx] = 0
				}
			}
			// Remaining explicit observations take the false branch.
			for _, obs := range obsPart.Cell(dec.Cell) {
				if sideOf[obs.SIdx] == -1 {
					sideOf[obs.SIdx] = 1
				}
			}
		} else {
			set.PTTrue, set.PTFalse = f.pt.SplitNum(set.PTId, dec.PredIdx, dec.SplitVal, dec.Info)
			cell := obsPart.Cell(dec.Cell)
			cut := dec.CutObs - dec.Cell.Start
			for i := range cell {
				if i < cut {
					sideOf[cell[i].SIdx] = 0
				} else {
					sideOf[cell[i].SIdx] = 1
				}
			}
		}

		if f.nCtg > 0 {
			set.trueCtg = make([]float64, f.nCtg)
			set.falseCtg = make([]float64, f.nCtg)
		}
	}

	// Reindex: one pass over the bag moves each sample of a splitting
	// node to its child and accumulates the child statistics.
	splitting := make(map[int]*IndexSet, len(decisions))
	for _, dec := range decisions {
		set := f.sets[dec.SplitIdx]
		splitting[set.PTId] = set
	}
	for sIdx, ptId := range f.pt.Sample2PT {
		set := splitting[ptId]
		if set == nil {
			continue
		}
		side := sideOf[sIdx]
		if side == -1 { // residual cohort
			if set.Decision.ImplicitTrue {
				side = 0
			} else {
				side = 1
			}
		}
		nux := f.smp.Nux[sIdx]
		if side == 0 {
			f.pt.Sample2PT[sIdx] = set.PTTrue
			set.trueExtent++
			set.trueSCount += nux.SCount
			set.trueSum += nux.YSum
			if set.trueCtg != nil {
				set.trueCtg[nux.Ctg] += nux.YSum
			}
		} else {
			f.pt.Sample2PT[sIdx] = set.PTFalse
			set.falseExtent++
			set.falseSCount += nux.SCount
			set.falseSum += nux.YSum
			if set.falseCtg != nil {
				set.falseCtg[nux.Ctg] += nux.YSum
			}
		}
	}

	// Conservation is assertion-class: a violation indicates a defect in
	// the splitting engine, not bad input.
	for _, dec := range decisions {
		set := f.sets[dec.SplitIdx]
		if set.trueExtent+set.falseExtent != set.Extent {
			panic(fmt.Sprintf("frontier: split of node %d loses samples: %d + %d != %d",
				set.PTId, set.trueExtent, set.falseExtent, set.Extent))
		}
		if set.trueSCount+set.falseSCount != set.SCount {
			panic(fmt.Sprintf("frontier: split of node %d loses sample counts: %d + %d != %d",
				set.PTId, set.trueSCount, set.falseSCount, set.SCount))
		}
	}
}

// Dispatch stages the next level: successor IndexSets for each accepted
// split, plus the repartitioning schedule. Successors failing the terminal
// tests stay out of the frontier and their pre-tree nodes remain leaves.
func (f *Frontier) Dispatch() (parents []partition.Parent, destOf func(parentSplitIdx int, sIdx int32) int) {
	var next []*IndexSet

	for _, set := range f.sets {
		if !set.DoesSplit {
			continue
		}
		par := partition.Parent{SplitIdx: set.SplitIdx}

		childDepth := set.Depth + 1
		mk := func(ptId, extent, sCount int, sum float64, ctg []float64) (int, partition.Successor) {
			succ := partition.Successor{Extent: extent}
			live := extent > 1 && sCount >= f.minNode && (f.maxDepth <= 0 || childDepth < f.maxDepth)
			if !live {
				return -1, succ
			}
			child := &IndexSet{
				SplitIdx: len(next),
				PTId:     ptId,
				Depth:    childDepth,
				Extent:   extent,
				SCount:   sCount,
				Sum:      sum,
				CtgSum:   ctg,
				MinInfo:  f.minRatio * set.Decision.Info,
			}
			child.PreBias = preBias(child, f.nCtg)
			next = append(next, child)
			succ.Live = true
			succ.SplitIdx = child.SplitIdx
			return child.SplitIdx, succ
		}

		set.trueLiveIdx, par.Succ[0] = mk(set.PTTrue, set.trueExtent, set.trueSCount, set.trueSum, set.trueCtg)
		set.falseLiveIdx, par.Succ[1] = mk(set.PTFalse, set.falseExtent, set.falseSCount, set.falseSum, set.falseCtg)
		parents = append(parents, par)
	}

	prior := f.sets
	f.sets = next

	destOf = func(parentSplitIdx int, sIdx int32) int {
		set := prior[parentSplitIdx]
		switch f.pt.Sample2PT[sIdx] {
		case set.PTTrue:
			if set.trueLiveIdx < 0 {
				return -1
			}
			return 0
		case set.PTFalse:
			if set.falseLiveIdx < 0 {
				return -1
			}
			return 1
		default:
			panic(fmt.Sprintf("frontier: sample %d escaped node %d during reindex", sIdx, set.PTId))
		}
	}
	return parents, destOf
}
