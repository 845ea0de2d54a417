package partition

import (
	"github.com/decision-forest/internal/frame"
	"github.com/decision-forest/internal/sample"
)

// StagedCell describes one (node, predictor) pair's slice of the
// observation partition: which buffer holds it, its range within the
// predictor's column, the conservative distinct-rank count, and the
// residual blob, if any, of observations withheld at the implicit rank.
//
// A cell whose RunCount reaches 1 is a singleton: every sample shares one
// rank and no split along this predictor can ever succeed again. Singleton
// cells are delisted and the delisting is sticky across all descendants of
// the node-predictor pair.
type StagedCell struct {
	NodeIdx int // frontier slot of the owning node
	PredIdx int
	Buf     int // source buffer for this cell's records
	Start   int
	Extent  int

	RunCount      int // distinct ranks, residual included
	ImplicitRank  int // frame.NoRank if fully explicit
	ImplicitCount int // samples withheld at ImplicitRank
}

// Singleton reports whether the cell has exactly one distinct rank.
func (c *StagedCell) Singleton() bool { return c.RunCount <= 1 }

// SampleExtent returns the node's sample count along this cell, residual
// included.
func (c *StagedCell) SampleExtent() int { return c.Extent + c.ImplicitCount }

// InterLevel owns the observation partition and the staged-cell table for
// the current level. Between levels, each live ancestor cell is split into
// successor cells according to the branch taken by each of its samples.
type InterLevel struct {
	obsPart *ObsPart
	nPred   int
	// cells[splitIdx][predIdx]; nil marks a delisted (singleton) pair.
	cells [][]*StagedCell
}

// NewInterLevel stages the root cells for every predictor and returns the
// level-zero table.
func NewInterLevel(f *frame.Frame, s *sample.Sampled) *InterLevel {
	nPred := f.NPred()
	lvl := &InterLevel{
		obsPart: NewObsPart(s.BagCount, nPred),
		nPred:   nPred,
	}

	rootCells := make([]*StagedCell, nPred)
	for pred := 0; pred < nPred; pred++ {
		extent, runCount, implicit := lvl.obsPart.stageRoot(f, s, pred)
		cell := &StagedCell{
			NodeIdx:      0,
			PredIdx:      pred,
			Buf:          0,
			Start:        0,
			Extent:       extent,
			RunCount:     runCount,
			ImplicitRank: frame.NoRank,
		}
		if implicit > 0 {
			cell.ImplicitRank = f.DenseRank(pred)
			cell.ImplicitCount = implicit
		}
		if !cell.Singleton() {
			rootCells[pred] = cell
		}
	}
	lvl.cells = [][]*StagedCell{rootCells}
	return lvl
}

// ObsPart exposes the partition buffers to the splitting engine.
func (lvl *InterLevel) ObsPart() *ObsPart { return lvl.obsPart }

// Cell returns the staged cell for a (node, predictor) pair, or nil if the
// pair has been delisted.
func (lvl *InterLevel) Cell(splitIdx, pred int) *StagedCell {
	return lvl.cells[splitIdx][pred]
}

// NPred returns the predictor count.
func (lvl *InterLevel) NPred() int { return lvl.nPred }

// NodeCount returns the number of frontier slots in the current table.
func (lvl *InterLevel) NodeCount() int { return len(lvl.cells) }

// Successor describes one child of a splitting node during repartitioning.
type Successor struct {
	Live     bool // participates in the next level
	SplitIdx int  // frontier slot in the next level, if live
	Extent   int  // child node's sample extent, residual included
}

// Parent describes a splitting node's two successors. Side 0 is the true
// branch.
type Parent struct {
	SplitIdx int
	Succ     [2]Successor
}

// NextLevel restages every live cell of each splitting parent into the
// opposite buffer and installs the successor cell table. destOf maps a
// sample index to its side (0 true, 1 false) or -1 when the destination
// node is extinct; it consults the reindexed sample-to-pretree mapping, so
// reindexing must complete before restaging begins.
func (lvl *InterLevel) NextLevel(parents []Parent, nextNodes int, destOf func(parentSplitIdx int, sIdx int32) int) {
	next := make([][]*StagedCell, nextNodes)
	for i := range next {
		next[i] = make([]*StagedCell, lvl.nPred)
	}

	for _, par := range parents {
		ancestors := lvl.cells[par.SplitIdx]
		for pred := 0; pred < lvl.nPred; pred++ {
			cell := ancestors[pred]
			if cell == nil {
				continue // delisting is sticky
			}
			restaged := lvl.obsPart.Restage(cell, func(sIdx int32) int {
				return destOf(par.SplitIdx, sIdx)
			})
			for side := 0; side < 2; side++ {
				succ := par.Succ[side]
				if !succ.Live {
					continue
				}
				child := &StagedCell{
					NodeIdx:      succ.SplitIdx,
					PredIdx:      pred,
					Buf:          1 - cell.Buf,
					Start:        restaged[side].Start,
					Extent:       restaged[side].Extent,
					RunCount:     restaged[side].RunCount,
					ImplicitRank: frame.NoRank,
				}
				// The residual cohort is not materialized; its size on
				// each side falls out of the node-wide total less the
				// explicit subtotal.
				if cell.ImplicitCount > 0 {
					if implicit := succ.Extent - restaged[side].Extent; implicit > 0 {
						child.ImplicitRank = cell.ImplicitRank
						child.ImplicitCount = implicit
						child.RunCount++
					}
				}
				if !child.Singleton() {
					next[succ.SplitIdx][pred] = child
				}
			}
		}
	}
	lvl.cells = next
}
