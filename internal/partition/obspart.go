// Package partition maintains the per-predictor observation partition: a
// double-buffered, rank-sorted projection of each frontier node's samples
// along every live predictor, repartitioned lazily between tree levels.
package partition

import (
	"github.com/decision-forest/internal/frame"
	"github.com/decision-forest/internal/sample"
)

// Obs is one staged observation record: a sample index paired with its rank
// along the cell's predictor and the sample's response statistics.
type Obs struct {
	SIdx   int32
	Rank   int32
	SCount int32
	Ctg    int32
	YSum   float64
}

// ObsPart holds the two staging buffers. Each buffer is laid out
// predictor-major: the column for predictor p occupies
// [p*bagCount, (p+1)*bagCount). A cell's records occupy a contiguous
// sub-range of its predictor's column; restaging scatters an ancestor
// cell's range from one buffer into successor ranges of the other.
type ObsPart struct {
	bagCount int
	nPred    int
	buf      [2][]Obs
}

// NewObsPart allocates both buffers.
func NewObsPart(bagCount, nPred int) *ObsPart {
	p := &ObsPart{bagCount: bagCount, nPred: nPred}
	p.buf[0] = make([]Obs, bagCount*nPred)
	p.buf[1] = make([]Obs, bagCount*nPred)
	return p
}

// BagCount returns the per-predictor column length.
func (p *ObsPart) BagCount() int { return p.bagCount }

// Cell returns the records of a staged cell.
func (p *ObsPart) Cell(c *StagedCell) []Obs {
	base := c.PredIdx * p.bagCount
	return p.buf[c.Buf][base+c.Start : base+c.Start+c.Extent]
}

// column returns one predictor's full column in the given buffer.
func (p *ObsPart) column(buf, pred int) []Obs {
	base := pred * p.bagCount
	return p.buf[buf][base : base+p.bagCount]
}

// stageRoot writes the root cell for one predictor: a walk of the rank
// table emitting every bagged row in nondecreasing rank order. Rows at the
// predictor's implicit rank are withheld; their count is returned so the
// cell can record the residual blob.
func (p *ObsPart) stageRoot(f *frame.Frame, s *sample.Sampled, pred int) (extent, runCount, implicitSamples int) {
	col := p.column(0, pred)
	denseRank := f.DenseRank(pred)

	idx := 0
	lastRank := frame.NoRank
	for _, row := range f.R2R(pred) {
		sIdx := s.SIdxRow[row]
		if sIdx < 0 {
			continue
		}
		rk := f.Rank(pred, row)
		if rk == denseRank {
			implicitSamples++
			continue
		}
		nux := s.Nux[sIdx]
		col[idx] = Obs{
			SIdx:   int32(sIdx),
			Rank:   int32(rk),
			SCount: int32(nux.SCount),
			Ctg:    int32(nux.Ctg),
			YSum:   nux.YSum,
		}
		if rk != lastRank {
			runCount++
			lastRank = rk
		}
		idx++
	}
	if implicitSamples > 0 {
		runCount++
	}
	return idx, runCount, implicitSamples
}

// Restaged summarizes one successor cell produced by a restage pass.
type Restaged struct {
	Start    int
	Extent   int
	RunCount int // distinct explicit ranks observed
}

// Restage scatters an ancestor cell into its two successors in the target
// buffer. destOf maps a sample index to 0 (true branch), 1 (false branch)
// or -1 (extinct: the destination node is no longer live). The source is
// walked in rank order and successor slots are filled in walk order, so
// rank monotonicity is preserved on both sides.
func (p *ObsPart) Restage(c *StagedCell, destOf func(sIdx int32) int) [2]Restaged {
	src := p.Cell(c)

	// Counting pass sizes the scatter offsets.
	var count [2]int
	for i := range src {
		if side := destOf(src[i].SIdx); side >= 0 {
			count[side]++
		}
	}

	var out [2]Restaged
	out[0].Start = c.Start
	out[1].Start = c.Start + count[0]

	targetCol := p.column(1-c.Buf, c.PredIdx)
	next := [2]int{out[0].Start, out[1].Start}
	lastRank := [2]int32{frame.NoRank, frame.NoRank}
	for i := range src {
		side := destOf(src[i].SIdx)
		if side < 0 {
			continue
		}
		targetCol[next[side]] = src[i]
		next[side]++
		if src[i].Rank != lastRank[side] {
			out[side].RunCount++
			lastRank[side] = src[i].Rank
		}
	}
	out[0].Extent = count[0]
	out[1].Extent = count[1]
	return out
}
