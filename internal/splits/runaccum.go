package splits

import (
	"github.com/decision-forest/internal/partition"
	"github.com/decision-forest/pkg/collections"
)

// maxWidth bounds direct subset enumeration for multi-class factor
// splitting: factors wider than this are first shrunk by uniform run
// sampling.
const maxWidth = 10

// noStart marks the implicit run, which has no materialized range.
const noStart = -1

// runPool recycles run tables across candidates and levels; a candidate's
// table is returned once its evaluation has copied out the decision's codes
// and ranges, pre-sized for the next cell by earlier high-water marks.
var runPool = collections.NewSlicePool[frun](64)

// frun accumulates one maximal range of equal rank within a factor cell.
type frun struct {
	code   int // factor code; equals the rank
	sCount int
	sum    float64
	ctgSum []float64
	start  int // relative to the cell; noStart for the implicit run
	extent int
}

func (r *frun) implicit() bool { return r.start == noStart }

// mean returns the run's mean response.
func (r *frun) mean() float64 { return r.sum / float64(r.sCount) }

// runAccum collapses a factor cell into runs and locates the argmax
// subset or ordering cut.
type runAccum struct {
	runs []frun
	nCtg int

	info     float64
	inPlay   []int // run slots participating in the argmax
	trueIdx  []int // run indices assigned the true branch
	lhSCount int
}

// buildRuns walks the rank-sorted cell, emitting one run per distinct code
// into dst and appending the residual as an implicit run.
func buildRuns(dst []frun, c *cand, obs []partition.Obs, nCtg int) []frun {
	runs := dst[:0]
	for i := range obs {
		o := &obs[i]
		if len(runs) == 0 || int(o.Rank) != runs[len(runs)-1].code {
			r := frun{code: int(o.Rank), start: i}
			if nCtg > 0 {
				r.ctgSum = make([]float64, nCtg)
			}
			runs = append(runs, r)
		}
		r := &runs[len(runs)-1]
		r.sCount += int(o.SCount)
		r.sum += o.YSum
		r.extent++
		if nCtg > 0 {
			r.ctgSum[o.Ctg] += o.YSum
		}
	}

	if c.cell.ImplicitCount > 0 {
		resid := frun{
			code:   c.cell.ImplicitRank,
			sCount: c.set.SCount,
			sum:    c.set.Sum,
			start:  noStart,
			extent: c.cell.ImplicitCount,
		}
		if nCtg > 0 {
			resid.ctgSum = append([]float64(nil), c.set.CtgSum...)
		}
		for i := range runs {
			resid.sCount -= runs[i].sCount
			resid.sum -= runs[i].sum
			for ctg := range runs[i].ctgSum {
				resid.ctgSum[ctg] -= runs[i].ctgSum[ctg]
			}
		}
		runs = append(runs, resid)
	}
	return runs
}

// splitRuns dispatches the argmax strategy appropriate to the response.
func (a *runAccum) splitRuns(c *cand) bool {
	switch {
	case a.nCtg == 0:
		a.orderedSplit(c, func(r *frun) float64 { return r.mean() })
	case a.nCtg == 2:
		// Ordering by category-1 probability is equivalent to ordering by
		// concentration; the scan over that order finds the Gini argmax.
		a.orderedSplit(c, func(r *frun) float64 { return r.ctgSum[1] / r.sum })
	default:
		a.subsetSplit(c)
	}
	if len(a.trueIdx) == 0 {
		return false
	}
	if c.invert {
		a.invertTrue()
	}
	return true
}

// orderedSplit heap-sorts the runs by a scalar key and evaluates each cut
// position in that order.
func (a *runAccum) orderedSplit(c *cand, key func(*frun) float64) {
	h := collections.NewBHeap(len(a.runs))
	for slot := range a.runs {
		h.Insert(slot, key(&a.runs[slot]))
	}
	ordered := h.Depopulate()
	a.inPlay = ordered

	sCount := c.set.SCount
	sum := c.set.Sum
	var ctgL []float64
	if a.nCtg > 0 {
		ctgL = make([]float64, a.nCtg)
	}

	sCountL := 0
	sumL := 0.0
	argMax := -1
	for j := 0; j < len(ordered)-1; j++ {
		r := &a.runs[ordered[j]]
		sCountL += r.sCount
		sumL += r.sum

		var infoTrial float64
		ok := true
		if a.nCtg == 0 {
			infoTrial = infoVar(sumL, sum-sumL, sCountL, sCount-sCountL)
		} else {
			ssL, ssR := 0.0, 0.0
			for ctg := 0; ctg < a.nCtg; ctg++ {
				ctgL[ctg] += r.ctgSum[ctg]
				lc := ctgL[ctg]
				rc := c.set.CtgSum[ctg] - lc
				ssL += lc * lc
				ssR += rc * rc
			}
			infoTrial, ok = infoGini(ssL, ssR, sumL, sum-sumL)
		}
		if ok && infoTrial > a.info {
			a.info = infoTrial
			a.lhSCount = sCountL
			argMax = j
		}
	}

	if argMax >= 0 {
		a.trueIdx = append([]int(nil), ordered[:argMax+1]...)
	}
}

// subsetSplit enumerates nontrivial subsets of the runs as the true
// branch. Wide factors are first shrunk to maxWidth runs drawn uniformly
// via the candidate's variate slice.
func (a *runAccum) subsetSplit(c *cand) {
	slots := a.deWide(c)
	a.inPlay = slots
	eff := len(slots)

	// The top slot is excluded from enumeration: a subset and its
	// complement encode the same partition.
	fullSet := (1 << (eff - 1)) - 1
	sum := c.set.Sum

	argMax := -1
	for subset := 1; subset <= fullSet; subset++ {
		sumL := 0.0
		sCountL := 0
		ssL, ssR := 0.0, 0.0
		for ctg := 0; ctg < a.nCtg; ctg++ {
			ctgTotal := c.set.CtgSum[ctg]
			lc := 0.0
			for bit, slot := range slots {
				if subset&(1<<bit) != 0 {
					lc += a.runs[slot].ctgSum[ctg]
				}
			}
			ssL += lc * lc
			rc := ctgTotal - lc
			ssR += rc * rc
		}
		for bit, slot := range slots {
			if subset&(1<<bit) != 0 {
				sumL += a.runs[slot].sum
				sCountL += a.runs[slot].sCount
			}
		}
		if infoTrial, ok := infoGini(ssL, ssR, sumL, sum-sumL); ok && infoTrial > a.info {
			a.info = infoTrial
			a.lhSCount = sCountL
			argMax = subset
		}
	}

	if argMax >= 0 {
		for bit, slot := range slots {
			if argMax&(1<<bit) != 0 {
				a.trueIdx = append(a.trueIdx, slot)
			}
		}
	}
}

// deWide returns the run slots in play: all of them for narrow factors, a
// uniform sample of maxWidth otherwise. The candidate's pre-drawn variates
// make the sample deterministic given its slice.
func (a *runAccum) deWide(c *cand) []int {
	n := len(a.runs)
	if n <= maxWidth {
		slots := make([]int, n)
		for i := range slots {
			slots[i] = i
		}
		return slots
	}
	h := collections.NewBHeap(n)
	for slot := 0; slot < n; slot++ {
		h.Insert(slot, c.rv[slot])
	}
	ordered := h.Depopulate()
	return ordered[:maxWidth]
}

// invertTrue swaps the recorded true branch for its complement among the
// runs in play; runs eclipsed by wide sampling stay on the false branch
// regardless. The implicit blob may fall on either side of a factor split;
// fixing the branch sense a priori would bias prediction, so a random bit
// decides whether the argmax subset or its complement takes the true
// branch.
func (a *runAccum) invertTrue() {
	inTrue := make(map[int]bool, len(a.trueIdx))
	for _, slot := range a.trueIdx {
		inTrue[slot] = true
	}
	var comp []int
	sCountL := 0
	for _, slot := range a.inPlay {
		if !inTrue[slot] {
			comp = append(comp, slot)
			sCountL += a.runs[slot].sCount
		}
	}
	if len(comp) == 0 { // complement would be empty; keep the argmax side
		return
	}
	a.trueIdx = comp
	a.lhSCount = sCountL
}
