// Package splits drives per-level candidate selection: for every live
// (node, predictor) cell it computes an argmax information-gain split,
// numeric cuts via a right-to-left rank scan and factor subsets via run
// accumulation, then encodes the winners for the frontier.
package splits

import (
	"github.com/decision-forest/internal/frame"
	"github.com/decision-forest/internal/partition"
)

// infoVar evaluates trial splitting information as weighted variance:
// sumL^2/sCountL + sumR^2/sCountR.
func infoVar(sumL, sumR float64, sCountL, sCountR int) float64 {
	return sumL*sumL/float64(sCountL) + sumR*sumR/float64(sCountR)
}

// infoGini evaluates trial splitting information as the Gini numerator
// pair: ssL/sumL + ssR/sumR, guarded against vanishing denominators.
func infoGini(ssL, ssR, sumL, sumR float64) (float64, bool) {
	if sumL < minDenom || sumR < minDenom {
		return 0, false
	}
	return ssL/sumL + ssR/sumR, true
}

// minDenom guards Gini denominators for numerical stability.
const minDenom = 1e-5

// cutAccum is the numeric splitting workspace. The cell is scanned right
// to left in rank order; cells carrying an implicit blob are split in
// three phases so the blob is evaluated as a single rank transition.
type cutAccum struct {
	obs []partition.Obs

	sCount int
	sum    float64

	rankDense int // rank of the residual blob, or frame.NoRank
	cutDense  int // leftmost explicit position right of the blob

	sCountL int
	sumL    float64

	sCountThis int
	ySum       float64

	monoMode int // monotone constraint: -1, 0, +1

	residSCount int
	residSum    float64

	// Revised at each new maximum of info.
	info     float64
	lhSCount int
	rankLH   int
	rankRH   int
	rhMin    int // explicit true-branch bound, relative to the cell
}

func newCutAccum(c *cand, obs []partition.Obs, monoMode int) *cutAccum {
	a := &cutAccum{
		obs:       obs,
		sCount:    c.set.SCount,
		sum:       c.set.Sum,
		rankDense: frame.NoRank,
		cutDense:  len(obs),
		sCountL:   c.set.SCount,
		sumL:      c.set.Sum,
		monoMode:  monoMode,
		info:      c.set.SplitFloor(),
	}
	if c.cell.ImplicitCount > 0 {
		a.rankDense = c.cell.ImplicitRank
		a.makeResidual()
	}
	return a
}

// makeResidual imputes the blob's sum and count from the node totals less
// the explicit totals, and locates the blob's rank position.
func (a *cutAccum) makeResidual() {
	sumExpl := 0.0
	sCountExpl := 0
	for idx := len(a.obs) - 1; idx >= 0; idx-- {
		if int(a.obs[idx].Rank) > a.rankDense {
			a.cutDense = idx
		}
		sumExpl += a.obs[idx].YSum
		sCountExpl += int(a.obs[idx].SCount)
	}
	a.residSum = a.sum - sumExpl
	a.residSCount = a.sCount - sCountExpl
}

// split runs the scan and reports whether a cut was found.
func (a *cutAccum) split() bool {
	if a.residSCount > 0 {
		a.splitImpl()
	} else {
		idxEnd := len(a.obs) - 1
		a.stateNext(idxEnd)
		a.splitExpl(int(a.obs[idxEnd].Rank), idxEnd-1, 0)
	}
	return a.lhSCount > 0
}

// stateNext exposes the record at idx as the current right-hand state.
func (a *cutAccum) stateNext(idx int) int {
	o := &a.obs[idx]
	a.ySum = o.YSum
	a.sCountThis = int(o.SCount)
	return int(o.Rank)
}

func (a *cutAccum) applyResidual() {
	a.ySum = a.residSum
	a.sCountThis = a.residSCount
}

// splitImpl splits a cell whose implicit blob lies between the bounds or
// adjacent to one of them: right of the blob, the blob itself as a single
// rank transition, then left of the blob.
func (a *cutAccum) splitImpl() {
	idxEnd := len(a.obs) - 1
	if a.cutDense > idxEnd {
		// Residual lies to the right of all explicit positions.
		a.applyResidual()
		a.splitExpl(a.rankDense, idxEnd, 0)
		return
	}
	rkThis := a.stateNext(idxEnd)
	a.splitExpl(rkThis, idxEnd-1, a.cutDense)
	a.splitResidual(int(a.obs[a.cutDense].Rank))
	if a.cutDense > 0 {
		a.applyResidual()
		a.splitExpl(a.rankDense, a.cutDense-1, 0)
	}
}

// splitResidual evaluates the transition between the blob and the explicit
// rank exposed by the previous scan phase.
func (a *cutAccum) splitResidual(rkRight int) {
	a.sumL -= a.ySum
	a.sCountL -= a.sCountThis
	a.applyResidual()

	sCountR := a.sCount - a.sCountL
	sumR := a.sum - a.sumL
	infoTrial := infoVar(a.sumL, sumR, a.sCountL, sCountR)
	if infoTrial > a.info && a.monoOK(sumR, sCountR) {
		a.info = infoTrial
		a.lhSCount = a.sCountL
		a.rankLH = a.rankDense
		a.rankRH = rkRight
		a.rhMin = a.cutDense
	}
}

// splitExpl walks explicit positions [idxFinal, idxInit] right to left,
// evaluating each rank boundary.
func (a *cutAccum) splitExpl(rkThis, idxInit, idxFinal int) {
	for idx := idxInit; idx >= idxFinal; idx-- {
		rkRight := rkThis
		a.sumL -= a.ySum
		a.sCountL -= a.sCountThis
		rkThis = a.stateNext(idx)
		a.trialSplit(idx, rkThis, rkRight)
	}
}

func (a *cutAccum) trialSplit(idx, rkThis, rkRight int) {
	if rkThis == rkRight { // within a tie run
		return
	}
	sCountR := a.sCount - a.sCountL
	sumR := a.sum - a.sumL
	infoTrial := infoVar(a.sumL, sumR, a.sCountL, sCountR)
	if infoTrial > a.info && a.monoOK(sumR, sCountR) {
		a.info = infoTrial
		a.lhSCount = a.sCountL
		a.rankLH = rkThis
		a.rankRH = rkRight
		if rkRight == a.rankDense {
			a.rhMin = a.cutDense
		} else {
			a.rhMin = idx + 1
		}
	}
}

// monoOK enforces the per-predictor monotone constraint, if set: the sign
// of sumL*sCountR - sumR*sCountL must match the constraint.
func (a *cutAccum) monoOK(sumR float64, sCountR int) bool {
	if a.monoMode == 0 {
		return true
	}
	up := a.sumL*float64(sCountR) <= sumR*float64(a.sCountL)
	if a.monoMode > 0 {
		return up
	}
	return !up
}

// lhImplicit reports whether the blob joins the true branch: the dense
// rank falls at or below the cut's left rank.
func (a *cutAccum) lhImplicit() bool {
	return a.rankDense != frame.NoRank && a.rankDense <= a.rankLH
}

// ============================================================================
// Classification cut accumulator
// ============================================================================

// ctgCutAccum extends the scan with per-category response sums, evaluating
// the Gini criterion at each rank boundary.
type ctgCutAccum struct {
	cutAccum
	nCtg     int
	ctgSum   []float64 // node-wide per-category sums
	ctgAccum []float64 // right-hand per-category sums
	residCtg []float64
	ssL      float64
	ssR      float64
}

func newCtgCutAccum(c *cand, obs []partition.Obs, nCtg int) *ctgCutAccum {
	a := &ctgCutAccum{
		cutAccum: cutAccum{
			obs:       obs,
			sCount:    c.set.SCount,
			sum:       c.set.Sum,
			rankDense: frame.NoRank,
			cutDense:  len(obs),
			sCountL:   c.set.SCount,
			sumL:      c.set.Sum,
			info:      c.set.SplitFloor(),
		},
		nCtg:     nCtg,
		ctgSum:   c.set.CtgSum,
		ctgAccum: make([]float64, nCtg),
	}
	for _, s := range a.ctgSum {
		a.ssL += s * s
	}
	if c.cell.ImplicitCount > 0 {
		a.rankDense = c.cell.ImplicitRank
		a.makeResidualCtg()
	}
	return a
}

func (a *ctgCutAccum) makeResidualCtg() {
	a.residCtg = append([]float64(nil), a.ctgSum...)
	sumExpl := 0.0
	sCountExpl := 0
	for idx := len(a.obs) - 1; idx >= 0; idx-- {
		o := &a.obs[idx]
		if int(o.Rank) > a.rankDense {
			a.cutDense = idx
		}
		sumExpl += o.YSum
		sCountExpl += int(o.SCount)
		a.residCtg[o.Ctg] -= o.YSum
	}
	a.residSum = a.sum - sumExpl
	a.residSCount = a.sCount - sCountExpl
}

func (a *ctgCutAccum) split() bool {
	if a.residSCount > 0 {
		a.splitImplCtg()
	} else {
		idxEnd := len(a.obs) - 1
		a.stateNextCtg(idxEnd)
		a.splitExplCtg(int(a.obs[idxEnd].Rank), idxEnd-1, 0)
	}
	return a.lhSCount > 0
}

// stateNextCtg moves the record at idx from the left to the right side,
// updating both sums-of-squares incrementally.
func (a *ctgCutAccum) stateNextCtg(idx int) {
	o := &a.obs[idx]
	a.ySum = o.YSum
	a.sCountThis = int(o.SCount)
	a.sumL -= a.ySum
	a.sCountL -= a.sCountThis
	a.moveSS(a.ySum, int(o.Ctg))
}

// moveSS shifts ySum of category ctg from left to right.
func (a *ctgCutAccum) moveSS(ySum float64, ctg int) {
	rOld := a.ctgAccum[ctg]
	a.ctgAccum[ctg] = rOld + ySum
	lNew := a.ctgSum[ctg] - rOld - ySum
	a.ssR += ySum * (ySum + 2*rOld)
	a.ssL -= ySum * (2*lNew + ySum)
}

func (a *ctgCutAccum) splitExplCtg(rkThis, idxInit, idxFinal int) {
	for idx := idxInit; idx >= idxFinal; idx-- {
		rkRight := rkThis
		rkThis = int(a.obs[idx].Rank)
		a.trialSplitCtg(idx, rkThis, rkRight)
		a.stateNextCtg(idx)
	}
}

func (a *ctgCutAccum) trialSplitCtg(idx, rkThis, rkRight int) {
	if rkThis == rkRight {
		return
	}
	sumR := a.sum - a.sumL
	if infoTrial, ok := infoGini(a.ssL, a.ssR, a.sumL, sumR); ok && infoTrial > a.info {
		a.info = infoTrial
		a.lhSCount = a.sCountL
		a.rankLH = rkThis
		a.rankRH = rkRight
		if rkRight == a.rankDense {
			a.rhMin = a.cutDense
		} else {
			a.rhMin = idx + 1
		}
	}
}

func (a *ctgCutAccum) splitImplCtg() {
	idxEnd := len(a.obs) - 1
	if a.cutDense > idxEnd {
		a.residualAndLeft(idxEnd, 0)
		return
	}
	a.stateNextCtg(idxEnd)
	a.splitExplCtg(int(a.obs[idxEnd].Rank), idxEnd-1, a.cutDense)
	a.residualTrial(int(a.obs[a.cutDense].Rank))
	if a.cutDense > 0 {
		a.residualAndLeft(a.cutDense-1, 0)
	}
}

// residualTrial evaluates the boundary left of the blob, then shifts the
// blob to the right side.
func (a *ctgCutAccum) residualTrial(rkRight int) {
	sumR := a.sum - a.sumL
	if infoTrial, ok := infoGini(a.ssL, a.ssR, a.sumL, sumR); ok && infoTrial > a.info {
		a.info = infoTrial
		a.lhSCount = a.sCountL
		a.rankLH = a.rankDense
		a.rankRH = rkRight
		a.rhMin = a.cutDense
	}
	a.shiftResidual()
}

func (a *ctgCutAccum) shiftResidual() {
	a.sumL -= a.residSum
	a.sCountL -= a.residSCount
	for ctg, ySum := range a.residCtg {
		if ySum != 0 {
			a.moveSS(ySum, ctg)
		}
	}
}

// residualAndLeft shifts the blob right, then continues the scan over the
// explicit positions to its left.
func (a *ctgCutAccum) residualAndLeft(idxLeft, idxStart int) {
	a.shiftResidual()
	a.splitExplCtg(a.rankDense, idxLeft, idxStart)
}
