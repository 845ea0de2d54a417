package splits

import (
	"context"
	"math/rand"

	"github.com/decision-forest/internal/frame"
	"github.com/decision-forest/internal/frontier"
	"github.com/decision-forest/internal/partition"
	"github.com/decision-forest/pkg/collections"
	"github.com/decision-forest/pkg/parallel"
)

// Config parameterizes split selection for one training session.
type Config struct {
	NCtg    int
	MinNode int

	// PredProb enables Bernoulli candidate selection: each predictor is
	// admitted independently with its own probability. When PredFixed is
	// set, PredProb weights the fixed draw instead.
	PredProb []float64

	// PredFixed selects exactly this many predictors per node, weighted
	// by PredProb when present, uniformly otherwise.
	PredFixed int

	// MonoSign constrains numeric splits: +1 forces nondecreasing
	// response in the predictor, -1 nonincreasing, 0 unconstrained.
	// Regression only.
	MonoSign []int

	// SplitQuant interpolates each numeric predictor's cut value between
	// the bounding ranks; 0.5 yields the midpoint.
	SplitQuant []float64

	Workers parallel.PoolConfig
}

// cand is one (node, predictor) splitting candidate. Its random variates
// are drawn at scheduling time so evaluation is deterministic given the
// slice, regardless of worker interleaving.
type cand struct {
	set  *frontier.IndexSet
	cell *partition.StagedCell

	invert bool      // factor argmax inversion bit
	rv     []float64 // wide-factor sampling variates

	// Evaluation output.
	ok       bool
	info     float64
	lhSCount int

	// Numeric.
	rankLH, rankRH int
	rhMin          int // relative explicit true bound
	lhImplicit     bool

	// Factor.
	trueRanges   [][2]int
	trueCodes    []int
	implicitTrue bool
}

// SplitFrontier mediates one level's splitting: it reads the frontier's
// node table and the staged partition, evaluates candidates and emits the
// per-node argmax decisions.
type SplitFrontier struct {
	frame *frame.Frame
	lvl   *partition.InterLevel
	front *frontier.Frontier
	cfg   Config
	rng   *rand.Rand
}

// New creates the splitting mediator for a tree.
func New(f *frame.Frame, lvl *partition.InterLevel, front *frontier.Frontier, cfg Config, rng *rand.Rand) *SplitFrontier {
	return &SplitFrontier{frame: f, lvl: lvl, front: front, cfg: cfg, rng: rng}
}

// Split schedules, evaluates and resolves one level's candidates,
// returning the accepted decision for each splitting node.
func (sf *SplitFrontier) Split(ctx context.Context) []*frontier.SplitDecision {
	cands := sf.schedule()
	if len(cands) == 0 {
		return nil
	}

	// Candidates read disjoint cell slices and write only their own
	// accumulators; they evaluate independently.
	_ = parallel.For(ctx, sf.cfg.Workers, len(cands), func(i int) {
		sf.evaluate(cands[i])
	})

	return sf.resolve(cands)
}

// schedule emits candidates per the configured selection mode, filtering
// unsplitable nodes and delisted cells. Variates are drawn here, in
// deterministic node-predictor order.
func (sf *SplitFrontier) schedule() []*cand {
	var cands []*cand
	for _, set := range sf.front.Sets() {
		if set.Unsplitable(sf.cfg.MinNode) {
			continue
		}
		if sf.cfg.PredFixed > 0 {
			cands = append(cands, sf.scheduleFixed(set)...)
		} else {
			cands = append(cands, sf.scheduleBernoulli(set)...)
		}
	}
	return cands
}

// scheduleBernoulli admits each live predictor independently.
func (sf *SplitFrontier) scheduleBernoulli(set *frontier.IndexSet) []*cand {
	var out []*cand
	for pred := 0; pred < sf.lvl.NPred(); pred++ {
		draw := sf.rng.Float64()
		cell := sf.lvl.Cell(set.SplitIdx, pred)
		if cell == nil || draw >= sf.cfg.PredProb[pred] {
			continue
		}
		out = append(out, sf.newCand(set, cell))
	}
	return out
}

// scheduleFixed draws exactly predFixed predictors per node by ranking
// weighted variates on a min-heap.
func (sf *SplitFrontier) scheduleFixed(set *frontier.IndexSet) []*cand {
	h := collections.NewBHeap(sf.lvl.NPred())
	live := 0
	for pred := 0; pred < sf.lvl.NPred(); pred++ {
		draw := sf.rng.ExpFloat64()
		cell := sf.lvl.Cell(set.SplitIdx, pred)
		if cell == nil {
			continue
		}
		weight := 1.0
		if sf.cfg.PredProb != nil {
			weight = sf.cfg.PredProb[pred]
			if weight <= 0 {
				continue
			}
		}
		h.Insert(pred, draw/weight)
		live++
	}

	nSelect := sf.cfg.PredFixed
	if nSelect > live {
		nSelect = live
	}
	var out []*cand
	for i := 0; i < nSelect; i++ {
		pred := h.Pop()
		out = append(out, sf.newCand(set, sf.lvl.Cell(set.SplitIdx, pred)))
	}
	return out
}

func (sf *SplitFrontier) newCand(set *frontier.IndexSet, cell *partition.StagedCell) *cand {
	c := &cand{set: set, cell: cell}
	if sf.frame.IsFactor(cell.PredIdx) {
		c.invert = sf.rng.Intn(2) == 1
		if cell.RunCount > maxWidth {
			c.rv = make([]float64, cell.RunCount)
			for i := range c.rv {
				c.rv[i] = sf.rng.Float64()
			}
		}
	}
	return c
}

// evaluate runs the accumulator appropriate to the candidate's predictor
// and response kinds.
func (sf *SplitFrontier) evaluate(c *cand) {
	obs := sf.lvl.ObsPart().Cell(c.cell)
	if sf.frame.IsFactor(c.cell.PredIdx) {
		sf.evaluateFac(c, obs)
	} else {
		sf.evaluateNum(c, obs)
	}
}

func (sf *SplitFrontier) evaluateNum(c *cand, obs []partition.Obs) {
	if sf.cfg.NCtg > 0 {
		a := newCtgCutAccum(c, obs, sf.cfg.NCtg)
		if a.split() {
			c.ok = true
			c.info = a.info
			c.lhSCount = a.lhSCount
			c.rankLH, c.rankRH = a.rankLH, a.rankRH
			c.rhMin = a.rhMin
			c.lhImplicit = a.lhImplicit()
		}
		return
	}

	monoMode := 0
	if sf.cfg.MonoSign != nil {
		monoMode = sf.cfg.MonoSign[c.cell.PredIdx]
	}
	a := newCutAccum(c, obs, monoMode)
	if a.split() {
		c.ok = true
		c.info = a.info
		c.lhSCount = a.lhSCount
		c.rankLH, c.rankRH = a.rankLH, a.rankRH
		c.rhMin = a.rhMin
		c.lhImplicit = a.lhImplicit()
	}
}

func (sf *SplitFrontier) evaluateFac(c *cand, obs []partition.Obs) {
	runsBuf := runPool.Get()
	a := &runAccum{
		runs: buildRuns(*runsBuf, c, obs, sf.cfg.NCtg),
		nCtg: sf.cfg.NCtg,
		info: c.set.SplitFloor(),
	}
	defer func() {
		// The decision copies codes and ranges out, so the table can go
		// back to the pool at its grown capacity.
		*runsBuf = a.runs
		runPool.Put(runsBuf)
	}()
	if len(a.runs) < 2 || !a.splitRuns(c) {
		return
	}
	c.ok = true
	c.info = a.info
	c.lhSCount = a.lhSCount
	for _, slot := range a.trueIdx {
		r := &a.runs[slot]
		c.trueCodes = append(c.trueCodes, r.code)
		if r.implicit() {
			c.implicitTrue = true
		} else {
			c.trueRanges = append(c.trueRanges, [2]int{c.cell.Start + r.start, r.extent})
		}
	}
}

// resolve picks each node's maximal-information candidate and encodes it.
func (sf *SplitFrontier) resolve(cands []*cand) []*frontier.SplitDecision {
	best := make(map[int]*cand)
	for _, c := range cands {
		if !c.ok {
			continue
		}
		if cur, exists := best[c.set.SplitIdx]; !exists || c.info > cur.info {
			best[c.set.SplitIdx] = c
		}
	}

	var decisions []*frontier.SplitDecision
	for _, set := range sf.front.Sets() {
		c, exists := best[set.SplitIdx]
		if !exists {
			continue // node becomes a leaf
		}
		decisions = append(decisions, sf.encode(c))
	}
	return decisions
}

// encode translates an accepted candidate into the frontier's decision
// form. Information is recorded as gain above the node's pre-bias.
func (sf *SplitFrontier) encode(c *cand) *frontier.SplitDecision {
	pred := c.cell.PredIdx
	dec := &frontier.SplitDecision{
		SplitIdx: c.set.SplitIdx,
		PredIdx:  pred,
		Info:     c.info - c.set.PreBias,
		Cell:     c.cell,
	}
	if sf.frame.IsFactor(pred) {
		dec.Factor = true
		dec.Cardinality = sf.frame.Cardinality(pred)
		dec.TrueRanges = c.trueRanges
		dec.TrueCodes = c.trueCodes
		dec.ImplicitTrue = c.implicitTrue
	} else {
		quant := 0.5
		if sf.cfg.SplitQuant != nil {
			quant = sf.cfg.SplitQuant[pred]
		}
		dec.SplitVal = sf.frame.SplitValue(pred, c.rankLH, c.rankRH, quant)
		dec.CutObs = c.cell.Start + c.rhMin
		dec.ImplicitTrue = c.lhImplicit
	}
	return dec
}
