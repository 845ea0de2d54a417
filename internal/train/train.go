// Package train drives a training session: validation, the per-tree
// pipeline of sampling, staging, per-level splitting and consumption, and
// forest accumulation across tree blocks.
package train

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/decision-forest/internal/forest"
	"github.com/decision-forest/internal/frame"
	"github.com/decision-forest/internal/frontier"
	"github.com/decision-forest/internal/leaf"
	"github.com/decision-forest/internal/partition"
	"github.com/decision-forest/internal/pretree"
	"github.com/decision-forest/internal/sample"
	"github.com/decision-forest/internal/splits"
	"github.com/decision-forest/pkg/errors"
	"github.com/decision-forest/pkg/parallel"
	"github.com/decision-forest/pkg/utils"
)

// seedStride decorrelates per-tree random streams.
const seedStride = 0x9e3779b9

// Config holds the training inputs beyond the observation frame.
type Config struct {
	NTree int

	// NSamp is the per-tree draw count; 0 defaults to the row count.
	NSamp           int
	WithReplacement bool
	SampleWeight    []float64

	MinNode  int
	MaxDepth int // 0: unlimited
	MinRatio float64

	// Candidate selection: Bernoulli per-predictor probabilities, or a
	// fixed per-node count. PredFixed wins when both are set.
	PredProb  []float64
	PredFixed int

	MonoSign   []int     // per numeric predictor; regression only
	SplitQuant []float64 // per numeric predictor cut interpolation

	// Quantiles retains leaf rank state for quantile regression.
	Quantiles bool

	// DenseThreshold enables the implicit-rank optimization; 0 disables.
	DenseThreshold float64

	// TreeBlock bounds the number of trees trained concurrently.
	TreeBlock int
	Workers   parallel.PoolConfig
	Seed      int64

	Logger utils.Logger
}

// Result is a finished training session.
type Result struct {
	Model *forest.Model

	// PredInfo gives cumulative split information gain per predictor.
	PredInfo []float64

	// SkippedTrees counts trees abandoned for empty bags.
	SkippedTrees int
}

// Regression trains a regression forest over the given blocks.
func Regression(ctx context.Context, numBlock [][]float64, facBlock [][]int, facCard []int, y []float64, cfg Config) (*Result, error) {
	return train(ctx, numBlock, facBlock, facCard, y, nil, 0, cfg)
}

// Classification trains a classification forest; yCtg holds 0-based
// category codes below nCtg.
func Classification(ctx context.Context, numBlock [][]float64, facBlock [][]int, facCard []int, yCtg []int, nCtg int, cfg Config) (*Result, error) {
	if nCtg < 2 {
		return nil, errors.Newf(errors.CodeInvalidInput, "classification requires at least 2 categories, got %d", nCtg)
	}
	for i, c := range yCtg {
		if c < 0 || c >= nCtg {
			return nil, errors.Newf(errors.CodeInvalidInput, "category %d at row %d outside [0,%d)", c, i, nCtg)
		}
	}
	// The response enters the statistics as unit weight per draw; the
	// category channel carries the class.
	y := make([]float64, len(yCtg))
	for i := range y {
		y[i] = 1.0
	}
	return train(ctx, numBlock, facBlock, facCard, y, yCtg, nCtg, cfg)
}

func train(ctx context.Context, numBlock [][]float64, facBlock [][]int, facCard []int, y []float64, yCtg []int, nCtg int, cfg Config) (*Result, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = &utils.NullLogger{}
	}

	fOpts := frame.DefaultOptions()
	if cfg.DenseThreshold > 0 {
		fOpts.DenseThreshold = cfg.DenseThreshold
	}
	fOpts.Workers = cfg.Workers

	f, err := frame.New(numBlock, facBlock, facCard, fOpts)
	if err != nil {
		return nil, err
	}
	if len(y) != f.NRow() {
		return nil, errors.Newf(errors.CodeInvalidInput, "response length %d does not match row count %d", len(y), f.NRow())
	}
	if err := validate(&cfg, f, nCtg); err != nil {
		return nil, err
	}

	timer := utils.NewTimer("train")
	defer func() { logger.Debug("%s", timer.Summary()) }()

	// Quantile bookkeeping wants the ranked response.
	var y2Rank []int
	var yRanked []float64
	wantLeaves := cfg.Quantiles && nCtg == 0
	if wantLeaves {
		y2Rank, yRanked = sample.ResponseRanks(y)
	}

	out := forest.New(f.NRow(), f.NPredNum(), f.NPredFac(), nCtg, f.Cardinalities())
	var leafSet *leaf.Set
	if wantLeaves {
		leafSet = leaf.NewSet(yRanked)
	}

	splitCfg := splits.Config{
		NCtg:       nCtg,
		MinNode:    cfg.MinNode,
		PredProb:   cfg.PredProb,
		PredFixed:  cfg.PredFixed,
		MonoSign:   cfg.MonoSign,
		SplitQuant: cfg.SplitQuant,
		Workers:    cfg.Workers,
	}

	type treeOut struct {
		tree   *forest.Tree
		leaves *leaf.TreeLeaves
	}

	var skipped int64
	trees := make([]*treeOut, cfg.NTree)
	stopTrain := timer.Start("trees")

	treeBlock := cfg.TreeBlock
	if treeBlock <= 0 {
		treeBlock = 1
	}
	for blockStart := 0; blockStart < cfg.NTree; blockStart += treeBlock {
		// Cancellation is cooperative at tree boundaries: an abandoned
		// block discards its partial results.
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.CodeTrainError, "training cancelled", err)
		}

		blockEnd := blockStart + treeBlock
		if blockEnd > cfg.NTree {
			blockEnd = cfg.NTree
		}

		g, gctx := errgroup.WithContext(ctx)
		for treeIdx := blockStart; treeIdx < blockEnd; treeIdx++ {
			treeIdx := treeIdx
			g.Go(func() error {
				rng := rand.New(rand.NewSource(cfg.Seed + int64(treeIdx)*seedStride))
				t, l, err := trainTree(gctx, f, y, yCtg, nCtg, y2Rank, wantLeaves, splitCfg, cfg, rng)
				if err != nil {
					if errors.IsEmptyBag(err) {
						atomic.AddInt64(&skipped, 1)
						logger.Warn("tree %d skipped: %v", treeIdx, err)
						return nil
					}
					return err
				}
				trees[treeIdx] = &treeOut{tree: t, leaves: l}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	stopTrain()

	// Per-tree slots consume in index order, keeping the packed layout
	// deterministic under concurrent training.
	stopConsume := timer.Start("consume")
	for treeIdx, to := range trees {
		if to == nil {
			continue
		}
		out.AppendTree(to.tree)
		if leafSet != nil {
			leafSet.AppendTree(to.leaves)
		}
		logger.Debug("tree %d consumed: %d nodes", treeIdx, len(to.tree.Pred))
	}
	stopConsume()

	if out.NTree == 0 {
		return nil, errors.New(errors.CodeTrainError, "no trees trained")
	}

	return &Result{
		Model:        &forest.Model{Forest: out, Leaves: leafSet},
		PredInfo:     out.PredInfo,
		SkippedTrees: int(skipped),
	}, nil
}

// trainTree runs the per-tree pipeline: bag, stage, split level by level,
// then consume the pre-tree.
func trainTree(ctx context.Context, f *frame.Frame, y []float64, yCtg []int, nCtg int, y2Rank []int, wantLeaves bool,
	splitCfg splits.Config, cfg Config, rng *rand.Rand) (*forest.Tree, *leaf.TreeLeaves, error) {
	nSamp := cfg.NSamp
	if nSamp == 0 {
		nSamp = f.NRow()
	}
	rows, err := sample.Rows(f.NRow(), nSamp, cfg.WithReplacement, cfg.SampleWeight, rng)
	if err != nil {
		return nil, nil, err
	}
	smp := sample.Pack(rows, y, yCtg, nCtg, y2Rank)

	pt := pretree.New(smp.BagCount)
	front := frontier.New(smp, pt, nCtg, cfg.MinNode, cfg.MaxDepth, cfg.MinRatio)
	lvl := partition.NewInterLevel(f, smp)
	sf := splits.New(f, lvl, front, splitCfg, rng)

	for !front.Empty() {
		decisions := sf.Split(ctx)
		if len(decisions) == 0 {
			break // every remaining node is a leaf
		}
		front.Apply(decisions, lvl.ObsPart())
		parents, destOf := front.Dispatch()
		if !front.Empty() {
			lvl.NextLevel(parents, len(front.Sets()), destOf)
		}
	}

	tree, leaves := pt.Consume(smp, f.NPred(), nCtg, wantLeaves)
	return tree, leaves, nil
}

// validate enforces the configuration contract before any tree trains.
func validate(cfg *Config, f *frame.Frame, nCtg int) error {
	if cfg.NTree < 1 {
		return errors.Newf(errors.CodeConfigError, "nTree must be positive, got %d", cfg.NTree)
	}
	if cfg.NSamp < 0 {
		return errors.Newf(errors.CodeConfigError, "nSamp must be nonnegative, got %d", cfg.NSamp)
	}
	if cfg.NSamp == 0 && f.NRow() == 0 {
		return errors.New(errors.CodeConfigError, "nSamp resolves to zero")
	}
	if cfg.MaxDepth < 0 {
		return errors.Newf(errors.CodeConfigError, "maxDepth must be at least 1, or 0 for unlimited; got %d", cfg.MaxDepth)
	}
	if cfg.MinRatio < 0 || cfg.MinRatio > 1 {
		return errors.Newf(errors.CodeConfigError, "minRatio %g outside [0,1]", cfg.MinRatio)
	}
	if cfg.MinNode < 1 {
		cfg.MinNode = 1
	}
	if cfg.PredProb != nil {
		if len(cfg.PredProb) != f.NPred() {
			return errors.Newf(errors.CodeConfigError, "predProb length %d does not match predictor count %d", len(cfg.PredProb), f.NPred())
		}
		for pred, p := range cfg.PredProb {
			if p < 0 || p > 1 {
				return errors.Newf(errors.CodeConfigError, "predProb[%d] = %g outside [0,1]", pred, p)
			}
		}
	}
	if cfg.MonoSign != nil && len(cfg.MonoSign) != f.NPredNum() {
		return errors.Newf(errors.CodeConfigError, "monoSign length %d does not match numeric predictor count %d", len(cfg.MonoSign), f.NPredNum())
	}
	if cfg.SplitQuant != nil {
		if len(cfg.SplitQuant) != f.NPredNum() {
			return errors.Newf(errors.CodeConfigError, "splitQuant length %d does not match numeric predictor count %d", len(cfg.SplitQuant), f.NPredNum())
		}
		for pred, q := range cfg.SplitQuant {
			if q < 0 || q > 1 {
				return errors.Newf(errors.CodeConfigError, "splitQuant[%d] = %g outside [0,1]", pred, q)
			}
		}
	}
	if cfg.SampleWeight != nil && len(cfg.SampleWeight) != f.NRow() {
		return errors.Newf(errors.CodeConfigError, "sample weight length %d does not match row count %d", len(cfg.SampleWeight), f.NRow())
	}

	// Default predictor selection: a fixed draw of nPred/3 for
	// regression, sqrt(nPred) for classification.
	if cfg.PredProb == nil && cfg.PredFixed == 0 {
		fixed := f.NPred() / 3
		if nCtg > 0 {
			fixed = int(math.Sqrt(float64(f.NPred())))
		}
		if fixed < 1 {
			fixed = 1
		}
		cfg.PredFixed = fixed
	}
	return nil
}
