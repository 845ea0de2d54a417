package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/decision-forest/internal/predict"
	"github.com/decision-forest/internal/repository"
	"github.com/decision-forest/internal/train"
	"github.com/decision-forest/pkg/compression"
	"github.com/decision-forest/pkg/parallel"
)

var (
	trainData     string
	trainResponse string
	trainFactors  string
	trainClassify bool
	trainTrees    int
	trainSamp     int
	trainWithRepl bool
	trainMinNode  int
	trainMaxDepth int
	trainMinRatio float64
	trainQuant    bool
	trainSeed     int64
	trainOut      string
	trainName     string
)

// trainCmd trains a forest from a CSV dataset.
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a decision forest from a CSV dataset",
	Example: `  decision-forest train --data housing.csv --response price --out housing.df
  decision-forest train --data iris.csv --response species --classify \
      --factors habitat --trees 200 --name iris`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if trainData == "" || trainResponse == "" {
			return fmt.Errorf("--data and --response are required")
		}

		var factors []string
		if trainFactors != "" {
			factors = strings.Split(trainFactors, ",")
		}
		ds, err := loadCSV(trainData, trainResponse, factors, trainClassify)
		if err != nil {
			return err
		}
		if ds.response == nil && ds.responseCtg == nil {
			return fmt.Errorf("response column %q not found", trainResponse)
		}

		nTree := trainTrees
		if nTree == 0 {
			nTree = cfg.Training.NTree
		}
		tcfg := train.Config{
			NTree:           nTree,
			NSamp:           trainSamp,
			WithReplacement: trainWithRepl,
			MinNode:         firstPositive(trainMinNode, cfg.Training.MinNode),
			MaxDepth:        firstPositive(trainMaxDepth, cfg.Training.MaxDepth),
			MinRatio:        trainMinRatio,
			Quantiles:       trainQuant,
			TreeBlock:       cfg.Training.TreeBlock,
			Workers:         workerPool(),
			Seed:            trainSeed,
			Logger:          logger,
		}
		if tcfg.Seed == 0 {
			tcfg.Seed = cfg.Training.Seed
		}

		logger.Info("training %d trees on %d rows, %d predictors",
			tcfg.NTree, ds.nRow, len(ds.numBlock)+len(ds.facBlock))

		ctx := context.Background()
		var res *train.Result
		kind := "regression"
		if trainClassify {
			kind = "classification"
			res, err = train.Classification(ctx, ds.numBlock, ds.facBlock, ds.facCard, ds.responseCtg, len(ds.ctgLabels), tcfg)
		} else {
			res, err = train.Regression(ctx, ds.numBlock, ds.facBlock, ds.facCard, ds.response, tcfg)
		}
		if err != nil {
			return errors.Wrap(err, "training failed")
		}
		if res.SkippedTrees > 0 {
			logger.Warn("%d trees skipped for empty bags", res.SkippedTrees)
		}

		oobErr := reportOOB(ctx, ds, res, trainClassify)
		reportGains(ds, res)

		if trainOut != "" {
			path, ctype, err := artifactTarget(trainOut)
			if err != nil {
				return err
			}
			if err := res.Model.SaveWith(path, ctype); err != nil {
				return err
			}
			logger.Info("model written to %s", path)
		}
		if trainName != "" {
			if err := registerModel(ctx, ds, res, kind, oobErr); err != nil {
				return err
			}
			logger.Info("model registered as %q", trainName)
		}
		return nil
	},
}

// artifactPath anchors bare artifact names in the configured storage
// directory; explicit paths pass through untouched.
func artifactPath(name string) string {
	if filepath.IsAbs(name) || strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	return filepath.Join(cfg.Storage.ArtifactDir, name)
}

// artifactTarget resolves the output path and codec for a new artifact,
// creating the storage directory when needed.
func artifactTarget(name string) (string, compression.Type, error) {
	ctype, err := compression.ParseType(cfg.Storage.Compression)
	if err != nil {
		return "", ctype, err
	}
	path := artifactPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", ctype, err
	}
	return path, ctype, nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func workerPool() parallel.PoolConfig {
	pool := parallel.DefaultPoolConfig()
	if cfg.Training.MaxWorker > 0 {
		pool = pool.WithWorkers(cfg.Training.MaxWorker)
	}
	return pool
}

// reportOOB logs the out-of-bag error over the training block.
func reportOOB(ctx context.Context, ds *dataset, res *train.Result, classify bool) float64 {
	p := predict.New(res.Model, workerPool(), logger)
	block, err := predict.NewBlock(res.Model.Forest, ds.rowsNum(), ds.rowsFac())
	if err != nil {
		logger.Warn("oob scoring skipped: %v", err)
		return 0
	}

	if classify {
		yPred, _, err := p.Classification(ctx, block, true)
		if err != nil {
			logger.Warn("oob scoring skipped: %v", err)
			return 0
		}
		wrong, scored := 0, 0
		for i, pred := range yPred {
			if pred < 0 {
				continue
			}
			scored++
			if pred != ds.responseCtg[i] {
				wrong++
			}
		}
		if scored == 0 {
			return 0
		}
		rate := float64(wrong) / float64(scored)
		logger.Info("oob misclassification: %.4f over %d rows", rate, scored)
		return rate
	}

	scores, _, err := p.Regression(ctx, block, true)
	if err != nil {
		logger.Warn("oob scoring skipped: %v", err)
		return 0
	}
	sse, scored := 0.0, 0
	for i, s := range scores {
		if s != s { // NaN: row bagged by every tree
			continue
		}
		d := s - ds.response[i]
		sse += d * d
		scored++
	}
	if scored == 0 {
		return 0
	}
	mse := sse / float64(scored)
	logger.Info("oob mse: %.6f over %d rows", mse, scored)
	return mse
}

func reportGains(ds *dataset, res *train.Result) {
	names := ds.predNames()
	for pred, gain := range res.PredInfo {
		logger.Info("  gain %-24s %.4f", names[pred], gain)
	}
}

func registerModel(ctx context.Context, ds *dataset, res *train.Result, kind string, oobErr float64) error {
	db, err := repository.NewGormDB(&cfg.Database)
	if err != nil {
		return err
	}
	repo, err := repository.NewGormModelRepository(db)
	if err != nil {
		return err
	}
	ctype, err := compression.ParseType(cfg.Storage.Compression)
	if err != nil {
		return err
	}
	artifact, err := res.Model.EncodeWith(ctype)
	if err != nil {
		return err
	}
	return repo.Save(ctx, &repository.ModelRecord{
		Name:     trainName,
		Kind:     kind,
		NRow:     ds.nRow,
		NPred:    res.Model.Forest.NPred(),
		NTree:    res.Model.Forest.NTree,
		OOBError: oobErr,
		Artifact: artifact,
	})
}

func init() {
	trainCmd.Flags().StringVar(&trainData, "data", "", "training dataset (CSV with header)")
	trainCmd.Flags().StringVar(&trainResponse, "response", "", "response column name")
	trainCmd.Flags().StringVar(&trainFactors, "factors", "", "comma-separated categorical column names")
	trainCmd.Flags().BoolVar(&trainClassify, "classify", false, "train a classifier instead of a regressor")
	trainCmd.Flags().IntVar(&trainTrees, "trees", 0, "number of trees (default from config)")
	trainCmd.Flags().IntVar(&trainSamp, "samp", 0, "samples drawn per tree (default: row count)")
	trainCmd.Flags().BoolVar(&trainWithRepl, "with-replacement", true, "bootstrap sampling")
	trainCmd.Flags().IntVar(&trainMinNode, "min-node", 0, "minimum samples for a splitable node")
	trainCmd.Flags().IntVar(&trainMaxDepth, "max-depth", 0, "maximum tree depth (0: unlimited)")
	trainCmd.Flags().Float64Var(&trainMinRatio, "min-ratio", 0, "minimum child information ratio")
	trainCmd.Flags().BoolVar(&trainQuant, "quantiles", false, "retain leaf state for quantile regression")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "random seed")
	trainCmd.Flags().StringVar(&trainOut, "out", "", "artifact output path (bare names land in storage.artifact_dir)")
	trainCmd.Flags().StringVar(&trainName, "name", "", "register the model under this name")
	rootCmd.AddCommand(trainCmd)
}
