package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/decision-forest/internal/forest"
	"github.com/decision-forest/internal/predict"
	"github.com/decision-forest/internal/repository"
	"github.com/decision-forest/pkg/writer"
)

var (
	predModel    string
	predName     string
	predData     string
	predFactors  string
	predOOB      bool
	predQuants   string
	predResponse string
	predImport   bool
	predOut      string
)

// predictReport is the JSON output shape.
type predictReport struct {
	NTree      int                  `json:"n_tree"`
	Scores     []float64            `json:"scores,omitempty"`
	Categories []int                `json:"categories,omitempty"`
	Census     [][]int              `json:"census,omitempty"`
	TreesUsed  []int                `json:"trees_used,omitempty"`
	Quantiles  [][]float64          `json:"quantiles,omitempty"`
	Importance map[string][]float64 `json:"importance,omitempty"`
}

// predictCmd applies a stored model to new data.
var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict over a CSV dataset with a trained forest",
	Example: `  decision-forest predict --model housing.df --data new.csv --out scores.json
  decision-forest predict --name iris --data iris.csv --oob`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if predData == "" {
			return fmt.Errorf("--data is required")
		}
		model, err := resolveModel()
		if err != nil {
			return err
		}

		var factors []string
		if predFactors != "" {
			factors = strings.Split(predFactors, ",")
		}
		ds, err := loadCSV(predData, predResponse, factors, false)
		if err != nil {
			return err
		}

		block, err := predict.NewBlock(model.Forest, ds.rowsNum(), ds.rowsFac())
		if err != nil {
			return err
		}

		ctx := context.Background()
		p := predict.New(model, workerPool(), logger)
		report := predictReport{NTree: model.Forest.NTree}

		if model.Forest.NCtg > 0 {
			report.Categories, report.Census, err = p.Classification(ctx, block, predOOB)
		} else {
			report.Scores, report.TreesUsed, err = p.Regression(ctx, block, predOOB)
		}
		if err != nil {
			return err
		}

		if predQuants != "" {
			qVec, qerr := parseQuantiles(predQuants)
			if qerr != nil {
				return qerr
			}
			report.Quantiles, err = p.Quantiles(ctx, block, qVec, predOOB)
			if err != nil {
				return err
			}
		}

		if predImport {
			if ds.response == nil {
				return fmt.Errorf("--importance needs --response naming a numeric column")
			}
			imp, ierr := p.Importance(ctx, block, ds.response, rand.New(rand.NewSource(cfg.Training.Seed)))
			if ierr != nil {
				return ierr
			}
			report.Importance = map[string][]float64{"sse_increase": imp}
		}

		w := writer.NewPrettyJSONWriter[predictReport]()
		if predOut != "" {
			if err := w.WriteToFile(report, predOut); err != nil {
				return err
			}
			logger.Info("predictions written to %s", predOut)
			return nil
		}
		return w.Write(report, os.Stdout)
	},
}

func resolveModel() (*forest.Model, error) {
	switch {
	case predModel != "":
		return forest.Load(artifactPath(predModel))
	case predName != "":
		db, err := repository.NewGormDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		repo, err := repository.NewGormModelRepository(db)
		if err != nil {
			return nil, err
		}
		rec, err := repo.GetByName(context.Background(), predName)
		if err != nil {
			return nil, err
		}
		return forest.Decode(rec.Artifact)
	default:
		return nil, fmt.Errorf("--model or --name is required")
	}
}

func parseQuantiles(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		q, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("bad quantile %q", part)
		}
		out = append(out, q)
	}
	return out, nil
}

func init() {
	predictCmd.Flags().StringVar(&predModel, "model", "", "artifact path (bare names resolve in storage.artifact_dir)")
	predictCmd.Flags().StringVar(&predName, "name", "", "registered model name")
	predictCmd.Flags().StringVar(&predData, "data", "", "dataset to score (CSV with header)")
	predictCmd.Flags().StringVar(&predFactors, "factors", "", "comma-separated categorical column names")
	predictCmd.Flags().BoolVar(&predOOB, "oob", false, "restrict to out-of-bag trees (training rows)")
	predictCmd.Flags().StringVar(&predQuants, "quantiles", "", "comma-separated quantiles to estimate")
	predictCmd.Flags().StringVar(&predResponse, "response", "", "response column (for --importance)")
	predictCmd.Flags().BoolVar(&predImport, "importance", false, "report permutation importance")
	predictCmd.Flags().StringVar(&predOut, "out", "", "output JSON path (default: stdout)")
	rootCmd.AddCommand(predictCmd)
}
