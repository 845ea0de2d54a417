// Package cmd implements the decision-forest CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decision-forest/pkg/config"
	"github.com/decision-forest/pkg/utils"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger utils.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "decision-forest",
	Short: "Train and apply decision-forest models on tabular data",
	Long: `decision-forest trains random-forest ensembles for regression and
multi-class classification over tabular data mixing numeric and
categorical predictors, with out-of-bag scoring, quantile regression and
permutation variable importance.

Trained forests are saved as compact artifacts and optionally registered
in a model database for later prediction runs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		logLevel := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			logLevel = utils.LevelDebug
		}
		if cfg.Log.OutputPath != "" {
			logger, err = utils.NewFileLogger(logLevel, cfg.Log.OutputPath)
			if err != nil {
				return err
			}
		} else {
			logger = utils.NewDefaultLogger(logLevel, os.Stderr)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
