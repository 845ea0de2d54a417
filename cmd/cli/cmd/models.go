package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/decision-forest/internal/repository"
)

var modelsLimit int

// modelsCmd lists registered models.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List registered models",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo()
		if err != nil {
			return err
		}
		recs, err := repo.List(context.Background(), modelsLimit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("no models registered")
			return nil
		}
		fmt.Printf("%-6s %-20s %-14s %8s %8s %8s %10s  %s\n",
			"ID", "NAME", "KIND", "ROWS", "PREDS", "TREES", "OOB", "CREATED")
		for _, rec := range recs {
			fmt.Printf("%-6d %-20s %-14s %8d %8d %8d %10.4f  %s\n",
				rec.ID, rec.Name, rec.Kind, rec.NRow, rec.NPred, rec.NTree,
				rec.OOBError, rec.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

// modelsDeleteCmd removes a registered model.
var modelsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a registered model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo()
		if err != nil {
			return err
		}
		if err := repo.Delete(context.Background(), args[0]); err != nil {
			return err
		}
		logger.Info("model %q deleted", args[0])
		return nil
	},
}

func openRepo() (*repository.GormModelRepository, error) {
	db, err := repository.NewGormDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	return repository.NewGormModelRepository(db)
}

func init() {
	modelsCmd.Flags().IntVar(&modelsLimit, "limit", 50, "maximum models to list")
	modelsCmd.AddCommand(modelsDeleteCmd)
	rootCmd.AddCommand(modelsCmd)
}
