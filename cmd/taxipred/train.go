package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxipred/config"
	"taxipred/db"
	"taxipred/ml"
	"taxipred/pipeline"
	"taxipred/training"
)

func trainCmd(g *globals) *cobra.Command {
	var (
		dataPath  string
		modelPath string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Clean the dataset, fit the forest and save the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			if dataPath != "" {
				cfg.Data.Path = dataPath
			}
			if modelPath != "" {
				cfg.Predictor.ModelPath = modelPath
			}

			result, err := training.Run(cmd.Context(), trainingConfig(cfg), log.Named("training"))
			if err != nil {
				return err
			}
			recordRun(cmd, cfg, result, log)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprintf(out, "MAE: %.2f\n", result.MAE)
			fmt.Fprintf(out, "R2 score: %.3f\n", result.R2)
			fmt.Fprintf(out, "Model saved to: %s\n", result.ModelPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "Dataset CSV; overrides data.path")
	cmd.Flags().StringVar(&modelPath, "model", "", "Model output path; overrides predictor.model_path")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full run result as JSON")
	return cmd
}

func trainingConfig(cfg *config.Config) training.Config {
	forest := ml.DefaultForestParams()
	forest.NEstimators = cfg.Training.NEstimators
	forest.MaxDepth = cfg.Training.MaxDepth
	if cfg.Training.MinSamplesSplit > 0 {
		forest.MinSamplesSplit = cfg.Training.MinSamplesSplit
	}
	if cfg.Training.MinSamplesLeaf > 0 {
		forest.MinSamplesLeaf = cfg.Training.MinSamplesLeaf
	}
	forest.Workers = cfg.Training.Workers

	var rules []pipeline.RuleSpec
	for _, rule := range cfg.Cleaning.Rules {
		rules = append(rules, pipeline.RuleSpec{Name: rule.Name, Expression: rule.Expression})
	}

	return training.Config{
		DataPath:  cfg.Data.Path,
		ModelPath: cfg.Predictor.ModelPath,
		TestRatio: cfg.Training.TestRatio,
		Seed:      cfg.Training.Seed,
		Forest:    forest,
		Cleaning: pipeline.CleaningOptions{
			Quantile: cfg.Cleaning.Quantile,
			Rules:    rules,
		},
	}
}

// recordRun appends the run to the training log. The model is already saved, so failures only warn.
func recordRun(cmd *cobra.Command, cfg *config.Config, result *training.Result, log *zap.Logger) {
	if cfg.Database.Path == "" {
		return
	}
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Warn("training log unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	err = store.SaveTrainingRun(cmd.Context(), db.TrainingRun{
		RunID:       result.RunID,
		DataPath:    cfg.Data.Path,
		ModelPath:   result.ModelPath,
		RowsRaw:     result.RowsRaw,
		RowsClean:   result.RowsClean,
		TrainRows:   result.TrainRows,
		TestRows:    result.TestRows,
		NEstimators: result.Model.Trees,
		Seed:        cfg.Training.Seed,
		MAE:         result.MAE,
		R2:          result.R2,
		Duration:    result.Duration,
		TrainedAt:   time.Now(),
	})
	if err != nil {
		log.Warn("failed to record training run", zap.Error(err))
	}
}
