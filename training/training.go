// Package training runs the offline pipeline: load, clean, split, fit, score, save.
package training

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"taxipred/ml"
	"taxipred/pipeline"
)

// ErrNoRows is returned when cleaning leaves nothing to train on.
var ErrNoRows = errors.New("no rows to train on")

// Config describes one training run.
type Config struct {
	DataPath  string
	ModelPath string
	TestRatio float64
	// Seed drives both the train/test shuffle and the forest.
	Seed     int64
	Forest   ml.ForestParams
	Cleaning pipeline.CleaningOptions
}

// Result is the outcome of one training run.
type Result struct {
	RunID     string                  `json:"run_id"`
	RowsRaw   int                     `json:"rows_raw"`
	RowsClean int                     `json:"rows_clean"`
	TrainRows int                     `json:"train_rows"`
	TestRows  int                     `json:"test_rows"`
	MAE       float64                 `json:"mae"`
	R2        float64                 `json:"r2"`
	ModelPath string                  `json:"model_path"`
	Model     ml.ModelInfo            `json:"model"`
	Duration  time.Duration           `json:"duration"`
	Report    pipeline.CleaningReport `json:"cleaning"`
}

// Run loads, cleans and splits the dataset, fits the forest, scores it and saves the model.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	result := &Result{RunID: ulid.Make().String(), ModelPath: cfg.ModelPath}
	logger = logger.With(zap.String("run_id", result.RunID))

	records, err := pipeline.LoadCSV(cfg.DataPath)
	if err != nil {
		return nil, err
	}
	result.RowsRaw = len(records)

	cleaner, err := pipeline.NewDataCleaner(cfg.Cleaning)
	if err != nil {
		return nil, fmt.Errorf("build cleaner: %w", err)
	}
	logger.Debug("cleaning rules", zap.Any("rules", cleaner.RuleExpressions()))
	cleaned, report := cleaner.Clean(records)
	result.Report = report
	result.RowsClean = len(cleaned)
	logger.Info("dataset cleaned",
		zap.Int("rows_in", report.RowsIn),
		zap.Int("missing_dropped", report.MissingDropped),
		zap.Any("rule_dropped", report.RuleDropped),
		zap.Any("outlier_dropped", report.OutlierDropped),
		zap.Int("rows_out", report.RowsOut),
	)
	if len(cleaned) == 0 {
		return nil, ErrNoRows
	}

	features, targets := pipeline.FeaturesAndTarget(cleaned)
	trainX, testX, trainY, testY, err := pipeline.TrainTestSplit(features, targets, cfg.TestRatio, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("split dataset: %w", err)
	}
	result.TrainRows = len(trainX)
	result.TestRows = len(testX)

	params := cfg.Forest
	params.Seed = cfg.Seed
	forest := ml.NewRandomForest(params, pipeline.FeatureColumns)
	if err := forest.Fit(ctx, trainX, trainY); err != nil {
		return nil, err
	}
	logger.Info("forest fitted",
		zap.Int("trees", params.NEstimators),
		zap.Int("train_rows", len(trainX)),
		zap.Duration("elapsed", time.Since(start)),
	)

	predicted := make([]float64, len(testX))
	for i, row := range testX {
		if predicted[i], err = forest.Predict(row); err != nil {
			return nil, fmt.Errorf("score test partition: %w", err)
		}
	}
	if result.MAE, err = ml.MeanAbsoluteError(testY, predicted); err != nil {
		return nil, err
	}
	if result.R2, err = ml.R2Score(testY, predicted); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.ModelPath), 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	if err := forest.Save(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}

	result.Model = forest.Info()
	result.Duration = time.Since(start)
	logger.Info("training finished",
		zap.Float64("mae", result.MAE),
		zap.Float64("r2", result.R2),
		zap.String("model_path", cfg.ModelPath),
	)
	return result, nil
}
