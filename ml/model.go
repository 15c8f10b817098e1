package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Regressor is a trained model that maps a feature vector to a price.
type Regressor interface {
	Fit(ctx context.Context, features [][]float64, targets []float64) error
	Predict(features []float64) (float64, error)
	Save(path string) error
	Load(path string) error
	Info() ModelInfo
}

// ModelInfo describes a trained model.
type ModelInfo struct {
	Kind         string    `json:"kind"`
	Trees        int       `json:"trees"`
	Nodes        int       `json:"nodes"`
	FeatureNames []string  `json:"feature_names"`
	TrainedAt    time.Time `json:"trained_at"`
	Seed         int64     `json:"seed"`
}

// modelEnvelope is the on-disk form of a model: zstd-compressed JSON.
type modelEnvelope struct {
	Kind         string       `json:"kind"`
	FeatureNames []string     `json:"feature_names"`
	Trees        [][]TreeNode `json:"trees"`
	TrainedAt    time.Time    `json:"trained_at"`
	Seed         int64        `json:"seed"`
}

// writeEnvelope writes next to path and renames into place, so a reader
// watching path never sees a partial file.
func writeEnvelope(path string, envelope *modelEnvelope) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		return err
	}
	if err = json.NewEncoder(zw).Encode(envelope); err != nil {
		zw.Close()
		return fmt.Errorf("encode model: %w", err)
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("compress model: %w", err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readEnvelope(path string) (*modelEnvelope, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var envelope modelEnvelope
	if err := json.NewDecoder(zr).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	return &envelope, nil
}
