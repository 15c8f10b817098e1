// Package predictor owns the trained model and answers price requests.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"taxipred/ml"
	"taxipred/monitoring"
)

// Currency tags every prediction.
const Currency = "SEK"

// ErrModelNotLoaded is returned when no model is available.
var ErrModelNotLoaded = errors.New("model not loaded")

// TripFeatures is the prediction input. JSON keys match the training CSV header.
type TripFeatures struct {
	TripDistanceKm      float64 `json:"Trip_Distance_km"`
	TripDurationMinutes float64 `json:"Trip_Duration_Minutes"`
	PassengerCount      int     `json:"Passenger_Count"`
	BaseFare            float64 `json:"Base_Fare"`
	PerKmRate           float64 `json:"Per_Km_Rate"`
	PerMinuteRate       float64 `json:"Per_Minute_Rate"`
}

// Vector orders the fields as the model was trained (pipeline.FeatureColumns).
func (f TripFeatures) Vector() []float64 {
	return []float64{
		f.TripDistanceKm,
		f.TripDurationMinutes,
		float64(f.PassengerCount),
		f.BaseFare,
		f.PerKmRate,
		f.PerMinuteRate,
	}
}

// Prediction is the /predict response body.
type Prediction struct {
	PredictedPrice float64 `json:"predicted_price"`
	Currency       string  `json:"currency"`
}

// Config configures a Service.
type Config struct {
	ModelPath string
	// CacheSize is the number of memoised predictions; 0 disables the cache.
	CacheSize int
	// Reload watches ModelPath and swaps in a rewritten model.
	Reload         bool
	ReloadDebounce time.Duration
}

// Service is safe for concurrent use.
type Service struct {
	cfg     Config
	logger  *zap.Logger
	metrics *monitoring.Metrics
	current atomic.Pointer[loadedModel]
	watcher *modelWatcher
}

// loadedModel pairs a model with its own cache, so a swap drops stale entries.
type loadedModel struct {
	regressor ml.Regressor
	cache     *lru.Cache[TripFeatures, Prediction]
	loadedAt  time.Time
}

// New loads the model at cfg.ModelPath. A missing or unreadable file is an error.
func New(cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) (*Service, error) {
	model, err := ml.LoadModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.ModelPath, err)
	}
	return NewWithModel(model, cfg, logger, metrics)
}

// NewWithModel serves an already loaded model.
func NewWithModel(model ml.Regressor, cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) (*Service, error) {
	if model == nil {
		return nil, ErrModelNotLoaded
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("cache size must not be negative, got %d", cfg.CacheSize)
	}

	s := &Service{cfg: cfg, logger: logger, metrics: metrics}
	if err := s.swap(model); err != nil {
		return nil, err
	}
	if cfg.Reload && cfg.ModelPath != "" {
		watcher, err := newModelWatcher(s, cfg.ModelPath, cfg.ReloadDebounce)
		if err != nil {
			return nil, fmt.Errorf("watch model: %w", err)
		}
		s.watcher = watcher
	}
	return s, nil
}

func (s *Service) swap(model ml.Regressor) error {
	loaded := &loadedModel{regressor: model, loadedAt: time.Now()}
	if s.cfg.CacheSize > 0 {
		cache, err := lru.New[TripFeatures, Prediction](s.cfg.CacheSize)
		if err != nil {
			return err
		}
		loaded.cache = cache
	}
	s.current.Store(loaded)
	return nil
}

// Predict runs the model on f and returns the price rounded to two decimals.
// Inputs are not range-checked; the model is free to extrapolate.
func (s *Service) Predict(ctx context.Context, f TripFeatures) (Prediction, error) {
	start := time.Now()
	loaded := s.current.Load()
	if loaded == nil {
		return Prediction{}, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	if loaded.cache != nil {
		if cached, ok := loaded.cache.Get(f); ok {
			s.metrics.CacheHit()
			s.metrics.ObservePrediction(nil, time.Since(start))
			return cached, nil
		}
	}

	value, err := loaded.regressor.Predict(f.Vector())
	s.metrics.ObservePrediction(err, time.Since(start))
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}

	prediction := Prediction{PredictedPrice: RoundPrice(value), Currency: Currency}
	if loaded.cache != nil {
		loaded.cache.Add(f, prediction)
	}
	return prediction, nil
}

// RoundPrice rounds half away from zero to two decimals.
func RoundPrice(value float64) float64 {
	return math.Round(value*100) / 100
}

// Reload reads the model file again. On failure the current model stays in place.
func (s *Service) Reload() error {
	model, err := ml.LoadModel(s.cfg.ModelPath)
	if err == nil {
		err = s.swap(model)
	}
	s.metrics.ModelReload(err)
	if err != nil {
		s.logger.Warn("model reload failed, keeping previous model",
			zap.String("path", s.cfg.ModelPath), zap.Error(err))
		return err
	}
	s.logger.Info("model reloaded", zap.String("path", s.cfg.ModelPath))
	return nil
}

// ModelInfo describes the model currently served.
func (s *Service) ModelInfo() (ml.ModelInfo, time.Time, error) {
	loaded := s.current.Load()
	if loaded == nil {
		return ml.ModelInfo{}, time.Time{}, ErrModelNotLoaded
	}
	return loaded.regressor.Info(), loaded.loadedAt, nil
}

// Close stops the reload watcher, if any.
func (s *Service) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.stop()
}
