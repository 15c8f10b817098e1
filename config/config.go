// Package config loads the taxipred YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root of config.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Predictor PredictorConfig `yaml:"predictor"`
	Data      DataConfig      `yaml:"data"`
	Cleaning  CleaningConfig  `yaml:"cleaning"`
	Training  TrainingConfig  `yaml:"training"`
	Form      FormConfig      `yaml:"form"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the prediction HTTP server.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	// ReloadModel swaps in a retrained model file without a restart. Dev only.
	ReloadModel bool `yaml:"reload_model"`
}

// PredictorConfig locates the model and sizes the prediction cache.
type PredictorConfig struct {
	ModelPath string `yaml:"model_path"`
	CacheSize int    `yaml:"cache_size"`
}

// DataConfig points at the training dataset.
type DataConfig struct {
	Path string `yaml:"path"`
}

// RuleConfig is a named CEL expression that a trip row must satisfy.
type RuleConfig struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

// CleaningConfig sets the outlier quantile and optional replacement rules.
type CleaningConfig struct {
	Quantile float64      `yaml:"quantile"`
	Rules    []RuleConfig `yaml:"rules"`
}

// TrainingConfig holds the split and forest hyper-parameters.
type TrainingConfig struct {
	TestRatio       float64 `yaml:"test_ratio"`
	Seed            int64   `yaml:"seed"`
	NEstimators     int     `yaml:"n_estimators"`
	MaxDepth        int     `yaml:"max_depth"`
	MinSamplesSplit int     `yaml:"min_samples_split"`
	MinSamplesLeaf  int     `yaml:"min_samples_leaf"`
	Workers         int     `yaml:"workers"`
}

// FormConfig configures the trip form server and its backend.
type FormConfig struct {
	Addr       string        `yaml:"addr"`
	BackendURL string        `yaml:"backend_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DatabaseConfig locates the sqlite run and prediction log.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig sets the level and the optional rotated log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:8000",
			Timeout:        30 * time.Second,
			MaxBodyBytes:   64 << 10,
			AllowedOrigins: []string{"*"},
		},
		Predictor: PredictorConfig{
			ModelPath: "models/taxi_price_forest.model",
			CacheSize: 1024,
		},
		Data: DataConfig{
			Path: "data/taxi_trip_pricing.csv",
		},
		Cleaning: CleaningConfig{
			Quantile: 0.99,
		},
		Training: TrainingConfig{
			TestRatio:       0.2,
			Seed:            42,
			NEstimators:     200,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
		},
		Form: FormConfig{
			Addr:       "127.0.0.1:8501",
			BackendURL: "http://127.0.0.1:8000",
			Timeout:    10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "data/taxipred.db",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		payload, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(payload, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("TAXIPRED_ADDR", c.Server.Addr)
	c.Predictor.ModelPath = getEnv("TAXIPRED_MODEL_PATH", c.Predictor.ModelPath)
	c.Data.Path = getEnv("TAXIPRED_DATA_PATH", c.Data.Path)
	c.Form.BackendURL = getEnv("TAXIPRED_BACKEND_URL", c.Form.BackendURL)
	c.Database.Path = getEnv("TAXIPRED_DB_PATH", c.Database.Path)
	c.Predictor.CacheSize = getEnvInt("TAXIPRED_CACHE_SIZE", c.Predictor.CacheSize)
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.Timeout <= 0 {
		return errors.New("server.timeout must be positive")
	}
	if c.Predictor.ModelPath == "" {
		return errors.New("predictor.model_path is required")
	}
	if c.Predictor.CacheSize < 0 {
		return errors.New("predictor.cache_size must not be negative")
	}
	if c.Cleaning.Quantile <= 0 || c.Cleaning.Quantile > 1 {
		return fmt.Errorf("cleaning.quantile %.3f out of range (0, 1]", c.Cleaning.Quantile)
	}
	for i, rule := range c.Cleaning.Rules {
		if rule.Name == "" || rule.Expression == "" {
			return fmt.Errorf("cleaning.rules[%d]: name and expression are required", i)
		}
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		return fmt.Errorf("training.test_ratio %.3f out of range (0, 1)", c.Training.TestRatio)
	}
	if c.Training.NEstimators <= 0 {
		return errors.New("training.n_estimators must be positive")
	}
	if c.Training.MaxDepth < 0 || c.Training.Workers < 0 {
		return errors.New("training.max_depth and training.workers must not be negative")
	}
	if c.Form.Timeout <= 0 {
		return errors.New("form.timeout must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
