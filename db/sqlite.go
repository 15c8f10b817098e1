package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS training_runs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL UNIQUE,
        data_path TEXT NOT NULL,
        model_path TEXT NOT NULL,
        rows_raw INTEGER NOT NULL,
        rows_clean INTEGER NOT NULL,
        train_rows INTEGER NOT NULL,
        test_rows INTEGER NOT NULL,
        n_estimators INTEGER NOT NULL,
        seed INTEGER NOT NULL,
        mae REAL NOT NULL,
        r2 REAL NOT NULL,
        duration_ms INTEGER NOT NULL,
        trained_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id TEXT PRIMARY KEY,
        trip_distance_km REAL NOT NULL,
        trip_duration_minutes REAL NOT NULL,
        passenger_count INTEGER NOT NULL,
        base_fare REAL NOT NULL,
        per_km_rate REAL NOT NULL,
        per_minute_rate REAL NOT NULL,
        predicted_price REAL NOT NULL,
        currency TEXT NOT NULL,
        request_id TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_training_runs_trained_at ON training_runs(trained_at);
    `

// Store is the sqlite log of training runs and served predictions.
type Store struct {
	db *sql.DB
}

// Open creates the database file and its parent directory if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: database}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// TrainingRun is one row of the training log.
type TrainingRun struct {
	RunID       string        `json:"run_id"`
	DataPath    string        `json:"data_path"`
	ModelPath   string        `json:"model_path"`
	RowsRaw     int           `json:"rows_raw"`
	RowsClean   int           `json:"rows_clean"`
	TrainRows   int           `json:"train_rows"`
	TestRows    int           `json:"test_rows"`
	NEstimators int           `json:"n_estimators"`
	Seed        int64         `json:"seed"`
	MAE         float64       `json:"mae"`
	R2          float64       `json:"r2"`
	Duration    time.Duration `json:"duration"`
	TrainedAt   time.Time     `json:"trained_at"`
}

// SaveTrainingRun appends run to the training log.
func (s *Store) SaveTrainingRun(ctx context.Context, run TrainingRun) error {
	if s == nil || s.db == nil {
		return errors.New("database not initialized")
	}
	if run.RunID == "" {
		return errors.New("run id required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_runs (
            run_id, data_path, model_path, rows_raw, rows_clean, train_rows, test_rows,
            n_estimators, seed, mae, r2, duration_ms, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		run.RunID,
		run.DataPath,
		run.ModelPath,
		run.RowsRaw,
		run.RowsClean,
		run.TrainRows,
		run.TestRows,
		run.NEstimators,
		run.Seed,
		run.MAE,
		run.R2,
		run.Duration.Milliseconds(),
		run.TrainedAt.UTC(),
	)
	return err
}

// ListTrainingRuns returns the most recent runs first.
func (s *Store) ListTrainingRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, data_path, model_path, rows_raw, rows_clean, train_rows, test_rows,
               n_estimators, seed, mae, r2, duration_ms, trained_at
        FROM training_runs
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0)
	for rows.Next() {
		var run TrainingRun
		var durationMS int64
		if err := rows.Scan(&run.RunID, &run.DataPath, &run.ModelPath, &run.RowsRaw, &run.RowsClean,
			&run.TrainRows, &run.TestRows, &run.NEstimators, &run.Seed, &run.MAE, &run.R2,
			&durationMS, &run.TrainedAt); err != nil {
			return nil, err
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PredictionRecord is one served prediction.
type PredictionRecord struct {
	ID                  string
	TripDistanceKm      float64
	TripDurationMinutes float64
	PassengerCount      int
	BaseFare            float64
	PerKmRate           float64
	PerMinuteRate       float64
	PredictedPrice      float64
	Currency            string
	RequestID           string
	CreatedAt           time.Time
}

// SavePrediction appends record, filling in ID and CreatedAt when unset.
func (s *Store) SavePrediction(ctx context.Context, record PredictionRecord) error {
	if s == nil || s.db == nil {
		return errors.New("database not initialized")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (
            id, trip_distance_km, trip_duration_minutes, passenger_count, base_fare,
            per_km_rate, per_minute_rate, predicted_price, currency, request_id, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		record.ID,
		record.TripDistanceKm,
		record.TripDurationMinutes,
		record.PassengerCount,
		record.BaseFare,
		record.PerKmRate,
		record.PerMinuteRate,
		record.PredictedPrice,
		record.Currency,
		record.RequestID,
		record.CreatedAt.UTC(),
	)
	return err
}

// CountPredictions returns the number of logged predictions.
func (s *Store) CountPredictions(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("database not initialized")
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&count)
	return count, err
}
