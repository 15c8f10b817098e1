package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "taxipred.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTrainingRuns(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		err := store.SaveTrainingRun(ctx, TrainingRun{
			RunID:       id,
			DataPath:    "data/trips.csv",
			ModelPath:   "models/taxi.model",
			RowsRaw:     1000,
			RowsClean:   950,
			TrainRows:   760,
			TestRows:    190,
			NEstimators: 200,
			Seed:        42,
			MAE:         4.5 + float64(i),
			R2:          0.9,
			Duration:    1500 * time.Millisecond,
			TrainedAt:   base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	runs, err := store.ListTrainingRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].RunID)
	assert.Equal(t, "run-b", runs[1].RunID)
	assert.Equal(t, 6.5, runs[0].MAE)
	assert.Equal(t, 1500*time.Millisecond, runs[0].Duration)
	assert.True(t, runs[0].TrainedAt.Equal(base.Add(2*time.Hour)))

	err = store.SaveTrainingRun(ctx, TrainingRun{RunID: "run-a", TrainedAt: base})
	assert.Error(t, err, "run ids are unique")
	assert.Error(t, store.SaveTrainingRun(ctx, TrainingRun{}))
}

func TestPredictions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	err := store.SavePrediction(ctx, PredictionRecord{
		TripDistanceKm:      5,
		TripDurationMinutes: 15,
		PassengerCount:      1,
		BaseFare:            40,
		PerKmRate:           10,
		PerMinuteRate:       2,
		PredictedPrice:      118.42,
		Currency:            "SEK",
		RequestID:           "req-1",
	})
	require.NoError(t, err)
	require.NoError(t, store.SavePrediction(ctx, PredictionRecord{Currency: "SEK"}))

	count, err := store.CountPredictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilStore(t *testing.T) {
	var store *Store
	ctx := context.Background()
	assert.Error(t, store.SavePrediction(ctx, PredictionRecord{}))
	_, err := store.ListTrainingRuns(ctx, 1)
	assert.Error(t, err)
	assert.NoError(t, store.Close())
}
