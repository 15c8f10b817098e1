package pipeline

import (
	"errors"
	"math"
	"math/rand"
)

// FeaturesAndTarget projects records into X (FeatureColumns order) and y.
// Row i of X and y come from records[i].
func FeaturesAndTarget(records []TripRecord) ([][]float64, []float64) {
	features := make([][]float64, len(records))
	targets := make([]float64, len(records))
	for i, record := range records {
		features[i] = record.Features()
		targets[i] = record.TripPrice
	}
	return features, targets
}

// TrainTestSplit shuffles rows with seed and holds out ceil(n*testRatio) of them.
func TrainTestSplit(features [][]float64, targets []float64, testRatio float64, seed int64) (trainX, testX [][]float64, trainY, testY []float64, err error) {
	if len(features) != len(targets) {
		return nil, nil, nil, nil, errors.New("features and targets size mismatch")
	}
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}

	n := len(features)
	testSize := int(math.Ceil(float64(n) * testRatio))
	if n > 0 && testSize >= n {
		return nil, nil, nil, nil, errors.New("not enough rows to hold out a test partition")
	}

	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(n)
	for i, idx := range indices {
		if i < testSize {
			testX = append(testX, features[idx])
			testY = append(testY, targets[idx])
		} else {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, targets[idx])
		}
	}
	return trainX, testX, trainY, testY, nil
}
