package ml

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// MeanAbsoluteError returns the mean of |actual - predicted|.
func MeanAbsoluteError(actual, predicted []float64) (float64, error) {
	if err := checkPairs(actual, predicted); err != nil {
		return 0, err
	}
	sum := 0.0
	for i := range actual {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(len(actual)), nil
}

// R2Score is the coefficient of determination of predicted against actual.
func R2Score(actual, predicted []float64) (float64, error) {
	if err := checkPairs(actual, predicted); err != nil {
		return 0, err
	}
	return stat.RSquaredFrom(predicted, actual, nil), nil
}

func checkPairs(actual, predicted []float64) error {
	if len(actual) == 0 {
		return errors.New("no values to score")
	}
	if len(actual) != len(predicted) {
		return errors.New("actual and predicted size mismatch")
	}
	return nil
}
