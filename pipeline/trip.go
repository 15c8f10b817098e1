package pipeline

import "math"

// Column names as they appear in the CSV header and the prediction payload.
const (
	ColTripDistanceKm      = "Trip_Distance_km"
	ColTripDurationMinutes = "Trip_Duration_Minutes"
	ColPassengerCount      = "Passenger_Count"
	ColBaseFare            = "Base_Fare"
	ColPerKmRate           = "Per_Km_Rate"
	ColPerMinuteRate       = "Per_Minute_Rate"

	TargetColumn = "Trip_Price"
)

// FeatureColumns is the model input order. Training and serving both rely on it.
var FeatureColumns = []string{
	ColTripDistanceKm,
	ColTripDurationMinutes,
	ColPassengerCount,
	ColBaseFare,
	ColPerKmRate,
	ColPerMinuteRate,
}

// RequiredColumns are the columns a training CSV must carry.
func RequiredColumns() []string {
	return append(append([]string(nil), FeatureColumns...), TargetColumn)
}

// TripRecord is one row of the trip dataset. Missing cells are NaN.
type TripRecord struct {
	TripDistanceKm      float64
	TripDurationMinutes float64
	PassengerCount      float64
	BaseFare            float64
	PerKmRate           float64
	PerMinuteRate       float64
	TripPrice           float64
}

// Features returns the record's feature vector in FeatureColumns order.
func (r TripRecord) Features() []float64 {
	return []float64{
		r.TripDistanceKm,
		r.TripDurationMinutes,
		r.PassengerCount,
		r.BaseFare,
		r.PerKmRate,
		r.PerMinuteRate,
	}
}

// Value returns the named column, NaN for an unknown name.
func (r TripRecord) Value(column string) float64 {
	switch column {
	case ColTripDistanceKm:
		return r.TripDistanceKm
	case ColTripDurationMinutes:
		return r.TripDurationMinutes
	case ColPassengerCount:
		return r.PassengerCount
	case ColBaseFare:
		return r.BaseFare
	case ColPerKmRate:
		return r.PerKmRate
	case ColPerMinuteRate:
		return r.PerMinuteRate
	case TargetColumn:
		return r.TripPrice
	default:
		return math.NaN()
	}
}

func (r *TripRecord) set(column string, value float64) {
	switch column {
	case ColTripDistanceKm:
		r.TripDistanceKm = value
	case ColTripDurationMinutes:
		r.TripDurationMinutes = value
	case ColPassengerCount:
		r.PassengerCount = value
	case ColBaseFare:
		r.BaseFare = value
	case ColPerKmRate:
		r.PerKmRate = value
	case ColPerMinuteRate:
		r.PerMinuteRate = value
	case TargetColumn:
		r.TripPrice = value
	}
}

// HasMissing reports whether any required column is NaN.
func (r TripRecord) HasMissing() bool {
	for _, column := range RequiredColumns() {
		if math.IsNaN(r.Value(column)) {
			return true
		}
	}
	return false
}

func (r TripRecord) facts() map[string]any {
	facts := make(map[string]any, len(FeatureColumns)+1)
	for _, column := range RequiredColumns() {
		facts[column] = r.Value(column)
	}
	return facts
}
