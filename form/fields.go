package form

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"taxipred/pipeline"
	"taxipred/predictor"
)

// Field is one numeric input of the trip form.
type Field struct {
	Name    string
	Label   string
	Min     float64
	Max     float64
	Default float64
	Step    float64
	Integer bool
}

// Fields lists the form inputs in display order. Names match the /predict JSON keys.
var Fields = []Field{
	{Name: pipeline.ColTripDistanceKm, Label: "Trip distance (km)", Min: 0.1, Max: 500, Default: 5, Step: 0.1},
	{Name: pipeline.ColTripDurationMinutes, Label: "Trip duration (minutes)", Min: 1, Max: 600, Default: 15, Step: 1},
	{Name: pipeline.ColPassengerCount, Label: "Passenger count", Min: 1, Max: 8, Default: 1, Step: 1, Integer: true},
	{Name: pipeline.ColBaseFare, Label: "Base fare (SEK)", Min: 0, Max: 500, Default: 40, Step: 1},
	{Name: pipeline.ColPerKmRate, Label: "Per km rate (SEK)", Min: 0, Max: 100, Default: 10, Step: 0.5},
	{Name: pipeline.ColPerMinuteRate, Label: "Per minute rate (SEK)", Min: 0, Max: 50, Default: 2, Step: 0.5},
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DefaultValues returns the initial form contents.
func DefaultValues() map[string]string {
	values := make(map[string]string, len(Fields))
	for _, field := range Fields {
		values[field.Name] = formatNumber(field.Default)
	}
	return values
}

// Parse checks every field against its bounds. The returned map holds one
// message per invalid field and is empty when features is usable.
func Parse(form url.Values) (predictor.TripFeatures, map[string]string) {
	values := make(map[string]float64, len(Fields))
	problems := make(map[string]string)

	for _, field := range Fields {
		raw := strings.TrimSpace(form.Get(field.Name))
		if raw == "" {
			problems[field.Name] = "required"
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			problems[field.Name] = "must be a number"
			continue
		}
		if field.Integer && v != math.Trunc(v) {
			problems[field.Name] = "must be a whole number"
			continue
		}
		if v < field.Min || v > field.Max {
			problems[field.Name] = fmt.Sprintf("must be between %s and %s", formatNumber(field.Min), formatNumber(field.Max))
			continue
		}
		values[field.Name] = v
	}
	if len(problems) > 0 {
		return predictor.TripFeatures{}, problems
	}

	return predictor.TripFeatures{
		TripDistanceKm:      values[pipeline.ColTripDistanceKm],
		TripDurationMinutes: values[pipeline.ColTripDurationMinutes],
		PassengerCount:      int(values[pipeline.ColPassengerCount]),
		BaseFare:            values[pipeline.ColBaseFare],
		PerKmRate:           values[pipeline.ColPerKmRate],
		PerMinuteRate:       values[pipeline.ColPerMinuteRate],
	}, problems
}
