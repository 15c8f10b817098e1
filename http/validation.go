package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"sort"

	"taxipred/pipeline"
	"taxipred/predictor"
)

// Error codes returned in the error body.
const (
	CodeInvalidJSON          = "invalid_json"
	CodeMissingField         = "missing_field"
	CodeInvalidType          = "invalid_type"
	CodeUnknownField         = "unknown_field"
	CodeBodyTooLarge         = "body_too_large"
	CodeUnsupportedMediaType = "unsupported_media_type"
	CodePredictionFailed     = "prediction_failed"
	CodeModelUnavailable     = "model_unavailable"
	CodeInvalidQuery         = "invalid_query"
	CodeUnavailable          = "unavailable"
	CodeNotFound             = "not_found"
	CodeMethodNotAllowed     = "method_not_allowed"
)

// APIError is rendered as {"error": {...}} with Status as the HTTP status.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(code, field, message string) *APIError {
	return &APIError{Status: http.StatusUnprocessableEntity, Code: code, Field: field, Message: message}
}

// DecodeTripFeatures reads a prediction request. Every field is required, values
// must be JSON numbers, Passenger_Count must be integral, and unknown keys are rejected.
func DecodeTripFeatures(r *http.Request) (predictor.TripFeatures, *APIError) {
	var features predictor.TripFeatures

	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != "application/json" {
			return features, &APIError{
				Status:  http.StatusUnsupportedMediaType,
				Code:    CodeUnsupportedMediaType,
				Message: "content type must be application/json",
			}
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return features, &APIError{
				Status:  http.StatusRequestEntityTooLarge,
				Code:    CodeBodyTooLarge,
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			}
		}
		return features, invalid(CodeInvalidJSON, "", "could not read request body")
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return features, invalid(CodeInvalidJSON, "", "request body must be a JSON object")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return features, invalid(CodeInvalidJSON, "", "request body is not valid JSON")
	}

	known := make(map[string]struct{}, len(pipeline.FeatureColumns))
	for _, column := range pipeline.FeatureColumns {
		known[column] = struct{}{}
	}
	unknown := make([]string, 0)
	for key := range raw {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return features, invalid(CodeUnknownField, unknown[0], "field is not part of the request schema")
	}

	values := make(map[string]float64, len(pipeline.FeatureColumns))
	for _, column := range pipeline.FeatureColumns {
		value, ok := raw[column]
		if !ok {
			return features, invalid(CodeMissingField, column, "field is required")
		}
		number, apiErr := decodeNumber(column, value)
		if apiErr != nil {
			return features, apiErr
		}
		values[column] = number
	}

	passengers := values[pipeline.ColPassengerCount]
	if passengers != math.Trunc(passengers) || math.Abs(passengers) > math.MaxInt32 {
		return features, invalid(CodeInvalidType, pipeline.ColPassengerCount, "value must be an integer")
	}

	features = predictor.TripFeatures{
		TripDistanceKm:      values[pipeline.ColTripDistanceKm],
		TripDurationMinutes: values[pipeline.ColTripDurationMinutes],
		PassengerCount:      int(passengers),
		BaseFare:            values[pipeline.ColBaseFare],
		PerKmRate:           values[pipeline.ColPerKmRate],
		PerMinuteRate:       values[pipeline.ColPerMinuteRate],
	}
	return features, nil
}

// decodeNumber accepts JSON numbers only; strings, booleans and null are type errors.
func decodeNumber(field string, value json.RawMessage) (float64, *APIError) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || !(value[0] == '-' || (value[0] >= '0' && value[0] <= '9')) {
		return 0, invalid(CodeInvalidType, field, "value must be a number")
	}
	var number float64
	if err := json.Unmarshal(value, &number); err != nil {
		return 0, invalid(CodeInvalidType, field, "value must be a finite number")
	}
	return number, nil
}
