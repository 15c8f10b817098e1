package form

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxipred/predictor"
)

func validForm() url.Values {
	values := url.Values{}
	for name, value := range DefaultValues() {
		values.Set(name, value)
	}
	return values
}

func submit(t *testing.T, app *App, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	app.Router().ServeHTTP(rr, req)
	return rr
}

// backend starts a fake prediction service and counts the calls it receives.
func backend(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, calls
}

func TestIndexRendersDefaults(t *testing.T) {
	app := NewApp(NewClient("http://127.0.0.1:1", time.Second), nil)

	rr := httptest.NewRecorder()
	app.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Taxi Price Prediction")
	assert.Contains(t, body, `name="Trip_Distance_km"`)
	assert.Contains(t, body, `value="40"`)
	assert.Equal(t, 6, strings.Count(body, `type="number"`))
}

func TestSubmitSuccess(t *testing.T) {
	var received map[string]any
	server, calls := backend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"predicted_price": 118.42, "currency": "SEK"}`))
	})
	app := NewApp(NewClient(server.URL, time.Second), nil)

	form := validForm()
	form.Set("Passenger_Count", "3")
	rr := submit(t, app, form)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Estimated taxi price: <strong>118.42 SEK</strong>")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 3.0, received["Passenger_Count"])
	assert.Equal(t, 5.0, received["Trip_Distance_km"])
	assert.Len(t, received, 6)
}

func TestSubmitBackendFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"code":"prediction_failed"}}`, http.StatusInternalServerError)
			},
		},
		{
			name: "validation error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"predicted_price":`))
			},
		},
		{
			name: "missing price",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"currency":"SEK"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := backend(t, tt.handler)
			app := NewApp(NewClient(server.URL, time.Second), nil)

			rr := submit(t, app, validForm())
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Contains(t, rr.Body.String(), BackendErrorMessage)
			assert.NotContains(t, rr.Body.String(), "Estimated taxi price")
		})
	}
}

func TestSubmitBackendUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	app := NewApp(NewClient(addr, time.Second), nil)
	rr := submit(t, app, validForm())
	assert.Contains(t, rr.Body.String(), BackendErrorMessage)
}

func TestSubmitInvalidInputSkipsBackend(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   string
		message string
	}{
		{"below minimum", "Trip_Distance_km", "0", "must be between 0.1 and 500"},
		{"above maximum", "Passenger_Count", "9", "must be between 1 and 8"},
		{"not a number", "Base_Fare", "forty", "must be a number"},
		{"fractional passengers", "Passenger_Count", "1.5", "must be a whole number"},
		{"empty", "Per_Km_Rate", "", "required"},
		{"not finite", "Per_Minute_Rate", "NaN", "must be a number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, calls := backend(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"predicted_price": 1, "currency": "SEK"}`))
			})
			app := NewApp(NewClient(server.URL, time.Second), nil)

			form := validForm()
			form.Set(tt.field, tt.value)
			rr := submit(t, app, form)

			assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.message)
			assert.Equal(t, int32(0), calls.Load())
		})
	}
}

func TestClientTimeout(t *testing.T) {
	server, _ := backend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})

	client := NewClient(server.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := client.Predict(context.Background(), predictor.TripFeatures{PassengerCount: 1})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClientDefaultsCurrency(t *testing.T) {
	server, _ := backend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"predicted_price": 12.5}`))
	})

	prediction, err := NewClient(server.URL+"/", time.Second).Predict(context.Background(), predictor.TripFeatures{})
	require.NoError(t, err)
	assert.Equal(t, 12.5, prediction.PredictedPrice)
	assert.Equal(t, "SEK", prediction.Currency)
}

func TestParse(t *testing.T) {
	features, problems := Parse(validForm())
	require.Empty(t, problems)
	assert.Equal(t, predictor.TripFeatures{
		TripDistanceKm:      5,
		TripDurationMinutes: 15,
		PassengerCount:      1,
		BaseFare:            40,
		PerKmRate:           10,
		PerMinuteRate:       2,
	}, features)
}
