package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"taxipred/db"
	"taxipred/ml"
	"taxipred/monitoring"
)

type fakeRuns struct {
	runs  []db.TrainingRun
	err   error
	limit int
}

func (f *fakeRuns) ListTrainingRuns(_ context.Context, limit int) ([]db.TrainingRun, error) {
	f.limit = limit
	return f.runs, f.err
}

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(handleHealth)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"status":"ok"}`
	if rr.Body.String() != expected+"\n" && rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestHealthWithoutModel(t *testing.T) {
	router := NewRouter(DefaultServerConfig(), Dependencies{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestRootHandler(t *testing.T) {
	router := NewRouter(DefaultServerConfig(), Dependencies{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	var payload map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload["message"] != "Taxi Price Prediction API" || payload["docs_url"] != "/docs" {
		t.Fatalf("unexpected descriptor: %v", payload)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}
}

func TestDocsHandler(t *testing.T) {
	router := NewRouter(DefaultServerConfig(), Dependencies{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/docs", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		PredictRequest struct {
			Fields  []fieldDoc         `json:"fields"`
			Example map[string]float64 `json:"example"`
		} `json:"predict_request"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(payload.PredictRequest.Fields) != 6 {
		t.Fatalf("expected 6 documented fields, got %d", len(payload.PredictRequest.Fields))
	}
	if payload.PredictRequest.Example["Base_Fare"] != 40 {
		t.Fatalf("unexpected example: %v", payload.PredictRequest.Example)
	}
	if payload.PredictRequest.Example["Trip_Duration_Minutes"] != 12 {
		t.Fatalf("expected example duration 12, got %v", payload.PredictRequest.Example["Trip_Duration_Minutes"])
	}
}

func TestModelHandler(t *testing.T) {
	trainedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	router := NewRouter(DefaultServerConfig(), Dependencies{Predictor: &fakePredictor{
		info: ml.ModelInfo{Kind: ml.KindRandomForest, Trees: 200, FeatureNames: []string{"a"}, TrainedAt: trainedAt, Seed: 42},
	}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/model", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload["trees"].(float64) != 200 || payload["kind"] != ml.KindRandomForest {
		t.Fatalf("unexpected model info: %v", payload)
	}

	unavailable := NewRouter(DefaultServerConfig(), Dependencies{})
	rr = httptest.NewRecorder()
	unavailable.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/model", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a model, got %d", rr.Code)
	}
}

func TestTrainingRunsHandler(t *testing.T) {
	runs := &fakeRuns{runs: []db.TrainingRun{{RunID: "01J", MAE: 4.2, R2: 0.93}}}
	router := NewRouter(DefaultServerConfig(), Dependencies{Runs: runs})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/training/runs?limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if runs.limit != 5 {
		t.Fatalf("expected limit 5, got %d", runs.limit)
	}
	if !strings.Contains(rr.Body.String(), `"run_id":"01J"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}

	for _, query := range []string{"limit=0", "limit=abc", "limit=1000"} {
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/training/runs?"+query, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}

	failing := NewRouter(DefaultServerConfig(), Dependencies{Runs: &fakeRuns{err: errors.New("disk gone")}})
	rr = httptest.NewRecorder()
	failing.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/training/runs", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	router := NewRouter(DefaultServerConfig(), Dependencies{Metrics: metrics, Gatherer: reg})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `taxipred_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Fatalf("request counter missing from exposition:\n%s", rr.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	router := NewRouter(DefaultServerConfig(), Dependencies{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/predict", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
