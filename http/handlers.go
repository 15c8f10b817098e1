package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taxipred/db"
	"taxipred/ml"
	"taxipred/monitoring"
	"taxipred/pipeline"
	"taxipred/predictor"
)

// Predictor answers price requests.
type Predictor interface {
	Predict(ctx context.Context, features predictor.TripFeatures) (predictor.Prediction, error)
	ModelInfo() (ml.ModelInfo, time.Time, error)
}

// RunLister reads recent training runs.
type RunLister interface {
	ListTrainingRuns(ctx context.Context, limit int) ([]db.TrainingRun, error)
}

// PredictionRecorder appends served predictions to a log.
type PredictionRecorder interface {
	SavePrediction(ctx context.Context, record db.PredictionRecord) error
}

// Dependencies are the collaborators of the router. Only Predictor is required
// for /predict; the optional ones switch their endpoints off when nil.
type Dependencies struct {
	Predictor Predictor
	Runs      RunLister
	Recorder  PredictionRecorder
	Metrics   *monitoring.Metrics
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

// ExamplePayload is the documented /predict request.
var ExamplePayload = predictor.TripFeatures{
	TripDistanceKm:      5.0,
	TripDurationMinutes: 12.0,
	PassengerCount:      1,
	BaseFare:            40.0,
	PerKmRate:           10.0,
	PerMinuteRate:       2.0,
}

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

type handlers struct {
	deps Dependencies
}

// NewRouter builds the chi router with every endpoint and middleware.
func NewRouter(config ServerConfig, deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultServerConfig().Timeout
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLogMiddleware(deps.Logger, deps.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware)
	r.Use(CORSMiddleware(config.AllowedOrigins))
	r.Use(middleware.Timeout(config.Timeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "no such endpoint"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, &APIError{Status: http.StatusMethodNotAllowed, Code: CodeMethodNotAllowed, Message: "method not allowed"})
	})

	r.Get("/", h.handleRoot)
	r.Get("/health", handleHealth)
	r.Get("/docs", h.handleDocs)
	r.With(RequestSizeMiddleware(config.MaxBodyBytes)).Post("/predict", h.handlePredict)
	r.Get("/model", h.handleModel)
	r.Get("/training/runs", h.handleTrainingRuns)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *handlers) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"message":  "Taxi Price Prediction API",
		"docs_url": "/docs",
		"version":  Version,
	})
}

// handleHealth reports liveness only; it does not depend on the model.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type fieldDoc struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (h *handlers) handleDocs(w http.ResponseWriter, r *http.Request) {
	descriptions := map[string]fieldDoc{
		pipeline.ColTripDistanceKm:      {Type: "number", Description: "Trip distance in kilometres"},
		pipeline.ColTripDurationMinutes: {Type: "number", Description: "Trip duration in minutes"},
		pipeline.ColPassengerCount:      {Type: "integer", Description: "Number of passengers"},
		pipeline.ColBaseFare:            {Type: "number", Description: "Base fare in SEK"},
		pipeline.ColPerKmRate:           {Type: "number", Description: "Rate per kilometre in SEK"},
		pipeline.ColPerMinuteRate:       {Type: "number", Description: "Rate per minute in SEK"},
	}
	fields := make([]fieldDoc, 0, len(pipeline.FeatureColumns))
	for _, column := range pipeline.FeatureColumns {
		doc := descriptions[column]
		doc.Name = column
		fields = append(fields, doc)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"title":   "Taxi Price Prediction API",
		"version": Version,
		"endpoints": []map[string]string{
			{"method": http.MethodGet, "path": "/", "description": "Service descriptor"},
			{"method": http.MethodGet, "path": "/health", "description": "Liveness check"},
			{"method": http.MethodPost, "path": "/predict", "description": "Predict a trip price"},
			{"method": http.MethodGet, "path": "/model", "description": "Metadata of the served model"},
			{"method": http.MethodGet, "path": "/training/runs", "description": "Recent training runs"},
			{"method": http.MethodGet, "path": "/metrics", "description": "Prometheus metrics"},
		},
		"predict_request": map[string]any{
			"fields":  fields,
			"example": ExamplePayload,
		},
		"predict_response": map[string]any{
			"example": predictor.Prediction{PredictedPrice: 118.42, Currency: predictor.Currency},
		},
		"error_codes": []string{
			CodeInvalidJSON, CodeMissingField, CodeInvalidType, CodeUnknownField,
			CodeBodyTooLarge, CodeUnsupportedMediaType, CodePredictionFailed,
		},
	})
}

func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	if h.deps.Predictor == nil {
		respondError(w, &APIError{Status: http.StatusServiceUnavailable, Code: CodeModelUnavailable, Message: "no model is loaded"})
		return
	}

	features, apiErr := DecodeTripFeatures(r)
	if apiErr != nil {
		respondError(w, apiErr)
		return
	}

	prediction, err := h.deps.Predictor.Predict(r.Context(), features)
	if err != nil {
		h.deps.Logger.Error("prediction failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		respondError(w, &APIError{Status: http.StatusInternalServerError, Code: CodePredictionFailed, Message: "prediction failed"})
		return
	}

	h.record(r, features, prediction)
	respondJSON(w, http.StatusOK, prediction)
}

// record appends to the prediction log. Failures are logged and never reach the client.
func (h *handlers) record(r *http.Request, features predictor.TripFeatures, prediction predictor.Prediction) {
	if h.deps.Recorder == nil {
		return
	}
	err := h.deps.Recorder.SavePrediction(r.Context(), db.PredictionRecord{
		TripDistanceKm:      features.TripDistanceKm,
		TripDurationMinutes: features.TripDurationMinutes,
		PassengerCount:      features.PassengerCount,
		BaseFare:            features.BaseFare,
		PerKmRate:           features.PerKmRate,
		PerMinuteRate:       features.PerMinuteRate,
		PredictedPrice:      prediction.PredictedPrice,
		Currency:            prediction.Currency,
		RequestID:           middleware.GetReqID(r.Context()),
	})
	if err != nil {
		h.deps.Logger.Warn("failed to record prediction", zap.Error(err))
	}
}

func (h *handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	if h.deps.Predictor == nil {
		respondError(w, &APIError{Status: http.StatusServiceUnavailable, Code: CodeModelUnavailable, Message: "no model is loaded"})
		return
	}
	info, loadedAt, err := h.deps.Predictor.ModelInfo()
	if err != nil {
		respondError(w, &APIError{Status: http.StatusServiceUnavailable, Code: CodeModelUnavailable, Message: "no model is loaded"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"kind":          info.Kind,
		"trees":         info.Trees,
		"nodes":         info.Nodes,
		"feature_names": info.FeatureNames,
		"trained_at":    info.TrainedAt,
		"seed":          info.Seed,
		"loaded_at":     loadedAt,
	})
}

func (h *handlers) handleTrainingRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		respondError(w, &APIError{Status: http.StatusServiceUnavailable, Code: CodeUnavailable, Message: "training log is not configured"})
		return
	}

	limit := defaultRunsLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 || l > maxRunsLimit {
			respondError(w, &APIError{
				Status:  http.StatusBadRequest,
				Code:    CodeInvalidQuery,
				Field:   "limit",
				Message: "limit must be an integer between 1 and " + strconv.Itoa(maxRunsLimit),
			})
			return
		}
		limit = l
	}

	runs, err := h.deps.Runs.ListTrainingRuns(r.Context(), limit)
	if err != nil {
		h.deps.Logger.Error("failed to list training runs", zap.Error(err))
		respondError(w, &APIError{Status: http.StatusInternalServerError, Code: CodeUnavailable, Message: "could not read training runs"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, apiErr *APIError) {
	respondJSON(w, apiErr.Status, map[string]*APIError{"error": apiErr})
}
