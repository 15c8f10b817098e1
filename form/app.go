// Package form serves the HTML trip form that calls the prediction service.
package form

import (
	"context"
	"embed"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"taxipred/predictor"
)

// BackendErrorMessage is shown for every failed backend call, whatever the cause.
const BackendErrorMessage = "Could not get a price estimate from the prediction service. Please try again later."

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Predictor is satisfied by *Client and by *predictor.Service.
type Predictor interface {
	Predict(ctx context.Context, features predictor.TripFeatures) (predictor.Prediction, error)
}

// App serves the trip form.
type App struct {
	predictor Predictor
	logger    *zap.Logger
}

type pageResult struct {
	Price    string
	Currency string
}

type pageData struct {
	Fields   []Field
	Values   map[string]string
	Problems map[string]string
	Result   *pageResult
	Error    string
}

// NewApp creates the form application backed by p.
func NewApp(p Predictor, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{predictor: p, logger: logger}
}

// Router returns the form routes.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", a.handleIndex)
	r.Post("/", a.handleSubmit)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	a.render(w, http.StatusOK, pageData{Values: DefaultValues()})
}

func (a *App) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.render(w, http.StatusBadRequest, pageData{Values: DefaultValues(), Error: "The form could not be read."})
		return
	}

	values := make(map[string]string, len(Fields))
	for _, field := range Fields {
		values[field.Name] = r.PostForm.Get(field.Name)
	}

	features, problems := Parse(r.PostForm)
	if len(problems) > 0 {
		a.render(w, http.StatusUnprocessableEntity, pageData{Values: values, Problems: problems})
		return
	}

	prediction, err := a.predictor.Predict(r.Context(), features)
	if err != nil {
		a.logger.Warn("prediction request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		a.render(w, http.StatusOK, pageData{Values: values, Error: BackendErrorMessage})
		return
	}

	a.render(w, http.StatusOK, pageData{
		Values: values,
		Result: &pageResult{
			Price:    formatNumber(prediction.PredictedPrice),
			Currency: prediction.Currency,
		},
	})
}

func (a *App) render(w http.ResponseWriter, status int, data pageData) {
	data.Fields = Fields
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		a.logger.Error("render form", zap.Error(err))
	}
}
