package form

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taxipred/predictor"
)

const maxResponseBytes = 1 << 20

// Client calls the prediction service. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL. A non-positive timeout means 10s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Predict posts features to /predict. Any non-2xx status or unusable body is an error.
func (c *Client) Predict(ctx context.Context, features predictor.TripFeatures) (predictor.Prediction, error) {
	payload, err := json.Marshal(features)
	if err != nil {
		return predictor.Prediction{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return predictor.Prediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return predictor.Prediction{}, fmt.Errorf("call backend: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return predictor.Prediction{}, fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return predictor.Prediction{}, fmt.Errorf("backend returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var decoded struct {
		PredictedPrice *float64 `json:"predicted_price"`
		Currency       string   `json:"currency"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return predictor.Prediction{}, fmt.Errorf("decode backend response: %w", err)
	}
	if decoded.PredictedPrice == nil {
		return predictor.Prediction{}, errors.New("backend response has no predicted_price")
	}
	if decoded.Currency == "" {
		decoded.Currency = predictor.Currency
	}
	return predictor.Prediction{PredictedPrice: *decoded.PredictedPrice, Currency: decoded.Currency}, nil
}
