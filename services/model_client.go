package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

var ErrUpstream = errors.New("model server error")

// ModelClient forwards records to a model server that accepts pandas
// "split" oriented JSON and answers {"predictions": [...]}.
type ModelClient struct {
	model      string
	endpoint   string
	columns    []string
	httpClient *http.Client
}

func NewModelClient(model, endpoint string, columns []string, timeout time.Duration) *ModelClient {
	return &ModelClient{
		model:      model,
		endpoint:   endpoint,
		columns:    columns,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type splitPayload struct {
	Model   string   `json:"model"`
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

type predictResponse struct {
	Predictions []float64 `json:"predictions"`
}

func (mc *ModelClient) Predict(ctx context.Context, row Row) (float64, error) {
	columns := mc.columns
	if len(columns) == 0 {
		columns = row.Columns
	}

	values := make([]any, len(columns))
	for i, c := range columns {
		v, ok := row.Value(c)
		if !ok {
			return 0, fmt.Errorf("%w: column %q missing", ErrSchemaMismatch, c)
		}
		values[i] = v
	}

	jsonData, err := json.Marshal(splitPayload{Model: mc.model, Columns: columns, Data: [][]any{values}})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mc.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := mc.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("%w: invalid response: %v", ErrUpstream, err)
	}
	if len(result.Predictions) != 1 {
		return 0, fmt.Errorf("%w: expected 1 prediction, got %d", ErrUpstream, len(result.Predictions))
	}
	return result.Predictions[0], nil
}

// Health probes the /health endpoint next to the predict endpoint.
func (mc *ModelClient) Health(ctx context.Context) error {
	target, err := healthURL(mc.endpoint)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	resp, err := mc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: %d", resp.StatusCode)
	}

	return nil
}

// healthURL replaces the last path segment of the predict endpoint with
// "health".
func healthURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	u.Path = path.Join(path.Dir(u.Path), "health")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
