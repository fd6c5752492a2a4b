package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	KindLinear   = "linear"
	KindLogistic = "logistic"
	KindRemote   = "remote"

	FeatureNumeric     = "numeric"
	FeatureCategorical = "categorical"
)

var ErrSchemaMismatch = errors.New("record does not match model schema")

// Predictor is a pre-fitted model. Implementations are read-only after
// construction and safe for concurrent use.
type Predictor interface {
	Predict(ctx context.Context, row Row) (float64, error)
}

// Artifact is the on-disk description of a fitted pipeline.
type Artifact struct {
	Name         string            `json:"name"`
	Kind         string            `json:"kind"`
	Version      string            `json:"version"`
	Features     []ArtifactFeature `json:"features"`
	Coefficients []float64         `json:"coefficients"`
	Intercept    float64           `json:"intercept"`
	Threshold    float64           `json:"threshold,omitempty"`
	Endpoint     string            `json:"endpoint,omitempty"`
	TimeoutMS    int               `json:"timeout_ms,omitempty"`
}

type ArtifactFeature struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Mean       float64  `json:"mean,omitempty"`
	Scale      float64  `json:"scale,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

func ParseArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (a *Artifact) validate() error {
	seen := make(map[string]bool)
	for _, f := range a.Features {
		if f.Name == "" {
			return fmt.Errorf("artifact feature without name")
		}
		if seen[f.Name] {
			return fmt.Errorf("artifact feature %q declared twice", f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case FeatureNumeric:
		case FeatureCategorical:
			if len(f.Categories) == 0 {
				return fmt.Errorf("categorical feature %q has no categories", f.Name)
			}
		default:
			return fmt.Errorf("feature %q has unknown type %q", f.Name, f.Type)
		}
	}

	switch a.Kind {
	case KindLinear, KindLogistic:
		if len(a.Features) == 0 {
			return fmt.Errorf("%s artifact has no features", a.Kind)
		}
		if len(a.Coefficients) != a.width() {
			return fmt.Errorf("artifact has %d coefficients, pipeline expands to %d", len(a.Coefficients), a.width())
		}
		if a.Threshold < 0 || a.Threshold >= 1 {
			return fmt.Errorf("threshold %v outside [0, 1)", a.Threshold)
		}
	case KindRemote:
		if a.Endpoint == "" {
			return fmt.Errorf("remote artifact has no endpoint")
		}
	default:
		return fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
	return nil
}

// width is the number of columns after one-hot expansion.
func (a *Artifact) width() int {
	n := 0
	for _, f := range a.Features {
		if f.Type == FeatureCategorical {
			n += len(f.Categories)
		} else {
			n++
		}
	}
	return n
}

// NewPredictor builds the predictor described by a. columns is the record
// layout used when a remote artifact does not list its features.
func NewPredictor(a *Artifact, model string, columns []string) (Predictor, error) {
	switch a.Kind {
	case KindLinear:
		return &LinearModel{pipeline: newPipeline(a)}, nil
	case KindLogistic:
		threshold := a.Threshold
		if threshold == 0 {
			threshold = 0.5
		}
		return &LogisticModel{pipeline: newPipeline(a), threshold: threshold}, nil
	case KindRemote:
		if len(a.Features) > 0 {
			columns = make([]string, len(a.Features))
			for i, f := range a.Features {
				columns[i] = f.Name
			}
		}
		timeout := 10 * time.Second
		if a.TimeoutMS > 0 {
			timeout = time.Duration(a.TimeoutMS) * time.Millisecond
		}
		return NewModelClient(model, a.Endpoint, columns, timeout), nil
	}
	return nil, fmt.Errorf("unknown artifact kind %q", a.Kind)
}

// pipeline standardizes numeric features and one-hot encodes categorical
// ones, then applies the fitted coefficients.
type pipeline struct {
	features     []ArtifactFeature
	coefficients []float64
	intercept    float64
}

func newPipeline(a *Artifact) pipeline {
	return pipeline{
		features:     a.Features,
		coefficients: a.Coefficients,
		intercept:    a.Intercept,
	}
}

func (p pipeline) decision(row Row) (float64, error) {
	z := p.intercept
	i := 0
	for _, f := range p.features {
		v, ok := row.Value(f.Name)
		if !ok {
			return 0, fmt.Errorf("%w: column %q missing", ErrSchemaMismatch, f.Name)
		}

		if f.Type == FeatureCategorical {
			s, ok := v.(string)
			if !ok {
				return 0, fmt.Errorf("%w: column %q must be categorical", ErrSchemaMismatch, f.Name)
			}
			for _, c := range f.Categories {
				if c == s {
					z += p.coefficients[i]
				}
				i++
			}
			continue
		}

		x, ok := numeric(v)
		if !ok {
			return 0, fmt.Errorf("%w: column %q must be numeric", ErrSchemaMismatch, f.Name)
		}
		scale := f.Scale
		if scale == 0 {
			scale = 1
		}
		z += p.coefficients[i] * (x - f.Mean) / scale
		i++
	}
	return z, nil
}

type LinearModel struct {
	pipeline
}

func (m *LinearModel) Predict(ctx context.Context, row Row) (float64, error) {
	return m.decision(row)
}

// LogisticModel is a binary classifier that predicts class 1 when the
// positive-class probability reaches the threshold.
type LogisticModel struct {
	pipeline
	threshold float64
}

func (m *LogisticModel) Predict(ctx context.Context, row Row) (float64, error) {
	p, err := m.Probability(row)
	if err != nil {
		return 0, err
	}
	if p >= m.threshold {
		return 1, nil
	}
	return 0, nil
}

func (m *LogisticModel) Probability(row Row) (float64, error) {
	z, err := m.decision(row)
	if err != nil {
		return 0, err
	}
	return 1 / (1 + math.Exp(-z)), nil
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}
