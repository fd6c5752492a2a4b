package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"formpredict/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Cache holds raw prediction values. A miss is reported as ok == false with
// a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, value float64) error
}

type Outcome struct {
	RequestID string
	Model     string
	Row       Row
	Value     float64
	Text      string
	Cached    bool
}

type PredictionService struct {
	registry *Registry
	cache    Cache
	history  store.Recorder
	now      func() time.Time
}

// NewPredictionService wires the registry with the optional cache and
// history recorder; either may be nil.
func NewPredictionService(registry *Registry, cache Cache, history store.Recorder) *PredictionService {
	if history == nil {
		history = store.NopRecorder{}
	}
	return &PredictionService{
		registry: registry,
		cache:    cache,
		history:  history,
		now:      time.Now,
	}
}

func (s *PredictionService) Registry() *Registry {
	return s.registry
}

func (s *PredictionService) History(ctx context.Context, model string, limit int) ([]store.PredictionRecord, error) {
	if _, err := s.registry.Entry(model); err != nil {
		return nil, err
	}
	return s.history.Recent(ctx, model, store.ClampLimit(limit))
}

// Predict parses the submitted fields for model, runs its predictor and
// formats the result.
func (s *PredictionService) Predict(ctx context.Context, model string, lookup Lookup) (*Outcome, error) {
	entry, err := s.registry.Entry(model)
	if err != nil {
		return nil, err
	}

	row, err := ParseRow(entry.Model, lookup, s.now())
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		RequestID: uuid.New().String(),
		Model:     model,
		Row:       row,
	}
	logger := log.WithFields(log.Fields{"model": model, "request_id": out.RequestID})

	key := ""
	if s.cache != nil && entry.Ready() {
		key = CacheKey(model, entry.Checksum, row)
		v, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			logger.WithError(err).Warn("cache lookup failed")
		}
		out.Value, out.Cached = v, ok
	}

	if !out.Cached {
		out.Value, err = entry.Predict(ctx, row)
		if err != nil {
			return nil, err
		}
		if key != "" {
			if err := s.cache.Set(ctx, key, out.Value); err != nil {
				logger.WithError(err).Warn("cache store failed")
			}
		}
	}

	out.Text = FormatResult(entry.Model.Result, out.Value)
	s.record(ctx, entry, out, logger)
	return out, nil
}

func (s *PredictionService) record(ctx context.Context, entry *Entry, out *Outcome, logger *log.Entry) {
	features, err := json.Marshal(out.Row.Values)
	if err != nil {
		logger.WithError(err).Warn("failed to encode record for history")
		return
	}

	version := ""
	if entry.Artifact != nil {
		version = entry.Artifact.Version
	}

	err = s.history.Save(ctx, store.PredictionRecord{
		ID:              out.RequestID,
		Model:           out.Model,
		ArtifactVersion: version,
		Features:        string(features),
		Prediction:      out.Value,
		ResultText:      out.Text,
		Cached:          out.Cached,
		CreatedAt:       s.now().UTC(),
	})
	if err != nil {
		logger.WithError(err).Warn("failed to save prediction history")
	}
}

// CacheKey identifies a prediction by model, artifact checksum and record
// values in column order.
func CacheKey(model, checksum string, row Row) string {
	values := make([]any, len(row.Columns))
	for i, c := range row.Columns {
		values[i] = row.Values[c]
	}
	data, _ := json.Marshal(struct {
		Checksum string
		Columns  []string
		Values   []any
	}{checksum, row.Columns, values})

	sum := sha256.Sum256(data)
	return "prediction:" + model + ":" + hex.EncodeToString(sum[:])
}
