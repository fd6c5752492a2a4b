package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"formpredict/manifest"

	log "github.com/sirupsen/logrus"
)

var (
	ErrUnknownModel         = errors.New("unknown model")
	ErrPredictorUnavailable = errors.New("predictor unavailable")
)

// ArtifactReader returns the raw bytes of the artifact at path.
type ArtifactReader interface {
	ReadArtifact(ctx context.Context, path string) ([]byte, error)
}

// Entry is one manifest model together with its loaded predictor. An entry
// whose artifact failed to load keeps the error and refuses predictions.
type Entry struct {
	Model    *manifest.Model
	Artifact *Artifact
	Checksum string
	Err      error

	predictor Predictor
}

func (e *Entry) Ready() bool {
	return e.predictor != nil
}

func (e *Entry) Status() string {
	if e.Ready() {
		return "ready"
	}
	return "unavailable"
}

func (e *Entry) Predict(ctx context.Context, row Row) (float64, error) {
	if e.predictor == nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrPredictorUnavailable, e.Model.Name, e.Err)
	}
	return e.predictor.Predict(ctx, row)
}

// Registry is built once at startup and only read afterwards.
type Registry struct {
	entries map[string]*Entry
	order   []*Entry
}

// LoadRegistry loads the artifact of every model in m. Failures are logged
// and recorded on the entry; see Failed.
func LoadRegistry(ctx context.Context, m *manifest.Manifest, reader ArtifactReader) *Registry {
	r := &Registry{entries: make(map[string]*Entry, len(m.Models))}

	for _, model := range m.Models {
		entry := loadEntry(ctx, model, reader)
		logger := log.WithFields(log.Fields{"model": model.Name, "artifact": model.Artifact})
		if entry.Err != nil {
			logger.WithError(entry.Err).Error("failed to load model")
		} else {
			logger.WithFields(log.Fields{
				"kind":     entry.Artifact.Kind,
				"version":  entry.Artifact.Version,
				"checksum": entry.Checksum,
			}).Info("model loaded")
		}

		r.entries[model.Name] = entry
		r.order = append(r.order, entry)
	}

	return r
}

func loadEntry(ctx context.Context, model *manifest.Model, reader ArtifactReader) *Entry {
	entry := &Entry{Model: model}

	data, err := reader.ReadArtifact(ctx, model.Artifact)
	if err != nil {
		entry.Err = err
		return entry
	}
	sum := sha256.Sum256(data)
	entry.Checksum = hex.EncodeToString(sum[:])[:12]

	art, err := ParseArtifact(data)
	if err != nil {
		entry.Err = err
		return entry
	}
	entry.Artifact = art

	if err := checkSchema(model, art); err != nil {
		entry.Err = err
		return entry
	}

	p, err := NewPredictor(art, model.Name, model.Columns())
	if err != nil {
		entry.Err = err
		return entry
	}

	if mc, ok := p.(*ModelClient); ok {
		if err := mc.Health(ctx); err != nil {
			log.WithField("model", model.Name).WithError(err).Warn("model server not healthy yet")
		}
	}

	entry.predictor = p
	return entry
}

func checkSchema(model *manifest.Model, art *Artifact) error {
	types := make(map[string]string)
	for _, f := range model.Fields {
		if !f.InputOnly {
			types[f.Name] = f.Type
		}
	}
	for _, d := range model.Derived {
		types[d.Name] = d.Type
	}

	for _, f := range art.Features {
		t, ok := types[f.Name]
		if !ok {
			return fmt.Errorf("%w: artifact feature %q is not a column of %s", ErrSchemaMismatch, f.Name, model.Name)
		}
		if (f.Type == FeatureCategorical) != (t == manifest.FieldString) {
			return fmt.Errorf("%w: feature %q is %s but column is %s", ErrSchemaMismatch, f.Name, f.Type, t)
		}
	}
	return nil
}

func (r *Registry) Entry(name string) (*Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return e, nil
}

// Models returns the entries in manifest order.
func (r *Registry) Models() []*Entry {
	return slices.Clone(r.order)
}

func (r *Registry) Failed() []*Entry {
	var failed []*Entry
	for _, e := range r.order {
		if !e.Ready() {
			failed = append(failed, e)
		}
	}
	return failed
}
