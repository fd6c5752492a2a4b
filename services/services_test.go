package services

import (
	"context"
	"fmt"
	"testing"

	"formpredict/manifest"

	"github.com/stretchr/testify/require"
)

const insuranceArtifact = `{
  "name": "insurance",
  "kind": "linear",
  "version": "test-1",
  "features": [
    {"name": "age", "type": "numeric", "mean": 0, "scale": 1},
    {"name": "smoker", "type": "categorical", "categories": ["no", "yes"]}
  ],
  "coefficients": [250, 0, 20000],
  "intercept": 1000
}`

const diabetesArtifact = `{
  "name": "diabetes",
  "kind": "logistic",
  "version": "test-1",
  "features": [
    {"name": "Glucose", "type": "numeric", "mean": 120, "scale": 30}
  ],
  "coefficients": [2.0],
  "intercept": 0
}`

type mapReader map[string]string

func (m mapReader) ReadArtifact(ctx context.Context, path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", path)
	}
	return []byte(data), nil
}

func testManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Default("mem")
	require.NoError(t, err)
	return m
}

// testRegistry loads insurance and diabetes; the other default models stay
// unavailable.
func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return LoadRegistry(context.Background(), testManifest(t), mapReader{
		"mem/insurance_pipeline.json": insuranceArtifact,
		"mem/diabetes_pipeline.json":  diabetesArtifact,
	})
}

func insuranceForm() map[string][]string {
	return map[string][]string{
		"age":      {"30"},
		"sex":      {"female"},
		"bmi":      {"27.5"},
		"children": {"1"},
		"smoker":   {"yes"},
		"region":   {"northeast"},
	}
}
