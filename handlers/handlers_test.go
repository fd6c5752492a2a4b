package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"formpredict/config"
	"formpredict/manifest"
	"formpredict/services"
	"formpredict/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const insuranceArtifact = `{
  "name": "insurance",
  "kind": "linear",
  "version": "2024.1",
  "features": [
    {"name": "age", "type": "numeric"},
    {"name": "smoker", "type": "categorical", "categories": ["no", "yes"]}
  ],
  "coefficients": [250, 0, 20000],
  "intercept": 1000
}`

type testEnv struct {
	router   http.Handler
	modelDir string
}

// newTestEnv serves the default manifest with only the insurance artifact
// present, plus any extra artifacts given by file name.
func newTestEnv(t *testing.T, cfg config.Config, extra map[string]string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	artifacts := map[string]string{"insurance_pipeline.json": insuranceArtifact}
	for name, body := range extra {
		artifacts[name] = body
	}
	for name, body := range artifacts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}

	m, err := manifest.Default(dir)
	require.NoError(t, err)

	registry := services.LoadRegistry(context.Background(), m, services.NewDataService("us-east-1"))
	svc := services.NewPredictionService(registry, nil, store.NewMemoryRecorder(100))
	r, err := NewRenderer(cfg.TemplateDir, m.Models)
	require.NoError(t, err)

	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "http://localhost:8080"
	}
	Init(cfg, svc, r)
	return &testEnv{router: NewRouter(), modelDir: dir}
}

func (e *testEnv) do(method, target string, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, vs := range header {
		req.Header[k] = vs
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, target, form.Encode(), http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
	})
}

func insuranceForm() url.Values {
	return url.Values{
		"age":      {"30"},
		"sex":      {"male"},
		"bmi":      {"24.2"},
		"children": {"0"},
		"smoker":   {"yes"},
		"region":   {"southwest"},
	}
}

func TestIndexPage(t *testing.T) {
	env := newTestEnv(t, config.Config{InputGuard: true}, nil)

	rec := env.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `href="/insurance"`)
	assert.Contains(t, body, `href="/diabetes"`)
	assert.Contains(t, body, "(unavailable)")

	rec = env.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFormPage(t *testing.T) {
	env := newTestEnv(t, config.Config{InputGuard: true}, nil)

	rec := env.do(http.MethodGet, "/insurance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `action="/predict_insurance"`)
	assert.Contains(t, body, `name="age"`)
	assert.Contains(t, body, `<select id="smoker" name="smoker" required>`)
	assert.Contains(t, body, `step="any"`)
	assert.NotContains(t, body, `class="result"`)
}

func TestFormPredict(t *testing.T) {
	env := newTestEnv(t, config.Config{InputGuard: true}, nil)

	rec := env.postForm("/predict_insurance", insuranceForm())
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Predicted Insurance Cost: $28,500.00")
	assert.Contains(t, body, `value="30"`)
	assert.Contains(t, body, `<option value="yes" selected>`)

	rec = env.do(http.MethodGet, "/predict_insurance", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFormPredictGuardedInput(t *testing.T) {
	env := newTestEnv(t, config.Config{InputGuard: true}, nil)

	form := insuranceForm()
	form.Del("age")
	rec := env.postForm("/predict_insurance", form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid input: missing required field")
	assert.Contains(t, rec.Body.String(), `class="error"`)

	form = insuranceForm()
	form.Set("bmi", "heavy")
	rec = env.postForm("/predict_insurance", form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "is not a number")
	assert.Contains(t, rec.Body.String(), `value="heavy"`)
}

func TestFormPredictUnguardedInput(t *testing.T) {
	env := newTestEnv(t, config.Config{InputGuard: false}, nil)

	form := insuranceForm()
	form.Set("children", "two")
	rec := env.postForm("/predict_insurance", form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rec.Body.String(), `Invalid input: invalid field value "children"`)
	assert.NotContains(t, rec.Body.String(), "<html")
}

func TestFormPredictUnavailableModel(t *testing.T) {
	env := newTestEnv(t, config.Config{InputGuard: true}, nil)

	rec := env.postForm("/predict_heart", url.Values{"age": {"63"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	form := url.Values{}
	for _, f := range []string{"age", "sex", "cp", "trestbps", "chol", "fbs", "restecg", "thalach", "exang", "oldpeak", "slope", "ca", "thal"} {
		form.Set(f, "1")
	}
	rec = env.postForm("/predict_heart", form)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Model is currently unavailable")
}

func TestFormPredictRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	env := newTestEnv(t, config.Config{InputGuard: true}, map[string]string{
		"car_pipeline.json": `{"name": "car", "kind": "remote", "endpoint": "` + srv.URL + `/predict", "timeout_ms": 2000}`,
	})

	rec := env.postForm("/predict_car", url.Values{
		"Present_Price": {"5.59"},
		"Kms_Driven":    {"27000"},
		"Owner":         {"0"},
		"Year":          {"2014"},
		"Fuel_Type":     {"Petrol"},
		"Seller_Type":   {"Dealer"},
		"Transmission":  {"Manual"},
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Model server error")
}

func TestCustomTemplate(t *testing.T) {
	tmplDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmplDir, "insurance.html"),
		[]byte(`<p id="custom">{{.Title}}: {{.PredictionText}}</p>`), 0644))

	env := newTestEnv(t, config.Config{InputGuard: true, TemplateDir: tmplDir}, nil)

	rec := env.postForm("/predict_insurance", insuranceForm())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `<p id="custom">Insurance Cost Prediction: Predicted Insurance Cost: $28,500.00</p>`, rec.Body.String())

	rec = env.do(http.MethodGet, "/diabetes", "", nil)
	assert.Contains(t, rec.Body.String(), `action="/predict_diabetes"`)
}

func TestAPIPredict(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	rec := env.do(http.MethodPost, "/api/predict/insurance",
		`{"features": {"age": 30, "sex": "female", "bmi": 22.5, "children": 2, "smoker": "no", "region": "northeast"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))

	var resp PredictResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "insurance", resp.Model)
	assert.InDelta(t, 8500.0, resp.Prediction, 1e-9)
	assert.Equal(t, "Predicted Insurance Cost: $8,500.00", resp.Text)
	assert.NotEmpty(t, resp.RequestID)
	assert.False(t, resp.Cached)
}

func TestAPIPredictErrors(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	tests := []struct {
		name   string
		target string
		body   string
		status int
		errMsg string
	}{
		{name: "malformed body", target: "/api/predict/insurance", body: `{"features":`, status: http.StatusBadRequest, errMsg: "Invalid request"},
		{name: "unknown model", target: "/api/predict/iris", body: `{"features": {}}`, status: http.StatusNotFound, errMsg: "Unknown model"},
		{name: "missing feature", target: "/api/predict/insurance", body: `{"features": {"age": 30}}`, status: http.StatusBadRequest, errMsg: "Invalid input"},
		{name: "fractional int", target: "/api/predict/insurance", body: `{"features": {"age": 30.5, "sex": "male", "bmi": 1, "children": 0, "smoker": "no", "region": "northeast"}}`, status: http.StatusBadRequest, errMsg: "not an integer"},
		{name: "unavailable", target: "/api/predict/house", body: `{"features": {"MedInc": 1, "HouseAge": 1, "AveRooms": 1, "AveBedrms": 1, "Population": 1, "AveOccup": 1, "Latitude": 1, "Longitude": 1}}`, status: http.StatusServiceUnavailable, errMsg: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, tt.target, tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)

			var resp map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Contains(t, resp["error"], tt.errMsg)
		})
	}
}

func TestAPIKeyRequired(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	env := newTestEnv(t, config.Config{APIKeyHash: string(hash)}, nil)
	body := `{"features": {"age": 30, "sex": "male", "bmi": 1, "children": 0, "smoker": "no", "region": "northeast"}}`

	rec := env.do(http.MethodPost, "/api/predict/insurance", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/predict/insurance", body, http.Header{"X-Api-Key": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/predict/insurance", body, http.Header{"X-Api-Key": {"s3cret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/history/insurance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// catalog and health stay public
	rec = env.do(http.MethodGet, "/api/models", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRateLimit(t *testing.T) {
	env := newTestEnv(t, config.Config{APIRateLimit: "2/min"}, nil)
	body := `{"features": {"age": 30, "sex": "male", "bmi": 1, "children": 0, "smoker": "no", "region": "northeast"}}`

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodPost, "/api/predict/insurance", body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(http.MethodPost, "/api/predict/insurance", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// without configured keys the header is not a client identity
	for i := 0; i < 5; i++ {
		rec = env.do(http.MethodPost, "/api/predict/insurance", body, http.Header{"X-Api-Key": {fmt.Sprintf("junk-%d", i)}})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	}
	assert.Equal(t, 1, limiter.clientCount())
}

func TestAPIRateLimitPerVerifiedKey(t *testing.T) {
	hashA, err := bcrypt.GenerateFromPassword([]byte("team-a"), bcrypt.MinCost)
	require.NoError(t, err)
	env := newTestEnv(t, config.Config{APIKeyHash: string(hashA), APIRateLimit: "1/min"}, nil)
	body := `{"features": {"age": 30, "sex": "male", "bmi": 1, "children": 0, "smoker": "no", "region": "northeast"}}`

	rec := env.do(http.MethodPost, "/api/predict/insurance", body, http.Header{"X-Api-Key": {"team-a"}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/api/predict/insurance", body, http.Header{"X-Api-Key": {"team-a"}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// rejected keys never reach the limiter
	rec = env.do(http.MethodPost, "/api/predict/insurance", body, http.Header{"X-Api-Key": {"made-up"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, limiter.clientCount())
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, config.Config{CORSOrigin: "https://predict.example.com"}, nil)

	rec := env.do(http.MethodOptions, "/api/predict/insurance", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://predict.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestModelsList(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	rec := env.do(http.MethodGet, "/api/models", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Models []ModelInfo `json:"models"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Models, 5)

	byName := make(map[string]ModelInfo)
	for _, m := range resp.Models {
		byName[m.Name] = m
	}
	assert.Equal(t, "ready", byName["insurance"].Status)
	assert.Equal(t, "linear", byName["insurance"].Kind)
	assert.Equal(t, "2024.1", byName["insurance"].Version)
	assert.Len(t, byName["insurance"].Checksum, 12)

	assert.Equal(t, "unavailable", byName["car"].Status)
	assert.Contains(t, byName["car"].Error, "not found")
	assert.Equal(t, "Car_Age", byName["car"].Columns[len(byName["car"].Columns)-1])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.Config{}, nil)

	rec := env.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp["status"])
	assert.Equal(t, 1.0, resp["models_ready"])
	assert.Equal(t, 5.0, resp["models_total"])
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, config.Config{InputGuard: true}, nil)

	for _, age := range []string{"20", "40"} {
		form := insuranceForm()
		form.Set("age", age)
		require.Equal(t, http.StatusOK, env.postForm("/predict_insurance", form).Code)
	}

	rec := env.do(http.MethodGet, "/api/history/insurance?limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Model   string          `json:"model"`
		Records []HistoryRecord `json:"records"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "insurance", resp.Model)
	assert.Equal(t, "Predicted Insurance Cost: $31,000.00", resp.Records[0].ResultText)
	assert.WithinDuration(t, time.Now(), resp.Records[0].CreatedAt, time.Minute)

	var features map[string]any
	require.NoError(t, json.Unmarshal(resp.Records[0].Features, &features))
	assert.Equal(t, 40.0, features["age"])

	rec = env.do(http.MethodGet, "/api/history/insurance?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/history/iris", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter("2/min")
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, rl.allow("a", now))
	assert.True(t, rl.allow("a", now.Add(10*time.Second)))
	assert.False(t, rl.allow("a", now.Add(20*time.Second)))
	assert.True(t, rl.allow("a", now.Add(61*time.Second)))

	assert.True(t, newRateLimiter("").allow("a", now))
	assert.True(t, newRateLimiter("lots").allow("a", now))
}

func TestRateLimiterDropsIdleClients(t *testing.T) {
	rl := newRateLimiter("5/min")
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		assert.True(t, rl.allow(fmt.Sprintf("client-%d", i), now))
	}
	assert.Equal(t, 50, rl.clientCount())

	assert.True(t, rl.allow("late", now.Add(2*time.Minute)))
	assert.Equal(t, 1, rl.clientCount())
}

func (rl *rateLimiter) clientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.requests)
}
