package handlers

import (
	"net/http"
	"time"

	"formpredict/config"
	"formpredict/services"

	log "github.com/sirupsen/logrus"
)

var (
	settings config.Config
	service  *services.PredictionService
	renderer *Renderer
	limiter  *rateLimiter
)

func Init(cfg config.Config, svc *services.PredictionService, r *Renderer) {
	settings = cfg
	service = svc
	renderer = r
	limiter = newRateLimiter(cfg.APIRateLimit)
}

// NewRouter registers the index, one page and one predict route per model,
// and the JSON API.
func NewRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", IndexHandler)
	for _, e := range service.Registry().Models() {
		mux.HandleFunc("GET "+e.Model.Page, FormPageHandler(e.Model))
		mux.HandleFunc("POST "+e.Model.Predict, FormPredictHandler(e.Model))
	}

	mux.HandleFunc("POST /api/predict/{model}", enableCORS(APIKeyAuthMiddleware(RateLimitMiddleware(PredictHandler))))
	mux.HandleFunc("GET /api/history/{model}", enableCORS(APIKeyAuthMiddleware(HistoryHandler)))
	mux.HandleFunc("GET /api/models", enableCORS(ModelsListHandler))
	mux.HandleFunc("GET /api/health", enableCORS(HealthHandler))
	mux.HandleFunc("OPTIONS /api/", enableCORS(func(w http.ResponseWriter, r *http.Request) {}))

	return logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Microsecond).String(),
		}).Info("request")
	})
}
