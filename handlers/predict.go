package handlers

import (
	"encoding/json"
	"net/http"

	"formpredict/services"
)

type PredictRequest struct {
	Features map[string]any `json:"features"`
}

type PredictResponse struct {
	RequestID  string  `json:"request_id"`
	Model      string  `json:"model"`
	Prediction float64 `json:"prediction"`
	Text       string  `json:"text"`
	Cached     bool    `json:"cached"`
}

func PredictHandler(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")

	var req PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	out, err := service.Predict(r.Context(), model, services.MapLookup(req.Features))
	if err != nil {
		status, message := errorStatus(err)
		logPredictionError(r, model, status, err)
		writeError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, PredictResponse{
		RequestID:  out.RequestID,
		Model:      out.Model,
		Prediction: out.Value,
		Text:       out.Text,
		Cached:     out.Cached,
	})
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	entries := service.Registry().Models()
	ready := 0
	for _, e := range entries {
		if e.Ready() {
			ready++
		}
	}

	status, code := "ok", http.StatusOK
	if ready < len(entries) {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":       status,
		"models_ready": ready,
		"models_total": len(entries),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
