package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"formpredict/store"
)

type ModelInfo struct {
	Name     string      `json:"name"`
	Title    string      `json:"title"`
	Page     string      `json:"page"`
	Predict  string      `json:"predict"`
	Status   string      `json:"status"`
	Kind     string      `json:"kind,omitempty"`
	Version  string      `json:"version,omitempty"`
	Checksum string      `json:"checksum,omitempty"`
	Error    string      `json:"error,omitempty"`
	Columns  []string    `json:"columns"`
	Fields   []FieldInfo `json:"fields"`
}

type FieldInfo struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Caption   string   `json:"caption"`
	Options   []string `json:"options,omitempty"`
	InputOnly bool     `json:"input_only,omitempty"`
}

func ModelsListHandler(w http.ResponseWriter, r *http.Request) {
	var models []ModelInfo
	for _, e := range service.Registry().Models() {
		info := ModelInfo{
			Name:     e.Model.Name,
			Title:    e.Model.Title,
			Page:     e.Model.Page,
			Predict:  e.Model.Predict,
			Status:   e.Status(),
			Checksum: e.Checksum,
			Columns:  e.Model.Columns(),
		}
		if e.Artifact != nil {
			info.Kind = e.Artifact.Kind
			info.Version = e.Artifact.Version
		}
		if e.Err != nil {
			info.Error = e.Err.Error()
		}
		for _, f := range e.Model.Fields {
			info.Fields = append(info.Fields, FieldInfo{
				Name:      f.Name,
				Type:      f.Type,
				Caption:   f.Caption,
				Options:   f.Options,
				InputOnly: f.InputOnly,
			})
		}
		models = append(models, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

type HistoryRecord struct {
	ID              string          `json:"id"`
	ArtifactVersion string          `json:"artifact_version"`
	Features        json.RawMessage `json:"features"`
	Prediction      float64         `json:"prediction"`
	ResultText      string          `json:"result_text"`
	Cached          bool            `json:"cached"`
	CreatedAt       time.Time       `json:"created_at"`
}

func HistoryHandler(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")

	limit := store.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := service.History(r.Context(), model, limit)
	if err != nil {
		status, message := errorStatus(err)
		if status >= http.StatusInternalServerError {
			message = "Failed to load history"
			logPredictionError(r, model, status, err)
		}
		writeError(w, status, message)
		return
	}

	out := make([]HistoryRecord, 0, len(records))
	for _, rec := range records {
		features := json.RawMessage(rec.Features)
		if !json.Valid(features) {
			features = json.RawMessage("null")
		}
		out = append(out, HistoryRecord{
			ID:              rec.ID,
			ArtifactVersion: rec.ArtifactVersion,
			Features:        features,
			Prediction:      rec.Prediction,
			ResultText:      rec.ResultText,
			Cached:          rec.Cached,
			CreatedAt:       rec.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":   model,
		"records": out,
	})
}
