package handlers

import (
	"errors"
	"net/http"

	"formpredict/services"

	log "github.com/sirupsen/logrus"
)

// errorStatus maps a prediction failure to the HTTP status and the message
// shown to the user.
func errorStatus(err error) (int, string) {
	var fe *services.FieldError
	switch {
	case errors.As(err, &fe):
		return http.StatusBadRequest, "Invalid input: " + fe.Error()
	case errors.Is(err, services.ErrUnknownModel):
		return http.StatusNotFound, "Unknown model"
	case errors.Is(err, services.ErrPredictorUnavailable):
		return http.StatusServiceUnavailable, "Model is currently unavailable"
	case errors.Is(err, services.ErrUpstream):
		return http.StatusBadGateway, "Model server error"
	}
	return http.StatusInternalServerError, "Prediction failed"
}

func logPredictionError(r *http.Request, model string, status int, err error) {
	entry := log.WithFields(log.Fields{"model": model, "status": status, "path": r.URL.Path}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("prediction failed")
		return
	}
	entry.Info("prediction rejected")
}
