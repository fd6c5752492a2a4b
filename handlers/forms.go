package handlers

import (
	"net/http"

	"formpredict/manifest"
	"formpredict/services"

	log "github.com/sirupsen/logrus"
)

func IndexHandler(w http.ResponseWriter, r *http.Request) {
	data := IndexData{Title: "Prediction Models"}
	for _, e := range service.Registry().Models() {
		data.Models = append(data.Models, ModelLink{
			Title: e.Model.Title,
			Page:  e.Model.Page,
			Ready: e.Ready(),
		})
	}
	renderer.Index(w, data)
}

// FormPageHandler serves the empty input form of m.
func FormPageHandler(m *manifest.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		renderer.Form(w, http.StatusOK, pageData(m, nil))
	}
}

// FormPredictHandler parses a form submission for m, predicts and renders the
// same page with the result text.
func FormPredictHandler(m *manifest.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form", http.StatusBadRequest)
			return
		}

		form := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		data := pageData(m, form)

		out, err := service.Predict(r.Context(), m.Name, services.FormLookup(r.PostForm))
		if err != nil {
			status, message := errorStatus(err)
			logPredictionError(r, m.Name, status, err)
			if !settings.InputGuard {
				http.Error(w, message, status)
				return
			}
			data.PredictionText = message
			data.Error = true
			renderer.Form(w, status, data)
			return
		}

		log.WithFields(log.Fields{
			"model":      m.Name,
			"request_id": out.RequestID,
			"cached":     out.Cached,
		}).Debug("form prediction served")

		data.PredictionText = out.Text
		renderer.Form(w, http.StatusOK, data)
	}
}
