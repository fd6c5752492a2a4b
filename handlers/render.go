package handlers

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"formpredict/manifest"
	"formpredict/web"

	log "github.com/sirupsen/logrus"
)

const (
	indexTemplate = "index.html"
	formTemplate  = "form.html"
)

// PageData is passed to every form page template.
type PageData struct {
	Title          string
	Model          *manifest.Model
	Fields         []FieldView
	Form           map[string]string
	PredictionText string
	Error          bool
}

type FieldView struct {
	Name    string
	Caption string
	Type    string
	Options []string
	Value   string
}

type IndexData struct {
	Title  string
	Models []ModelLink
}

type ModelLink struct {
	Title string
	Page  string
	Ready bool
}

// Renderer executes the embedded templates, or a model's own template from
// the template directory when one exists.
type Renderer struct {
	base      *template.Template
	overrides map[string]*template.Template
}

func NewRenderer(templateDir string, models []*manifest.Model) (*Renderer, error) {
	base, err := template.ParseFS(web.Templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded templates: %w", err)
	}

	r := &Renderer{base: base, overrides: make(map[string]*template.Template)}
	if templateDir == "" {
		return r, nil
	}

	for _, m := range models {
		path := filepath.Join(templateDir, m.Template)
		if !fileExists(path) {
			continue
		}
		t, err := template.ParseFiles(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
		}
		r.overrides[m.Name] = t
		log.WithFields(log.Fields{"model": m.Name, "template": path}).Info("using custom template")
	}

	if path := filepath.Join(templateDir, indexTemplate); fileExists(path) {
		t, err := template.ParseFiles(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
		}
		r.overrides[""] = t
	}

	return r, nil
}

func (r *Renderer) Index(w http.ResponseWriter, data IndexData) {
	if t, ok := r.overrides[""]; ok {
		r.write(w, http.StatusOK, t, "", data)
		return
	}
	r.write(w, http.StatusOK, r.base, indexTemplate, data)
}

func (r *Renderer) Form(w http.ResponseWriter, status int, data PageData) {
	if t, ok := r.overrides[data.Model.Name]; ok {
		r.write(w, status, t, "", data)
		return
	}
	r.write(w, status, r.base, formTemplate, data)
}

// write renders into a buffer first so a failing template never leaves a
// half-written page behind.
func (r *Renderer) write(w http.ResponseWriter, status int, t *template.Template, name string, data any) {
	var buf bytes.Buffer
	var err error
	if name == "" {
		err = t.Execute(&buf, data)
	} else {
		err = t.ExecuteTemplate(&buf, name, data)
	}
	if err != nil {
		log.WithError(err).Error("failed to render template")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func pageData(m *manifest.Model, form map[string]string) PageData {
	fields := make([]FieldView, len(m.Fields))
	for i, f := range m.Fields {
		fields[i] = FieldView{
			Name:    f.Name,
			Caption: f.Caption,
			Type:    f.Type,
			Options: f.Options,
			Value:   form[f.Name],
		}
	}
	return PageData{
		Title:  m.Title,
		Model:  m,
		Fields: fields,
		Form:   form,
	}
}
