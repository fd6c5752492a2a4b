// Package manifest decodes the HCL table that maps every supported model to
// its form fields, artifact, routes and result text.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

//go:embed models.hcl
var defaultManifest []byte

const (
	FieldInt    = "int"
	FieldFloat  = "float"
	FieldString = "string"

	ResultLabel  = "label"
	ResultAmount = "amount"
)

type Manifest struct {
	Models []*Model `hcl:"model,block"`
}

type Model struct {
	Name     string     `hcl:"name,label"`
	Title    string     `hcl:"title"`
	Artifact string     `hcl:"artifact"`
	Page     string     `hcl:"page,optional"`
	Predict  string     `hcl:"predict,optional"`
	Template string     `hcl:"template,optional"`
	Fields   []*Field   `hcl:"field,block"`
	Derived  []*Derived `hcl:"derived,block"`
	Result   *Result    `hcl:"result,block"`
}

type Field struct {
	Name      string   `hcl:"name,label"`
	Type      string   `hcl:"type"`
	Caption   string   `hcl:"caption,optional"`
	Options   []string `hcl:"options,optional"`
	InputOnly bool     `hcl:"input_only,optional"`
}

type Result struct {
	Kind      string            `hcl:"kind"`
	Labels    map[string]string `hcl:"labels,optional"`
	Otherwise string            `hcl:"otherwise,optional"`
	Prefix    string            `hcl:"prefix,optional"`
	Suffix    string            `hcl:"suffix,optional"`
	Scale     *float64          `hcl:"scale,optional"`
	Decimals  *int              `hcl:"decimals,optional"`
}

// Default returns the built-in manifest with artifact paths rooted at
// modelDir.
func Default(modelDir string) (*Manifest, error) {
	return Decode("models.hcl", defaultManifest, modelDir)
}

// Load reads a manifest file from disk. An empty path selects the built-in
// manifest.
func Load(path, modelDir string) (*Manifest, error) {
	if path == "" {
		return Default(modelDir)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return Decode(path, src, modelDir)
}

func Decode(filename string, src []byte, modelDir string) (*Manifest, error) {
	ctx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"model_dir": cty.StringVal(strings.TrimSuffix(modelDir, "/")),
		},
	}

	var m Manifest
	if err := hclsimple.Decode(filename, src, ctx, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", filename, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	for _, model := range m.Models {
		if model.Page == "" {
			model.Page = "/" + model.Name
		}
		if model.Predict == "" {
			model.Predict = "/predict_" + model.Name
		}
		if model.Template == "" {
			model.Template = model.Name + ".html"
		}
		for _, f := range model.Fields {
			if f.Caption == "" {
				f.Caption = f.Name
			}
		}
		for _, d := range model.Derived {
			if d.Type == "" {
				d.Type = FieldFloat
			}
		}
	}
}

// Validate checks the invariants the route dispatcher relies on.
func (m *Manifest) Validate() error {
	if len(m.Models) == 0 {
		return fmt.Errorf("manifest declares no models")
	}

	names := make(map[string]bool)
	routes := make(map[string]string)
	for _, model := range m.Models {
		if names[model.Name] {
			return fmt.Errorf("duplicate model %q", model.Name)
		}
		names[model.Name] = true

		for _, route := range []string{model.Page, model.Predict} {
			if !strings.HasPrefix(route, "/") {
				return fmt.Errorf("model %q: route %q must start with /", model.Name, route)
			}
			if route == "/" || strings.HasPrefix(route, "/api/") {
				return fmt.Errorf("model %q: route %q is reserved", model.Name, route)
			}
			if owner, ok := routes[route]; ok {
				return fmt.Errorf("model %q: route %q already used by %q", model.Name, route, owner)
			}
			routes[route] = model.Name
		}

		if err := model.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) validate() error {
	if len(m.Fields) == 0 {
		return fmt.Errorf("model %q declares no fields", m.Name)
	}

	columns := make(map[string]bool)
	for _, f := range m.Fields {
		if columns[f.Name] {
			return fmt.Errorf("model %q: duplicate field %q", m.Name, f.Name)
		}
		columns[f.Name] = true
		if !validType(f.Type) {
			return fmt.Errorf("model %q: field %q has unknown type %q", m.Name, f.Name, f.Type)
		}
		if len(f.Options) > 0 && f.Type != FieldString {
			return fmt.Errorf("model %q: field %q options require type string", m.Name, f.Name)
		}
	}
	for _, d := range m.Derived {
		if columns[d.Name] {
			return fmt.Errorf("model %q: derived column %q collides with a field", m.Name, d.Name)
		}
		columns[d.Name] = true
		if !validType(d.Type) {
			return fmt.Errorf("model %q: derived column %q has unknown type %q", m.Name, d.Name, d.Type)
		}
	}
	if len(m.Columns()) == 0 {
		return fmt.Errorf("model %q has only input_only fields", m.Name)
	}

	if m.Result == nil {
		return fmt.Errorf("model %q has no result block", m.Name)
	}
	switch m.Result.Kind {
	case ResultLabel:
		if len(m.Result.Labels) == 0 && m.Result.Otherwise == "" {
			return fmt.Errorf("model %q: label result needs labels or otherwise", m.Name)
		}
	case ResultAmount:
		if m.Result.Decimals != nil && (*m.Result.Decimals < 0 || *m.Result.Decimals > 10) {
			return fmt.Errorf("model %q: decimals must be between 0 and 10", m.Name)
		}
	default:
		return fmt.Errorf("model %q: unknown result kind %q", m.Name, m.Result.Kind)
	}
	return nil
}

// Columns returns the record columns in training order: every field that is
// not input_only, followed by the derived columns.
func (m *Model) Columns() []string {
	var cols []string
	for _, f := range m.Fields {
		if !f.InputOnly {
			cols = append(cols, f.Name)
		}
	}
	for _, d := range m.Derived {
		cols = append(cols, d.Name)
	}
	return cols
}

func (m *Manifest) Model(name string) (*Model, bool) {
	for _, model := range m.Models {
		if model.Name == name {
			return model, true
		}
	}
	return nil, false
}

func (r *Result) ScaleOrDefault() float64 {
	if r.Scale == nil || *r.Scale == 0 {
		return 1
	}
	return *r.Scale
}

func (r *Result) DecimalsOrDefault() int {
	if r.Decimals == nil {
		return 2
	}
	return *r.Decimals
}

func validType(t string) bool {
	switch t {
	case FieldInt, FieldFloat, FieldString:
		return true
	}
	return false
}
