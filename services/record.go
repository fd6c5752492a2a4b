package services

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"formpredict/manifest"

	"github.com/zclconf/go-cty/cty"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field value")
)

// FieldError reports a form field that is absent or cannot be converted to
// the type the model was trained on.
type FieldError struct {
	Field string
	Kind  error
	Err   error
}

func (e *FieldError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q", e.Kind, e.Field)
	}
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Field, e.Err)
}

func (e *FieldError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Lookup returns the raw submitted value of a field and whether it was
// present at all.
type Lookup func(name string) (string, bool)

// Row is a single-row tabular record. Values hold int64, float64 or string.
type Row struct {
	Columns []string
	Values  map[string]any
}

func (r Row) Value(column string) (any, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// ParseRow converts the submitted fields of model into a record in training
// column order and evaluates the derived columns.
func ParseRow(model *manifest.Model, lookup Lookup, now time.Time) (Row, error) {
	parsed := make(map[string]any, len(model.Fields))
	vars := map[string]cty.Value{
		manifest.CurrentYearVar: cty.NumberIntVal(int64(now.Year())),
	}

	for _, f := range model.Fields {
		raw, ok := lookup(f.Name)
		if !ok || strings.TrimSpace(raw) == "" {
			return Row{}, &FieldError{Field: f.Name, Kind: ErrMissingField}
		}
		v, err := parseField(f, raw)
		if err != nil {
			return Row{}, &FieldError{Field: f.Name, Kind: ErrInvalidField, Err: err}
		}
		parsed[f.Name] = v
		vars[f.Name] = manifest.ToCty(v)
	}

	for _, d := range model.Derived {
		v, err := d.Eval(vars)
		if err != nil {
			return Row{}, &FieldError{Field: d.Name, Kind: ErrInvalidField, Err: err}
		}
		parsed[d.Name] = v
		vars[d.Name] = manifest.ToCty(v)
	}

	columns := model.Columns()
	row := Row{Columns: columns, Values: make(map[string]any, len(columns))}
	for _, c := range columns {
		row.Values[c] = parsed[c]
	}
	return row, nil
}

func parseField(f *manifest.Field, raw string) (any, error) {
	switch f.Type {
	case manifest.FieldInt:
		i, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", raw)
		}
		return i, nil
	case manifest.FieldFloat:
		fl, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(fl) || math.IsInf(fl, 0) {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return fl, nil
	default:
		if len(f.Options) > 0 && !slices.Contains(f.Options, raw) {
			return nil, fmt.Errorf("%q is not one of %s", raw, strings.Join(f.Options, ", "))
		}
		return raw, nil
	}
}

// FormLookup adapts url.Values-like getters, e.g. r.PostForm, to a Lookup.
func FormLookup(values map[string][]string) Lookup {
	return func(name string) (string, bool) {
		vs, ok := values[name]
		if !ok || len(vs) == 0 {
			return "", false
		}
		return vs[0], true
	}
}

// MapLookup adapts decoded JSON features to a Lookup. Numbers are expected as
// json.Number or float64, strings verbatim; any other type is treated as
// absent.
func MapLookup(features map[string]any) Lookup {
	return func(name string) (string, bool) {
		v, ok := features[name]
		if !ok {
			return "", false
		}
		switch t := v.(type) {
		case string:
			return t, true
		case fmt.Stringer:
			return t.String(), true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case int:
			return strconv.Itoa(t), true
		case int64:
			return strconv.FormatInt(t, 10), true
		}
		return "", false
	}
}
