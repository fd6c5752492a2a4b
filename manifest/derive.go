package manifest

import (
	"fmt"
	"math"
	"math/big"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// CurrentYearVar is bound to the calendar year of the request when derived
// expressions are evaluated.
const CurrentYearVar = "current_year"

// Derived is a record column computed from the parsed form fields, e.g.
//
//	derived "Car_Age" {
//	  type = "int"
//	  expr = current_year - Year
//	}
type Derived struct {
	Name string         `hcl:"name,label"`
	Type string         `hcl:"type,optional"`
	Expr hcl.Expression `hcl:"expr"`
}

var functions = map[string]function.Function{
	"abs":   stdlib.AbsoluteFunc,
	"ceil":  stdlib.CeilFunc,
	"floor": stdlib.FloorFunc,
	"max":   stdlib.MaxFunc,
	"min":   stdlib.MinFunc,
}

// Eval evaluates the expression against vars and converts the result to the
// column's Go representation: int64, float64 or string.
func (d *Derived) Eval(vars map[string]cty.Value) (any, error) {
	val, diags := d.Expr.Value(&hcl.EvalContext{Variables: vars, Functions: functions})
	if diags.HasErrors() {
		return nil, fmt.Errorf("derived column %q: %s", d.Name, diags.Error())
	}
	if val.IsNull() || !val.IsKnown() {
		return nil, fmt.Errorf("derived column %q evaluated to no value", d.Name)
	}

	if d.Type == FieldString {
		s, err := convert.Convert(val, cty.String)
		if err != nil {
			return nil, fmt.Errorf("derived column %q: %w", d.Name, err)
		}
		return s.AsString(), nil
	}

	n, err := convert.Convert(val, cty.Number)
	if err != nil {
		return nil, fmt.Errorf("derived column %q: %w", d.Name, err)
	}
	bf := n.AsBigFloat()
	if d.Type == FieldInt {
		if !bf.IsInt() {
			return nil, fmt.Errorf("derived column %q: %s is not an integer", d.Name, bf.String())
		}
		i, acc := bf.Int64()
		if acc != big.Exact {
			return nil, fmt.Errorf("derived column %q: %s overflows int64", d.Name, bf.String())
		}
		return i, nil
	}
	f, _ := bf.Float64()
	if math.IsInf(f, 0) {
		return nil, fmt.Errorf("derived column %q overflows float64", d.Name)
	}
	return f, nil
}

// ToCty converts a parsed form value into a cty value for expression
// evaluation.
func ToCty(v any) cty.Value {
	switch t := v.(type) {
	case int64:
		return cty.NumberIntVal(t)
	case int:
		return cty.NumberIntVal(int64(t))
	case float64:
		return cty.NumberFloatVal(t)
	case string:
		return cty.StringVal(t)
	}
	return cty.NullVal(cty.DynamicPseudoType)
}
