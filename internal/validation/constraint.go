package validation

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"minicrm/internal/model"
)

// checkConstraint runs a validator tag expression against one normalized value.
// Bad tags panic inside validator, so the panic is turned into an error here.
func (e *Engine) checkConstraint(v any, expr string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("constraint %q cannot be applied: %v", expr, r)
		}
	}()
	if verr := e.validate.Var(v, expr); verr != nil {
		return fmt.Errorf("violates constraint %q", expr)
	}
	return nil
}

// CheckExpression reports whether expr compiles for columns of type t.
func (e *Engine) CheckExpression(expr string, t model.DataType) (err error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid constraints %q: %v", expr, r)
		}
	}()
	// only the panic matters; a failing sample value is fine
	_ = e.validate.Var(sample(t), expr)
	return nil
}

func sample(t model.DataType) any {
	switch t {
	case model.TypeInteger:
		return int64(0)
	case model.TypeCurrency:
		return float64(0)
	case model.TypeBoolean:
		return false
	default:
		return ""
	}
}

// Canonicalize restores canonical Go types on data read back from a backend: JSON
// storage yields float64 for every number and BSON yields int32/int64 depending on size.
// Keys without a column are kept as stored.
func Canonicalize(columns []*model.Column, data map[string]any) map[string]any {
	out := model.CloneData(data)
	for _, col := range columns {
		v, ok := out[col.Name]
		if !ok || v == nil {
			continue
		}
		if col.IsList {
			items, ok := asList(v)
			if !ok {
				continue
			}
			list := make([]any, len(items))
			for i, it := range items {
				list[i] = canonicalScalar(col.DataType, it)
			}
			out[col.Name] = list
			continue
		}
		out[col.Name] = canonicalScalar(col.DataType, v)
	}
	return out
}

func canonicalScalar(t model.DataType, v any) any {
	switch t {
	case model.TypeInteger:
		if n, err := cast.ToInt64E(v); err == nil {
			return n
		}
	case model.TypeCurrency:
		if f, err := cast.ToFloat64E(v); err == nil {
			return f
		}
	case model.TypeBoolean:
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	default:
		if s, err := cast.ToStringE(v); err == nil {
			return s
		}
	}
	return v
}
