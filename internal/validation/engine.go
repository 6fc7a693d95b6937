// Package validation derives per-column rules from live metadata and applies them to a payload.
package validation

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
)

// Lookup answers the questions that need the record store.
type Lookup interface {
	// RecordExists reports whether id is a record of tableID.
	RecordExists(ctx context.Context, tableID, id string) (bool, error)
	// ValueTaken reports whether another row of ownerID (a table or link table) holds
	// value in column. excludeID is skipped.
	ValueTaken(ctx context.Context, ownerID, column string, value any, excludeID string) (bool, error)
}

// Input is one submission to validate.
type Input struct {
	Schema    *model.Schema
	OwnerID   string // table id, or link table id for link attributes
	Columns   []*model.Column
	Data      map[string]any
	ExcludeID string // record being updated
}

type Engine struct {
	validate *validator.Validate
}

func New() *Engine {
	return &Engine{validate: validator.New()}
}

// Validate checks every column and returns the normalized payload. Failures are collected
// for all fields and returned together as *apperr.ValidationError. Unknown keys are dropped.
func (e *Engine) Validate(ctx context.Context, lookup Lookup, in Input) (map[string]any, error) {
	var errs []apperr.FieldError
	out := make(map[string]any, len(in.Columns))

	for _, col := range in.Columns {
		raw, present := in.Data[col.Name]
		if !present || isEmpty(raw) {
			if col.Required {
				errs = append(errs, apperr.Ferr(apperr.CodeRequired, col.Name, "Field '"+col.Name+"' is required"))
				continue
			}
			if present {
				switch {
				case col.IsList && raw != nil:
					out[col.Name] = []any{}
				case col.DataType == model.TypeString && raw != nil:
					out[col.Name] = raw
				}
			}
			continue
		}

		norm, ferrs, err := e.column(ctx, lookup, in.Schema, col, raw)
		if err != nil {
			return nil, err
		}
		if len(ferrs) > 0 {
			errs = append(errs, ferrs...)
			continue
		}

		if col.Unique {
			taken, err := lookup.ValueTaken(ctx, in.OwnerID, col.Name, norm, in.ExcludeID)
			if err != nil {
				return nil, fmt.Errorf("unique check %s: %w", col.Name, err)
			}
			if taken {
				errs = append(errs, apperr.Ferr(apperr.CodeUniqueViolation, col.Name, "Field '"+col.Name+"' must be unique"))
				continue
			}
		}
		out[col.Name] = norm
	}

	if len(errs) > 0 {
		return nil, apperr.Invalid(errs...)
	}
	return out, nil
}

func (e *Engine) column(ctx context.Context, lookup Lookup, schema *model.Schema, col *model.Column, raw any) (any, []apperr.FieldError, error) {
	if !col.IsList {
		v, fe, err := e.scalar(ctx, lookup, schema, col, raw)
		if err != nil || fe != nil {
			return nil, feList(fe), err
		}
		return v, nil, nil
	}

	items, ok := asList(raw)
	if !ok {
		return nil, []apperr.FieldError{apperr.Ferr(apperr.CodeTypeMismatch, col.Name, "Field '"+col.Name+"' must be a list")}, nil
	}
	var errs []apperr.FieldError
	out := make([]any, 0, len(items))
	seen := make(map[string]int, len(items))
	for i, it := range items {
		v, fe, err := e.scalar(ctx, lookup, schema, col, it)
		if err != nil {
			return nil, nil, err
		}
		if fe != nil {
			fe.Message = fmt.Sprintf("item %d: %s", i, fe.Message)
			errs = append(errs, *fe)
			continue
		}
		k := Key(v)
		if j, dup := seen[k]; dup {
			errs = append(errs, apperr.Ferr(apperr.CodeDuplicateItem, col.Name,
				fmt.Sprintf("item %d duplicates item %d", i, j)))
			continue
		}
		seen[k] = i
		out = append(out, v)
	}
	if len(errs) > 0 {
		return nil, errs, nil
	}
	return out, nil, nil
}

func (e *Engine) scalar(ctx context.Context, lookup Lookup, schema *model.Schema, col *model.Column, raw any) (any, *apperr.FieldError, error) {
	v, err := coerceScalar(col.DataType, raw)
	if err != nil {
		fe := apperr.Ferr(apperr.CodeTypeMismatch, col.Name, "Field '"+col.Name+"' "+err.Error())
		return nil, &fe, nil
	}

	switch {
	case col.DataType.NeedsEnum():
		en, ok := schema.EnumByID(col.EnumID)
		if !ok || !en.Has(v.(string)) {
			fe := apperr.Ferr(apperr.CodeEnumInvalid, col.Name, fmt.Sprintf("Invalid value %q for '%s'", v, col.Name))
			return nil, &fe, nil
		}
	case col.DataType == model.TypeReference:
		target, ok := referenceTarget(schema, col)
		if !ok {
			fe := apperr.Ferr(apperr.CodeRefNotFound, col.Name, "Field '"+col.Name+"' has no resolvable link table")
			return nil, &fe, nil
		}
		exists, err := lookup.RecordExists(ctx, target, v.(string))
		if err != nil {
			return nil, nil, fmt.Errorf("reference check %s: %w", col.Name, err)
		}
		if !exists {
			fe := apperr.Ferr(apperr.CodeRefNotFound, col.Name, fmt.Sprintf("Referenced record %q not found", v))
			return nil, &fe, nil
		}
	}

	if col.Constraints != "" {
		if err := e.checkConstraint(v, col.Constraints); err != nil {
			fe := apperr.Ferr(apperr.CodeConstraint, col.Name, "Field '"+col.Name+"' "+err.Error())
			return nil, &fe, nil
		}
	}
	return v, nil, nil
}

func referenceTarget(schema *model.Schema, col *model.Column) (string, bool) {
	link, ok := schema.LinkTableByID(col.ReferenceLinkTableID)
	if !ok || !link.Touches(col.TableID) {
		return "", false
	}
	other, _ := link.Other(col.TableID)
	return other, true
}

func feList(fe *apperr.FieldError) []apperr.FieldError {
	if fe == nil {
		return nil
	}
	return []apperr.FieldError{*fe}
}
