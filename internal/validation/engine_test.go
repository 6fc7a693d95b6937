package validation

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
)

type fakeLookup struct {
	records map[string]map[string]bool // table -> ids
	taken   map[string]any             // column -> value already stored
}

func (f *fakeLookup) RecordExists(_ context.Context, tableID, id string) (bool, error) {
	return f.records[tableID][id], nil
}

func (f *fakeLookup) ValueTaken(_ context.Context, _ string, column string, value any, _ string) (bool, error) {
	v, ok := f.taken[column]
	return ok && Key(v) == Key(value), nil
}

func contactSchema() (*model.Schema, *model.Table) {
	status := &model.Enum{ID: "e1", Name: "Status", Values: []string{"Active", "Inactive"}}
	contacts := &model.Table{ID: "t1", Name: "Contacts"}
	companies := &model.Table{ID: "t2", Name: "Companies"}
	works := &model.LinkTable{ID: "l1", Name: "WorksAt", FromTableID: "t1", ToTableID: "t2"}
	contacts.Columns = []*model.Column{
		{ID: "c1", TableID: "t1", Name: "name", DataType: model.TypeString, Required: true, Constraints: "min=2"},
		{ID: "c2", TableID: "t1", Name: "email", DataType: model.TypeString, Unique: true, Constraints: "email"},
		{ID: "c3", TableID: "t1", Name: "status", DataType: model.TypeEnum, EnumID: "e1"},
		{ID: "c4", TableID: "t1", Name: "age", DataType: model.TypeInteger},
		{ID: "c5", TableID: "t1", Name: "tags", DataType: model.TypeString, IsList: true},
		{ID: "c6", TableID: "t1", Name: "company", DataType: model.TypeReference, ReferenceLinkTableID: "l1"},
		{ID: "c7", TableID: "t1", Name: "budget", DataType: model.TypeCurrency},
		{ID: "c8", TableID: "t1", Name: "born", DataType: model.TypeDate},
	}
	s := &model.Schema{Tables: []*model.Table{contacts, companies}, Enums: []*model.Enum{status}, LinkTables: []*model.LinkTable{works}}
	return s, contacts
}

func TestValidateNormalizes(t *testing.T) {
	s, contacts := contactSchema()
	lk := &fakeLookup{records: map[string]map[string]bool{"t2": {"co1": true}}}

	out, err := New().Validate(context.Background(), lk, Input{
		Schema:  s,
		OwnerID: contacts.ID,
		Columns: contacts.Columns,
		Data: map[string]any{
			"name":    "Ada",
			"email":   "ada@example.com",
			"status":  "Active",
			"age":     float64(36),
			"tags":    []any{"vip", "early"},
			"company": "co1",
			"budget":  "12.5",
			"born":    "1815-12-10",
			"unknown": "dropped",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(36), out["age"])
	assert.Equal(t, 12.5, out["budget"])
	assert.Equal(t, []any{"vip", "early"}, out["tags"])
	assert.NotContains(t, out, "unknown")
}

func TestValidateNumericBounds(t *testing.T) {
	s, contacts := contactSchema()
	cases := []struct {
		name   string
		field  string
		value  any
		want   any
		reject bool
	}{
		{"currency NaN string", "budget", "NaN", nil, true},
		{"currency Inf string", "budget", "Inf", nil, true},
		{"currency -Infinity string", "budget", "-Infinity", nil, true},
		{"currency +Inf float", "budget", math.Inf(1), nil, true},
		{"currency negative string", "budget", "-0.01", nil, true},
		{"currency zero", "budget", json.Number("0"), 0.0, false},
		{"integer above int64", "age", 1e19, nil, true},
		{"integer 2^63", "age", 0x1p63, nil, true},
		{"integer below int64", "age", -1e19, nil, true},
		{"integer NaN", "age", math.NaN(), nil, true},
		{"integer min int64", "age", -0x1p63, int64(math.MinInt64), false},
		{"integer exact json number", "age", json.Number("9007199254740993"), int64(9007199254740993), false},
		{"integer json number overflow", "age", json.Number("9223372036854775808"), nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := New().Validate(context.Background(), &fakeLookup{}, Input{
				Schema:  s,
				OwnerID: contacts.ID,
				Columns: contacts.Columns,
				Data:    map[string]any{"name": "Ada", tc.field: tc.value},
			})
			if tc.reject {
				verr, ok := apperr.AsValidation(err)
				require.True(t, ok, "expected validation error, got %v", err)
				require.Len(t, verr.Fields, 1)
				assert.Equal(t, tc.field, verr.Fields[0].Field)
				assert.Equal(t, apperr.CodeTypeMismatch, verr.Fields[0].Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, out[tc.field])
		})
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	s, contacts := contactSchema()
	lk := &fakeLookup{taken: map[string]any{"email": "taken@example.com"}}

	_, err := New().Validate(context.Background(), lk, Input{
		Schema:  s,
		OwnerID: contacts.ID,
		Columns: contacts.Columns,
		Data: map[string]any{
			"email":   "taken@example.com",
			"status":  "Archived",
			"age":     1.5,
			"tags":    []any{"a", "a"},
			"company": "missing",
			"budget":  -3,
			"born":    "1815-13-40",
		},
	})
	verr, ok := apperr.AsValidation(err)
	require.True(t, ok)

	codes := map[string]string{}
	for _, f := range verr.Fields {
		codes[f.Field] = f.Code
	}
	assert.Equal(t, map[string]string{
		"name":    apperr.CodeRequired,
		"email":   apperr.CodeUniqueViolation,
		"status":  apperr.CodeEnumInvalid,
		"age":     apperr.CodeTypeMismatch,
		"tags":    apperr.CodeDuplicateItem,
		"company": apperr.CodeRefNotFound,
		"budget":  apperr.CodeTypeMismatch,
		"born":    apperr.CodeTypeMismatch,
	}, codes)
}

func TestValidateConstraints(t *testing.T) {
	s, contacts := contactSchema()
	_, err := New().Validate(context.Background(), &fakeLookup{}, Input{
		Schema:  s,
		OwnerID: contacts.ID,
		Columns: contacts.Columns,
		Data:    map[string]any{"name": "A", "email": "not-an-email"},
	})
	verr, ok := apperr.AsValidation(err)
	require.True(t, ok)
	require.Len(t, verr.Fields, 2)
	for _, f := range verr.Fields {
		assert.Equal(t, apperr.CodeConstraint, f.Code)
	}
}

func TestValidateEmptyValues(t *testing.T) {
	s, contacts := contactSchema()
	out, err := New().Validate(context.Background(), &fakeLookup{}, Input{
		Schema:  s,
		OwnerID: contacts.ID,
		Columns: contacts.Columns,
		Data:    map[string]any{"name": "Bob", "email": "", "tags": []any{}, "age": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, "", out["email"])
	assert.Equal(t, []any{}, out["tags"])
	assert.NotContains(t, out, "age")

	_, err = New().Validate(context.Background(), &fakeLookup{}, Input{
		Schema: s, OwnerID: contacts.ID, Columns: contacts.Columns,
		Data: map[string]any{"name": "   "},
	})
	verr, ok := apperr.AsValidation(err)
	require.True(t, ok)
	assert.True(t, verr.Has("name"))
}

func TestValidateEnumTracksLiveValues(t *testing.T) {
	s, contacts := contactSchema()
	in := Input{Schema: s, OwnerID: contacts.ID, Columns: contacts.Columns,
		Data: map[string]any{"name": "Cy", "status": "Lead"}}

	_, err := New().Validate(context.Background(), &fakeLookup{}, in)
	require.Error(t, err)

	s.Enums[0].Values = append(s.Enums[0].Values, "Lead")
	_, err = New().Validate(context.Background(), &fakeLookup{}, in)
	require.NoError(t, err)
}

func TestCheckExpression(t *testing.T) {
	e := New()
	assert.NoError(t, e.CheckExpression("", model.TypeString))
	assert.NoError(t, e.CheckExpression("min=2,max=64", model.TypeString))
	assert.NoError(t, e.CheckExpression("gte=0,lte=150", model.TypeInteger))
	assert.Error(t, e.CheckExpression("no_such_rule", model.TypeString))
}

func TestCanonicalize(t *testing.T) {
	_, contacts := contactSchema()
	got := Canonicalize(contacts.Columns, map[string]any{
		"age":    float64(40),
		"budget": int32(7),
		"tags":   []string{"x"},
		"extra":  true,
	})
	assert.Equal(t, int64(40), got["age"])
	assert.Equal(t, float64(7), got["budget"])
	assert.Equal(t, []any{"x"}, got["tags"])
	assert.Equal(t, true, got["extra"])
}
