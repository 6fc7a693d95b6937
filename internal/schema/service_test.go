package schema

import (
	"context"
	"sync"
	"testing"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/notify"
	"minicrm/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Action)
	}
	return out
}

func newService(t *testing.T) (*Service, *store.Memory, *recorder) {
	t.Helper()
	repo := store.NewMemory()
	rec := &recorder{}
	svc, err := New(context.Background(), repo, nil, rec, nil)
	require.NoError(t, err)
	return svc, repo, rec
}

func TestCreateTableAndColumns(t *testing.T) {
	ctx := context.Background()
	svc, _, rec := newService(t)

	tbl, err := svc.CreateTable(ctx, "Contacts", "{name}", "")
	require.NoError(t, err)

	_, err = svc.CreateTable(ctx, "contacts", "", "")
	assert.True(t, apperr.IsDuplicate(err))

	_, err = svc.CreateTable(ctx, "  ", "", "")
	_, ok := apperr.AsValidation(err)
	assert.True(t, ok)

	col, err := svc.AddColumn(ctx, tbl.ID, ColumnSpec{Name: "name", DataType: "string", Required: true})
	require.NoError(t, err)
	assert.Equal(t, tbl.ID, col.TableID)

	_, err = svc.AddColumn(ctx, tbl.ID, ColumnSpec{Name: "Name", DataType: "string"})
	assert.True(t, apperr.IsDuplicate(err))

	got, err := svc.Table("CONTACTS")
	require.NoError(t, err)
	require.Len(t, got.Columns, 1)
	assert.Equal(t, "name", got.Columns[0].Name)

	assert.Equal(t, []string{notify.ActionCreateTable, notify.ActionCreateColumn}, rec.actions())
}

func TestAddColumnValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	a, _ := svc.CreateTable(ctx, "A", "", "")
	b, _ := svc.CreateTable(ctx, "B", "", "")
	c, _ := svc.CreateTable(ctx, "C", "", "")
	ab, err := svc.CreateLinkTable(ctx, "AB", a.ID, b.ID)
	require.NoError(t, err)

	cases := map[string]ColumnSpec{
		"data_type":               {Name: "x", DataType: "blob"},
		"enum_id":                 {Name: "x", DataType: "enum"},
		"reference_link_table_id": {Name: "x", DataType: "reference"},
		"constraints":             {Name: "x", DataType: "string", Constraints: "nope_rule"},
		"name":                    {Name: "has space", DataType: "string"},
	}
	for field, spec := range cases {
		_, err := svc.AddColumn(ctx, a.ID, spec)
		verr, ok := apperr.AsValidation(err)
		require.True(t, ok, field)
		assert.True(t, verr.Has(field), field)
	}

	// link table exists but does not include C
	_, err = svc.AddColumn(ctx, c.ID, ColumnSpec{Name: "x", DataType: "reference", ReferenceLinkTableID: ab.ID})
	verr, ok := apperr.AsValidation(err)
	require.True(t, ok)
	assert.True(t, verr.Has("reference_link_table_id"))

	_, err = svc.AddLinkColumn(ctx, ab.ID, ColumnSpec{Name: "x", DataType: "reference", ReferenceLinkTableID: ab.ID})
	verr, ok = apperr.AsValidation(err)
	require.True(t, ok)
	assert.True(t, verr.Has("data_type"))

	_, err = svc.AddColumn(ctx, a.ID, ColumnSpec{Name: "b", DataType: "reference", ReferenceLinkTableID: ab.ID, IsList: true})
	require.NoError(t, err)
	_, err = svc.AddLinkColumn(ctx, ab.ID, ColumnSpec{Name: "role", DataType: "string"})
	require.NoError(t, err)
}

func TestUpdateColumnTypeFrozenWithRecords(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newService(t)
	tbl, _ := svc.CreateTable(ctx, "T", "", "")
	col, err := svc.AddColumn(ctx, tbl.ID, ColumnSpec{Name: "n", DataType: "string"})
	require.NoError(t, err)

	_, err = svc.UpdateColumn(ctx, col.ID, ColumnSpec{Name: "n", DataType: "integer"})
	require.NoError(t, err)

	require.NoError(t, repo.SaveRecord(ctx, &model.Record{ID: model.NewID(), TableID: tbl.ID, Data: map[string]any{"n": int64(1)}}))

	_, err = svc.UpdateColumn(ctx, col.ID, ColumnSpec{Name: "n", DataType: "string"})
	assert.True(t, apperr.IsConflict(err))

	upd, err := svc.UpdateColumn(ctx, col.ID, ColumnSpec{Name: "count", DataType: "integer", Required: true})
	require.NoError(t, err)
	assert.True(t, upd.Required)
	assert.Equal(t, "count", upd.Name)
}

func TestDeleteColumnBlockedByDisplayFormat(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	tbl, _ := svc.CreateTable(ctx, "People", "{first} {last}", "")
	first, _ := svc.AddColumn(ctx, tbl.ID, ColumnSpec{Name: "first", DataType: "string"})
	note, _ := svc.AddColumn(ctx, tbl.ID, ColumnSpec{Name: "note", DataType: "string"})

	assert.True(t, apperr.IsConflict(svc.DeleteColumn(ctx, first.ID)))
	require.NoError(t, svc.DeleteColumn(ctx, note.ID))

	got, _ := svc.Table(tbl.ID)
	assert.Len(t, got.Columns, 1)
}

func TestEnumLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, rec := newService(t)

	_, err := svc.CreateEnum(ctx, "Status", []string{"Active", "Active"})
	assert.True(t, apperr.IsDuplicate(err))

	e, err := svc.CreateEnum(ctx, "Status", []string{"Active", "Inactive"})
	require.NoError(t, err)

	_, err = svc.AddEnumValue(ctx, e.ID, "Active")
	assert.True(t, apperr.IsDuplicate(err))

	e, err = svc.AddEnumValue(ctx, e.ID, "Lead")
	require.NoError(t, err)
	assert.Equal(t, []string{"Active", "Inactive", "Lead"}, e.Values)

	_, err = svc.RemoveEnumValue(ctx, e.ID, "Missing")
	assert.True(t, apperr.IsNotFound(err))
	e, err = svc.RemoveEnumValue(ctx, e.ID, "Inactive")
	require.NoError(t, err)
	assert.Equal(t, []string{"Active", "Lead"}, e.Values)

	tbl, _ := svc.CreateTable(ctx, "Contacts", "", "")
	col, err := svc.AddColumn(ctx, tbl.ID, ColumnSpec{Name: "status", DataType: "enum", EnumID: e.ID})
	require.NoError(t, err)

	assert.True(t, apperr.IsConflict(svc.DeleteEnum(ctx, e.ID)))
	require.NoError(t, svc.DeleteColumn(ctx, col.ID))
	require.NoError(t, svc.DeleteEnum(ctx, e.ID))

	assert.Contains(t, rec.actions(), notify.ActionRemoveEnumValue)
	assert.Contains(t, rec.actions(), notify.ActionDeleteEnum)
}

func TestLinkTableLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newService(t)
	a, _ := svc.CreateTable(ctx, "A", "", "")
	b, _ := svc.CreateTable(ctx, "B", "", "")
	c, _ := svc.CreateTable(ctx, "C", "", "")

	_, err := svc.CreateLinkTable(ctx, "bad", a.ID, "nope")
	_, ok := apperr.AsValidation(err)
	assert.True(t, ok)

	l, err := svc.CreateLinkTable(ctx, "AB", a.ID, b.ID)
	require.NoError(t, err)

	assert.True(t, apperr.IsConflict(svc.DeleteTable(ctx, a.ID)))

	ref, err := svc.AddColumn(ctx, a.ID, ColumnSpec{Name: "bs", DataType: "reference", ReferenceLinkTableID: l.ID})
	require.NoError(t, err)

	// moving the "from" side away from A would orphan the reference column
	_, err = svc.UpdateLinkTable(ctx, l.ID, LinkTablePatch{FromTableID: pointer.ToString(c.ID)})
	assert.True(t, apperr.IsConflict(err))

	_, err = svc.UpdateLinkTable(ctx, l.ID, LinkTablePatch{ToTableID: pointer.ToString(c.ID)})
	require.NoError(t, err)

	require.NoError(t, repo.SaveLinkRecord(ctx, &model.LinkRecord{ID: model.NewID(), LinkTableID: l.ID, FromRecordID: "x", ToRecordID: "y"}))
	_, err = svc.UpdateLinkTable(ctx, l.ID, LinkTablePatch{ToTableID: pointer.ToString(b.ID)})
	assert.True(t, apperr.IsConflict(err))

	renamed, err := svc.UpdateLinkTable(ctx, l.ID, LinkTablePatch{Name: pointer.ToString("Links")})
	require.NoError(t, err)
	assert.Equal(t, "Links", renamed.Name)

	assert.True(t, apperr.IsConflict(svc.DeleteLinkTable(ctx, l.ID)))
	assert.True(t, apperr.IsConflict(svc.DeleteColumn(ctx, ref.ID)))
}

func TestDeleteTableWithRecords(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newService(t)
	tbl, _ := svc.CreateTable(ctx, "T", "", "")
	require.NoError(t, repo.SaveRecord(ctx, &model.Record{ID: model.NewID(), TableID: tbl.ID, Data: map[string]any{}}))
	assert.True(t, apperr.IsConflict(svc.DeleteTable(ctx, tbl.ID)))

	require.NoError(t, repo.DeleteRecord(ctx, tbl.ID, mustOnlyRecord(t, repo, tbl.ID)))
	require.NoError(t, svc.DeleteTable(ctx, tbl.ID))
	_, err := svc.Table(tbl.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func mustOnlyRecord(t *testing.T, repo *store.Memory, tableID string) string {
	t.Helper()
	recs, err := repo.ListRecords(context.Background(), tableID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0].ID
}

func TestSnapshotStableAndReloadable(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newService(t)
	for _, n := range []string{"Zeta", "Alpha", "Mid"} {
		_, err := svc.CreateTable(ctx, n, "", "")
		require.NoError(t, err)
	}
	first := svc.Current()
	assert.Equal(t, first, svc.Current())

	names := []string{}
	for _, tb := range first.Tables {
		names = append(names, tb.Name)
	}
	assert.Equal(t, []string{"Zeta", "Alpha", "Mid"}, names)

	again, err := New(ctx, repo, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first, again.Current())
}

func TestLint(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	_, err := svc.CreateTable(ctx, "T", "{missing}", "")
	require.NoError(t, err)

	issues := svc.Lint()
	require.Len(t, issues, 1)
	assert.Equal(t, "placeholder_unknown", issues[0].Code)
}
