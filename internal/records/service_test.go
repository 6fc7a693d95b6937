package records

import (
	"context"
	"net/url"
	"slices"
	"testing"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/notify"
	"minicrm/internal/schema"
	"minicrm/internal/store"
)

type fixture struct {
	ctx     context.Context
	repo    *store.Memory
	schemas *schema.Service
	svc     *Service
	hub     *notify.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMemory()
	hub := notify.NewHub(256, nil)
	schemas, err := schema.New(ctx, repo, nil, hub, nil)
	require.NoError(t, err)
	return &fixture{ctx: ctx, repo: repo, schemas: schemas, svc: New(repo, schemas, nil, hub, nil), hub: hub}
}

// contacts builds Contact(name required, status enum, email unique searchable, age integer)
func (f *fixture) contacts(t *testing.T) *model.Table {
	t.Helper()
	status, err := f.schemas.CreateEnum(f.ctx, "Status", []string{"active", "inactive"})
	require.NoError(t, err)
	tbl, err := f.schemas.CreateTable(f.ctx, "Contact", "{name}", "{email}")
	require.NoError(t, err)
	for _, spec := range []schema.ColumnSpec{
		{Name: "name", DataType: "string", Required: true, Searchable: true},
		{Name: "status", DataType: "enum", EnumID: status.ID},
		{Name: "email", DataType: "string", Unique: true, Searchable: true},
		{Name: "age", DataType: "integer"},
		{Name: "tags", DataType: "string", IsList: true, Searchable: true},
	} {
		_, err := f.schemas.AddColumn(f.ctx, tbl.ID, spec)
		require.NoError(t, err)
	}
	return tbl
}

func fieldCodes(t *testing.T, err error) map[string]string {
	t.Helper()
	verr, ok := apperr.AsValidation(err)
	require.True(t, ok, "expected validation error, got %v", err)
	out := map[string]string{}
	for _, f := range verr.Fields {
		out[f.Field] = f.Code
	}
	return out
}

func TestContactScenario(t *testing.T) {
	f := newFixture(t)
	f.contacts(t)

	v, err := f.svc.Create(f.ctx, "Contact", map[string]any{"name": "Ada", "status": "active"})
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, int64(1), v.Version)
	assert.Equal(t, "Ada", v.DisplayValue)

	_, err = f.svc.Create(f.ctx, "Contact", map[string]any{"status": "active"})
	assert.Equal(t, map[string]string{"name": apperr.CodeRequired}, fieldCodes(t, err))

	_, err = f.svc.Create(f.ctx, "Contact", map[string]any{"name": "Ada", "status": "unknown"})
	assert.Equal(t, map[string]string{"status": apperr.CodeEnumInvalid}, fieldCodes(t, err))

	n, err := f.svc.Count(f.ctx, "contact", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.contacts(t)
	in := map[string]any{"name": "Grace", "email": "grace@navy.mil", "age": float64(85), "tags": []any{"cobol", "admiral"}}

	created, err := f.svc.Create(f.ctx, "Contact", in)
	require.NoError(t, err)
	got, err := f.svc.Get(f.ctx, "Contact", created.ID, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":  "Grace",
		"email": "grace@navy.mil",
		"age":   int64(85),
		"tags":  []any{"cobol", "admiral"},
	}, got.Data)
	assert.Equal(t, "grace@navy.mil", got.DisplayValueSecondary)
}

func TestUniqueOnCreateAndUpdate(t *testing.T) {
	f := newFixture(t)
	f.contacts(t)
	a, err := f.svc.Create(f.ctx, "Contact", map[string]any{"name": "A", "email": "a@x.io"})
	require.NoError(t, err)
	b, err := f.svc.Create(f.ctx, "Contact", map[string]any{"name": "B", "email": "b@x.io"})
	require.NoError(t, err)

	_, err = f.svc.Create(f.ctx, "Contact", map[string]any{"name": "C", "email": "a@x.io"})
	assert.Equal(t, apperr.CodeUniqueViolation, fieldCodes(t, err)["email"])

	_, err = f.svc.Update(f.ctx, "Contact", b.ID, map[string]any{"name": "B", "email": "a@x.io"}, nil)
	assert.Equal(t, apperr.CodeUniqueViolation, fieldCodes(t, err)["email"])

	// a record does not collide with itself
	_, err = f.svc.Update(f.ctx, "Contact", a.ID, map[string]any{"name": "A2", "email": "a@x.io"}, nil)
	require.NoError(t, err)

	got, err := f.svc.Get(f.ctx, "Contact", b.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "b@x.io", got.Data["email"])
}

func TestUpdatePatchAndVersion(t *testing.T) {
	f := newFixture(t)
	f.contacts(t)
	v, err := f.svc.Create(f.ctx, "Contact", map[string]any{"name": "Ada", "age": 36, "status": "active"})
	require.NoError(t, err)

	_, err = f.svc.Patch(f.ctx, "Contact", v.ID, map[string]any{"age": 37}, pointer.ToInt64(7))
	assert.True(t, apperr.IsConflict(err))

	p, err := f.svc.Patch(f.ctx, "Contact", v.ID, map[string]any{"age": 37}, pointer.ToInt64(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)
	assert.Equal(t, "active", p.Data["status"])
	assert.Equal(t, int64(37), p.Data["age"])

	u, err := f.svc.Update(f.ctx, "Contact", v.ID, map[string]any{"name": "Ada L."}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.Version)
	assert.NotContains(t, u.Data, "status")

	_, err = f.svc.Update(f.ctx, "Contact", "missing", map[string]any{"name": "x"}, nil)
	assert.True(t, apperr.IsNotFound(err))
	_, err = f.svc.Get(f.ctx, "Nope", v.ID, false)
	assert.True(t, apperr.IsNotFound(err))
}

func TestListFiltersSortAndPage(t *testing.T) {
	f := newFixture(t)
	f.contacts(t)
	for _, d := range []map[string]any{
		{"name": "Ada", "age": 36, "status": "active", "tags": []any{"math"}},
		{"name": "Bob", "age": 20, "status": "inactive"},
		{"name": "Cy", "status": "active"},
		{"name": "Dee", "age": 50, "status": "active", "tags": []any{"math", "ops"}},
	} {
		_, err := f.svc.Create(f.ctx, "Contact", d)
		require.NoError(t, err)
	}

	names := func(p *Page) []string {
		var out []string
		for _, v := range p.Items {
			out = append(out, v.Data["name"].(string))
		}
		return out
	}

	p, err := f.svc.List(f.ctx, "Contact", ParseListOptions(url.Values{"status": {"active"}, "sort": {"-age"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Dee", "Ada", "Cy"}, names(p))
	assert.Equal(t, 3, p.Total)

	p, err = f.svc.List(f.ctx, "Contact", ParseListOptions(url.Values{"age__gte": {"30"}, "sort": {"name"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada", "Dee"}, names(p))

	p, err = f.svc.List(f.ctx, "Contact", ParseListOptions(url.Values{"tags__contains": {"ops"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Dee"}, names(p))

	p, err = f.svc.List(f.ctx, "Contact", ParseListOptions(url.Values{"status__in": {"inactive,unknown"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, names(p))

	p, err = f.svc.List(f.ctx, "Contact", ParseListOptions(url.Values{"sort": {"age"}, "nulls": {"first"}, "limit": {"2"}, "offset": {"1"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob", "Ada"}, names(p))
	assert.Equal(t, 4, p.Total)

	p, err = f.svc.List(f.ctx, "Contact", ParseListOptions(url.Values{"q": {"DE"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Dee"}, names(p))

	n, err := f.svc.Count(f.ctx, "Contact", ParseListOptions(url.Values{"status__ne": {"active"}}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSearchRanking(t *testing.T) {
	f := newFixture(t)
	f.contacts(t)
	ids := map[string]string{}
	for _, d := range []map[string]any{
		{"name": "Ada Lovelace", "tags": []any{"math"}},
		{"name": "Ada Ada", "email": "ada@math.org"},
		{"name": "Bob"},
	} {
		v, err := f.svc.Create(f.ctx, "Contact", d)
		require.NoError(t, err)
		ids[d["name"].(string)] = v.ID
	}

	res, err := f.svc.Search(f.ctx, "Contact", "ada math")
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())

	var got []string
	for m := range res.All() {
		got = append(got, m.Data["name"].(string))
	}
	assert.Equal(t, []string{"Ada Ada", "Ada Lovelace"}, got)

	// restartable and deterministic
	var again []string
	for m := range res.All() {
		again = append(again, m.Data["name"].(string))
	}
	assert.Equal(t, got, again)

	// early stop
	count := 0
	for range res.All() {
		count++
		break
	}
	assert.Equal(t, 1, count)

	empty, err := f.svc.Search(f.ctx, "Contact", "   ")
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

// crm builds Person --WorksAt(role)--> Company with a list reference on Person.
func (f *fixture) crm(t *testing.T) (*model.Table, *model.Table, *model.LinkTable) {
	t.Helper()
	person, err := f.schemas.CreateTable(f.ctx, "Person", "{name}", "")
	require.NoError(t, err)
	company, err := f.schemas.CreateTable(f.ctx, "Company", "{name}", "")
	require.NoError(t, err)
	_, err = f.schemas.AddColumn(f.ctx, person.ID, schema.ColumnSpec{Name: "name", DataType: "string", Required: true})
	require.NoError(t, err)
	_, err = f.schemas.AddColumn(f.ctx, company.ID, schema.ColumnSpec{Name: "name", DataType: "string", Required: true})
	require.NoError(t, err)
	link, err := f.schemas.CreateLinkTable(f.ctx, "WorksAt", person.ID, company.ID)
	require.NoError(t, err)
	_, err = f.schemas.AddLinkColumn(f.ctx, link.ID, schema.ColumnSpec{Name: "role", DataType: "string", Required: true})
	require.NoError(t, err)
	_, err = f.schemas.AddColumn(f.ctx, person.ID, schema.ColumnSpec{Name: "employers", DataType: "reference", IsList: true, ReferenceLinkTableID: link.ID})
	require.NoError(t, err)
	return person, company, link
}

func TestReferenceSelectionsSyncLinks(t *testing.T) {
	f := newFixture(t)
	_, _, link := f.crm(t)

	acme, err := f.svc.Create(f.ctx, "Company", map[string]any{"name": "Acme"})
	require.NoError(t, err)
	globex, err := f.svc.Create(f.ctx, "Company", map[string]any{"name": "Globex"})
	require.NoError(t, err)

	// new link without attributes fails: role is required on the link table
	_, err = f.svc.Create(f.ctx, "Person", map[string]any{"name": "Ada", "employers": []any{acme.ID}})
	codes := fieldCodes(t, err)
	assert.Equal(t, apperr.CodeRequired, codes["employers."+acme.ID+".role"])

	ada, err := f.svc.Create(f.ctx, "Person", map[string]any{"name": "Ada", "employers": []any{
		map[string]any{"id": acme.ID, "attributes": map[string]any{"role": "CEO"}},
		map[string]any{"id": globex.ID, "attributes": map[string]any{"role": "Advisor"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []any{acme.ID, globex.ID}, ada.Data["employers"])

	links, err := f.svc.ListLinks(f.ctx, link.Name)
	require.NoError(t, err)
	require.Len(t, links, 2)

	// patching without attributes keeps existing link records; deselecting deletes only that link
	_, err = f.svc.Patch(f.ctx, "Person", ada.ID, map[string]any{"employers": []any{globex.ID}}, nil)
	require.NoError(t, err)
	links, err = f.svc.ListLinks(f.ctx, link.Name)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, globex.ID, links[0].ToRecordID)
	assert.Equal(t, "Advisor", links[0].Data["role"])

	got, err := f.svc.Get(f.ctx, "Person", ada.ID, true)
	require.NoError(t, err)
	require.Len(t, got.Related["employers"], 1)
	assert.Equal(t, "Globex", got.Related["employers"][0].DisplayValue)
	assert.Equal(t, "Advisor", got.Related["employers"][0].Attributes["role"])

	_, err = f.svc.Patch(f.ctx, "Person", ada.ID, map[string]any{"employers": []any{"nope"}}, nil)
	assert.Equal(t, apperr.CodeRefNotFound, fieldCodes(t, err)["employers"])
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture(t)
	_, _, link := f.crm(t)
	acme, _ := f.svc.Create(f.ctx, "Company", map[string]any{"name": "Acme"})
	globex, _ := f.svc.Create(f.ctx, "Company", map[string]any{"name": "Globex"})
	ada, err := f.svc.Create(f.ctx, "Person", map[string]any{"name": "Ada", "employers": []any{
		map[string]any{"id": acme.ID, "attributes": map[string]any{"role": "CEO"}},
		map[string]any{"id": globex.ID, "attributes": map[string]any{"role": "CTO"}},
	}})
	require.NoError(t, err)

	sub := f.hub.Subscribe()
	defer sub.Close()

	require.NoError(t, f.svc.Delete(f.ctx, "Company", acme.ID, nil))

	got, err := f.svc.Get(f.ctx, "Person", ada.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []any{globex.ID}, got.Data["employers"])
	assert.Equal(t, int64(2), got.Version)

	links, err := f.svc.ListLinks(f.ctx, link.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)

	var actions []string
	for len(sub.Events()) > 0 {
		actions = append(actions, (<-sub.Events()).Action)
	}
	assert.Equal(t, []string{notify.ActionDelete, notify.ActionDeleteLinkRecord, notify.ActionUpdate}, actions)

	assert.True(t, apperr.IsNotFound(f.svc.Delete(f.ctx, "Company", acme.ID, nil)))
}

func TestLinkRecordCRUD(t *testing.T) {
	f := newFixture(t)
	_, _, link := f.crm(t)
	acme, _ := f.svc.Create(f.ctx, "Company", map[string]any{"name": "Acme"})
	ada, _ := f.svc.Create(f.ctx, "Person", map[string]any{"name": "Ada"})

	_, err := f.svc.CreateLink(f.ctx, "WorksAt", acme.ID, ada.ID, map[string]any{"role": "CEO"})
	codes := fieldCodes(t, err)
	assert.Equal(t, apperr.CodeRefNotFound, codes["from_record_id"])
	assert.Equal(t, apperr.CodeRefNotFound, codes["to_record_id"])

	lr, err := f.svc.CreateLink(f.ctx, "WorksAt", ada.ID, acme.ID, map[string]any{"role": "CEO"})
	require.NoError(t, err)

	_, err = f.svc.CreateLink(f.ctx, "WorksAt", ada.ID, acme.ID, map[string]any{"role": "CTO"})
	assert.True(t, apperr.IsConflict(err))

	// links created directly show up when the person is expanded
	got, err := f.svc.Get(f.ctx, "Person", ada.ID, true)
	require.NoError(t, err)
	require.Len(t, got.Related["employers"], 1)
	assert.Equal(t, lr.ID, got.Related["employers"][0].LinkRecordID)

	upd, err := f.svc.UpdateLink(f.ctx, link.ID, lr.ID, map[string]any{"role": "Chair"}, pointer.ToInt64(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), upd.Version)

	_, err = f.svc.UpdateLink(f.ctx, link.ID, lr.ID, map[string]any{}, nil)
	assert.Equal(t, apperr.CodeRequired, fieldCodes(t, err)["role"])

	require.NoError(t, f.svc.DeleteLink(f.ctx, link.ID, lr.ID))
	_, err = f.svc.GetLink(f.ctx, link.ID, lr.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestCreateMany(t *testing.T) {
	f := newFixture(t)
	f.contacts(t)
	res, err := f.svc.CreateMany(f.ctx, "Contact", []map[string]any{
		{"name": "A"},
		{"status": "active"},
		{"name": "C"},
	})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.NoError(t, res[0].Err)
	assert.Error(t, res[1].Err)
	assert.NoError(t, res[2].Err)
	assert.True(t, slices.ContainsFunc(res, func(r BulkResult) bool { return r.View != nil && r.View.Data["name"] == "C" }))

	_, err = f.svc.CreateMany(f.ctx, "Missing", nil)
	assert.True(t, apperr.IsNotFound(err))
}

func TestSchemaChangesApplyToNextWrite(t *testing.T) {
	f := newFixture(t)
	tbl := f.contacts(t)
	_, err := f.svc.Create(f.ctx, "Contact", map[string]any{"name": "Ada", "status": "lead"})
	require.Error(t, err)

	e, err := f.schemas.Enum("Status")
	require.NoError(t, err)
	_, err = f.schemas.AddEnumValue(f.ctx, e.ID, "lead")
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx, "Contact", map[string]any{"name": "Ada", "status": "lead"})
	require.NoError(t, err)

	_, err = f.schemas.AddColumn(f.ctx, tbl.ID, schema.ColumnSpec{Name: "phone", DataType: "string", Required: true})
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx, "Contact", map[string]any{"name": "Bob"})
	assert.Equal(t, apperr.CodeRequired, fieldCodes(t, err)["phone"])
}

func TestLinkEditsReachBothSides(t *testing.T) {
	f := newFixture(t)
	_, company, link := f.crm(t)
	_, err := f.schemas.AddColumn(f.ctx, company.ID, schema.ColumnSpec{Name: "staff", DataType: "reference", IsList: true, ReferenceLinkTableID: link.ID})
	require.NoError(t, err)

	ada, err := f.svc.Create(f.ctx, "Person", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	acme, err := f.svc.Create(f.ctx, "Company", map[string]any{"name": "Acme", "staff": []any{
		map[string]any{"id": ada.ID, "attributes": map[string]any{"role": "CEO"}},
	}})
	require.NoError(t, err)

	person, err := f.svc.Get(f.ctx, "Person", ada.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []any{acme.ID}, person.Data["employers"])

	// clearing from the person's side drops the company's selection too
	_, err = f.svc.Patch(f.ctx, "Person", ada.ID, map[string]any{"employers": nil}, nil)
	require.NoError(t, err)
	links, err := f.svc.ListLinks(f.ctx, link.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	co, err := f.svc.Get(f.ctx, "Company", acme.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []any{}, co.Data["staff"])
	assert.Empty(t, co.Related["staff"])

	// a link record created directly is selected on both records, and deleting it clears both
	lr, err := f.svc.CreateLink(f.ctx, link.Name, ada.ID, acme.ID, map[string]any{"role": "CTO"})
	require.NoError(t, err)
	co, err = f.svc.Get(f.ctx, "Company", acme.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []any{ada.ID}, co.Data["staff"])
	person, err = f.svc.Get(f.ctx, "Person", ada.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []any{acme.ID}, person.Data["employers"])

	require.NoError(t, f.svc.DeleteLink(f.ctx, link.ID, lr.ID))
	co, err = f.svc.Get(f.ctx, "Company", acme.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []any{}, co.Data["staff"])
	assert.Empty(t, co.Related["staff"])
}

func TestBadReferenceReportedOnce(t *testing.T) {
	f := newFixture(t)
	person, company, _ := f.crm(t)
	hq, err := f.schemas.CreateLinkTable(f.ctx, "Headquarters", person.ID, company.ID)
	require.NoError(t, err)
	_, err = f.schemas.AddColumn(f.ctx, person.ID, schema.ColumnSpec{Name: "office", DataType: "reference", Required: true, ReferenceLinkTableID: hq.ID})
	require.NoError(t, err)

	_, err = f.svc.Create(f.ctx, "Person", map[string]any{"name": "Ada", "office": 42})
	verr, ok := apperr.AsValidation(err)
	require.True(t, ok, "expected validation error, got %v", err)
	var office []apperr.FieldError
	for _, fe := range verr.Fields {
		if fe.Field == "office" {
			office = append(office, fe)
		}
	}
	require.Len(t, office, 1)
	assert.Equal(t, apperr.CodeTypeMismatch, office[0].Code)
}
