package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minicrm/internal/model"
	"minicrm/internal/schema"
	"minicrm/internal/store"
)

const seed = `
enums:
  - name: Status
    items:
      - {code: customer, order: 2}
      - {code: lead, order: 1}
enums_dir: enums
schema: |
  table Contact:
    display: "{name}"
    name: string required searchable check='min=2'
    status: enum[Status]
    employer: ref[WorksAt]
  table Company:
    name: string required unique
    size: picklist[Size]
  link WorksAt: Contact -> Company
    role: string
`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "enums"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "enums", "size.yaml"),
		[]byte("name: Size\nitems:\n  - code: small\n  - code: large\n"), 0o644))
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newSchema(t *testing.T) *schema.Service {
	t.Helper()
	svc, err := schema.New(context.Background(), store.NewMemory(), nil, nil, nil)
	require.NoError(t, err)
	return svc
}

func TestLoadAndApply(t *testing.T) {
	ctx := context.Background()
	plan, err := Load(writeSeed(t, seed))
	require.NoError(t, err)
	require.Len(t, plan.Enums, 2)
	assert.Equal(t, []string{"lead", "customer"}, plan.Enums[0].Values)

	svc := newSchema(t)
	sum, err := Apply(ctx, svc, plan, nil)
	require.NoError(t, err)
	assert.Equal(t, Summary{Enums: 2, Tables: 2, LinkTables: 1, Columns: 6}, sum)

	contact, err := svc.Table("Contact")
	require.NoError(t, err)
	assert.Equal(t, "{name}", contact.DisplayFormat)

	name, ok := contact.Column("name")
	require.True(t, ok)
	assert.True(t, name.Required)
	assert.True(t, name.Searchable)
	assert.Equal(t, "min=2", name.Constraints)

	emp, ok := contact.Column("employer")
	require.True(t, ok)
	assert.Equal(t, model.TypeReference, emp.DataType)
	link, err := svc.LinkTable("WorksAt")
	require.NoError(t, err)
	assert.Equal(t, link.ID, emp.ReferenceLinkTableID)
	require.Len(t, link.Columns, 1)

	company, err := svc.Table("Company")
	require.NoError(t, err)
	size, ok := company.Column("size")
	require.True(t, ok)
	enum, err := svc.Enum("Size")
	require.NoError(t, err)
	assert.Equal(t, enum.ID, size.EnumID)

	assert.Empty(t, svc.Lint())

	// второй запуск на непустом хранилище ничего не делает
	again, err := Apply(ctx, svc, plan, nil)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
}

func TestApplyReportsUnknownNames(t *testing.T) {
	ctx := context.Background()

	plan, err := Load(writeSeed(t, "schema: |\n  table Deal:\n    stage: enum[Stage]\n"))
	require.NoError(t, err)
	_, err = Apply(ctx, newSchema(t), plan, nil)
	assert.ErrorContains(t, err, "unknown enum Stage")

	plan, err = Load(writeSeed(t, "schema: |\n  table Deal:\n    name: string\n  link L: Deal -> Person\n"))
	require.NoError(t, err)
	_, err = Apply(ctx, newSchema(t), plan, nil)
	assert.ErrorContains(t, err, "unknown table Person")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = Load(writeSeed(t, "schema: |\n  nonsense\n"))
	assert.ErrorContains(t, err, "schema:")
}
