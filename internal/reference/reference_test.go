package reference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValuesOrder(t *testing.T) {
	d := EnumDirectory{Items: []EnumItem{
		{Code: "won", Order: 3},
		{Code: "new", Order: 1},
		{Code: " "},
		{Code: "lost", Order: 3},
		{Code: "qualified", Order: 2},
	}}
	assert.Equal(t, []string{"new", "qualified", "won", "lost"}, d.Values())
}

func TestLoadEnumCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stage.yaml"), []byte("items:\n  - code: new\n  - code: won\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("name: Priority\nitems:\n  - {code: high, name: High}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("skip"), 0o644))

	cat, err := LoadEnumCatalog(dir)
	require.NoError(t, err)
	require.Len(t, cat, 2)
	assert.Equal(t, "Priority", cat[0].Name)
	assert.Equal(t, "stage", cat[1].Name)
	assert.Equal(t, []string{"new", "won"}, cat[1].Values())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("name: STAGE\n"), 0o644))
	_, err = LoadEnumCatalog(dir)
	assert.ErrorContains(t, err, "declared in")
}
