package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minicrm/internal/model"
	"minicrm/internal/store/storetest"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, openMemory(t))
}

func TestReopenKeepsRows(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ts := time.Date(2025, 1, 2, 3, 4, 5, 6789, time.UTC)

	s, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveTable(ctx, &model.Table{ID: "t1", Name: "Deal", CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, s.SaveRecord(ctx, &model.Record{ID: "r1", TableID: "t1", Version: 3, CreatedAt: ts, UpdatedAt: ts,
		Data: map[string]any{"amount": int64(1200), "stage": "won", "nested": map[string]any{"k": []any{"a"}}}}))
	require.NoError(t, s.Close())

	s, err = Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	sc, err := s.LoadSchema(ctx)
	require.NoError(t, err)
	require.Len(t, sc.Tables, 1)

	rec, err := s.GetRecord(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Version)
	assert.Equal(t, ts, rec.CreatedAt)
	assert.Equal(t, int64(1200), rec.Data["amount"])
	assert.Equal(t, map[string]any{"k": []any{"a"}}, rec.Data["nested"])
}

func TestPingAfterClose(t *testing.T) {
	s, err := Open("", nil)
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
