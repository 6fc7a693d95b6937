// Package storetest holds the behaviour every store.Repository backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minicrm/internal/model"
	"minicrm/internal/store"
)

// Run exercises repo against the contract. repo must start empty.
func Run(t *testing.T, repo store.Repository) {
	t.Helper()
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

	require.NoError(t, repo.Ping(ctx))

	empty, err := repo.LoadSchema(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Tables)
	assert.Empty(t, empty.Enums)
	assert.Empty(t, empty.LinkTables)

	contact := &model.Table{ID: "t_contact", Name: "Contact", DisplayFormat: "{name}", CreatedAt: ts, UpdatedAt: ts}
	company := &model.Table{ID: "t_company", Name: "Company", CreatedAt: ts, UpdatedAt: ts}
	status := &model.Enum{ID: "e_status", Name: "Status", Values: []string{"lead", "customer"}, CreatedAt: ts, UpdatedAt: ts}
	works := &model.LinkTable{ID: "l_works", Name: "WorksAt", FromTableID: contact.ID, ToTableID: company.ID, CreatedAt: ts, UpdatedAt: ts}

	require.NoError(t, repo.SaveTable(ctx, contact))
	require.NoError(t, repo.SaveTable(ctx, company))
	require.NoError(t, repo.SaveEnum(ctx, status))
	require.NoError(t, repo.SaveLinkTable(ctx, works))

	cols := []*model.Column{
		{ID: "c_name", TableID: contact.ID, Name: "name", DataType: model.TypeString, Required: true, Searchable: true, Constraints: "min=2", CreatedAt: ts, UpdatedAt: ts},
		{ID: "c_status", TableID: contact.ID, Name: "status", DataType: model.TypeEnum, EnumID: status.ID, CreatedAt: ts, UpdatedAt: ts},
		{ID: "c_employer", TableID: contact.ID, Name: "employer", DataType: model.TypeReference, ReferenceLinkTableID: works.ID, CreatedAt: ts, UpdatedAt: ts},
		{ID: "c_role", LinkTableID: works.ID, Name: "role", DataType: model.TypeString, Unique: true, IsList: true, CreatedAt: ts, UpdatedAt: ts},
	}
	for _, c := range cols {
		require.NoError(t, repo.SaveColumn(ctx, c))
	}

	t.Run("schema round trip", func(t *testing.T) {
		s, err := repo.LoadSchema(ctx)
		require.NoError(t, err)
		require.Len(t, s.Tables, 2)
		require.Len(t, s.Enums, 1)
		require.Len(t, s.LinkTables, 1)

		ct, ok := s.TableByID(contact.ID)
		require.True(t, ok)
		assert.Equal(t, "Contact", ct.Name)
		assert.Equal(t, "{name}", ct.DisplayFormat)
		assert.True(t, ts.Equal(ct.CreatedAt))
		require.Len(t, ct.Columns, 3)

		name, ok := ct.Column("name")
		require.True(t, ok)
		assert.True(t, name.Required)
		assert.True(t, name.Searchable)
		assert.Equal(t, "min=2", name.Constraints)

		emp, ok := ct.Column("employer")
		require.True(t, ok)
		assert.Equal(t, works.ID, emp.ReferenceLinkTableID)

		cp, ok := s.TableByID(company.ID)
		require.True(t, ok)
		assert.NotNil(t, cp.Columns)
		assert.Empty(t, cp.Columns)

		e, ok := s.EnumByID(status.ID)
		require.True(t, ok)
		assert.Equal(t, []string{"lead", "customer"}, e.Values)

		l, ok := s.LinkTableByID(works.ID)
		require.True(t, ok)
		require.Len(t, l.Columns, 1)
		assert.True(t, l.Columns[0].Unique)
		assert.True(t, l.Columns[0].IsList)
	})

	t.Run("schema upserts", func(t *testing.T) {
		renamed := *contact
		renamed.Name = "Person"
		renamed.UpdatedAt = ts.Add(time.Minute)
		require.NoError(t, repo.SaveTable(ctx, &renamed))

		grown := status.Clone()
		grown.Values = append(grown.Values, "churned")
		require.NoError(t, repo.SaveEnum(ctx, grown))

		s, err := repo.LoadSchema(ctx)
		require.NoError(t, err)
		ct, _ := s.TableByID(contact.ID)
		assert.Equal(t, "Person", ct.Name)
		assert.True(t, ts.Equal(ct.CreatedAt))
		e, _ := s.EnumByID(status.ID)
		assert.Equal(t, []string{"lead", "customer", "churned"}, e.Values)

		require.NoError(t, repo.SaveTable(ctx, contact))
	})

	t.Run("records", func(t *testing.T) {
		a := &model.Record{ID: "r_b", TableID: contact.ID, Version: 1, CreatedAt: ts, UpdatedAt: ts,
			Data: map[string]any{"name": "Ann", "score": 4.5, "vip": true, "tags": []any{"x", "y"}}}
		b := &model.Record{ID: "r_a", TableID: contact.ID, Version: 1, CreatedAt: ts, UpdatedAt: ts,
			Data: map[string]any{"name": "Bob"}}
		require.NoError(t, repo.SaveRecord(ctx, a))
		require.NoError(t, repo.SaveRecord(ctx, b))

		got, err := repo.GetRecord(ctx, contact.ID, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.Data, got.Data)
		assert.Equal(t, int64(1), got.Version)

		a.Version = 2
		a.Data["name"] = "Anna"
		a.UpdatedAt = ts.Add(time.Hour)
		require.NoError(t, repo.SaveRecord(ctx, a))
		got, err = repo.GetRecord(ctx, contact.ID, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "Anna", got.Data["name"])
		assert.Equal(t, int64(2), got.Version)
		assert.True(t, a.UpdatedAt.Equal(got.UpdatedAt))

		// returned rows are copies
		got.Data["name"] = "mutated"
		again, err := repo.GetRecord(ctx, contact.ID, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "Anna", again.Data["name"])

		list, err := repo.ListRecords(ctx, contact.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "r_a", list[0].ID)
		assert.Equal(t, "r_b", list[1].ID)

		n, err := repo.CountRecords(ctx, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = repo.GetRecord(ctx, company.ID, a.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, repo.DeleteRecord(ctx, contact.ID, b.ID))
		assert.ErrorIs(t, repo.DeleteRecord(ctx, contact.ID, b.ID), store.ErrNotFound)
		n, err = repo.CountRecords(ctx, contact.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("link records", func(t *testing.T) {
		acme := &model.Record{ID: "r_acme", TableID: company.ID, Version: 1, CreatedAt: ts, UpdatedAt: ts, Data: map[string]any{}}
		require.NoError(t, repo.SaveRecord(ctx, acme))

		lr := &model.LinkRecord{ID: "lr_1", LinkTableID: works.ID, FromRecordID: "r_b", ToRecordID: acme.ID,
			Version: 1, CreatedAt: ts, UpdatedAt: ts, Data: map[string]any{"role": []any{"cto"}}}
		require.NoError(t, repo.SaveLinkRecord(ctx, lr))

		got, err := repo.GetLinkRecord(ctx, works.ID, lr.ID)
		require.NoError(t, err)
		assert.Equal(t, "r_b", got.FromRecordID)
		assert.Equal(t, acme.ID, got.ToRecordID)
		assert.Equal(t, lr.Data, got.Data)

		list, err := repo.ListLinkRecords(ctx, works.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)

		n, err := repo.CountLinkRecords(ctx, works.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, repo.DeleteLinkRecord(ctx, works.ID, lr.ID))
		_, err = repo.GetLinkRecord(ctx, works.ID, lr.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, repo.DeleteLinkRecord(ctx, works.ID, lr.ID), store.ErrNotFound)
	})

	t.Run("deletes cascade to owned rows", func(t *testing.T) {
		require.NoError(t, repo.SaveLinkRecord(ctx, &model.LinkRecord{ID: "lr_2", LinkTableID: works.ID,
			FromRecordID: "r_b", ToRecordID: "r_acme", Version: 1, CreatedAt: ts, UpdatedAt: ts, Data: map[string]any{}}))

		require.NoError(t, repo.DeleteColumn(ctx, "c_employer"))
		assert.ErrorIs(t, repo.DeleteColumn(ctx, "c_employer"), store.ErrNotFound)

		require.NoError(t, repo.DeleteLinkTable(ctx, works.ID))
		n, err := repo.CountLinkRecords(ctx, works.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		require.NoError(t, repo.DeleteTable(ctx, contact.ID))
		n, err = repo.CountRecords(ctx, contact.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
		require.NoError(t, repo.DeleteEnum(ctx, status.ID))
		assert.ErrorIs(t, repo.DeleteEnum(ctx, status.ID), store.ErrNotFound)

		s, err := repo.LoadSchema(ctx)
		require.NoError(t, err)
		require.Len(t, s.Tables, 1)
		assert.Equal(t, company.ID, s.Tables[0].ID)
		assert.Empty(t, s.LinkTables)
		assert.Empty(t, s.Enums)
		_, ok := s.ColumnByID("c_name")
		assert.False(t, ok)
	})
}
