// Package store defines the persistence contract shared by the memory, Postgres and Badger backends.
package store

import (
	"context"
	"errors"

	"minicrm/internal/model"
)

// ErrNotFound is returned by Get/Delete calls for unknown ids.
var ErrNotFound = errors.New("store: not found")

// SchemaRepository persists metadata rows. Save* calls are upserts keyed by id.
type SchemaRepository interface {
	LoadSchema(ctx context.Context) (*model.Schema, error)
	SaveTable(ctx context.Context, t *model.Table) error
	// DeleteTable removes the table and the columns it owns.
	DeleteTable(ctx context.Context, id string) error
	SaveColumn(ctx context.Context, c *model.Column) error
	DeleteColumn(ctx context.Context, id string) error
	SaveEnum(ctx context.Context, e *model.Enum) error
	DeleteEnum(ctx context.Context, id string) error
	SaveLinkTable(ctx context.Context, l *model.LinkTable) error
	// DeleteLinkTable removes the link table and its attribute columns.
	DeleteLinkTable(ctx context.Context, id string) error
}

// RecordRepository persists record payloads. List calls return rows in id order.
type RecordRepository interface {
	SaveRecord(ctx context.Context, r *model.Record) error
	GetRecord(ctx context.Context, tableID, id string) (*model.Record, error)
	DeleteRecord(ctx context.Context, tableID, id string) error
	ListRecords(ctx context.Context, tableID string) ([]*model.Record, error)
	CountRecords(ctx context.Context, tableID string) (int, error)

	SaveLinkRecord(ctx context.Context, r *model.LinkRecord) error
	GetLinkRecord(ctx context.Context, linkTableID, id string) (*model.LinkRecord, error)
	DeleteLinkRecord(ctx context.Context, linkTableID, id string) error
	ListLinkRecords(ctx context.Context, linkTableID string) ([]*model.LinkRecord, error)
	CountLinkRecords(ctx context.Context, linkTableID string) (int, error)
}

type Repository interface {
	SchemaRepository
	RecordRepository
	Ping(ctx context.Context) error
	Close() error
}
