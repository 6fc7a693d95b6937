package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/store"
)

// Repository implements store.Repository on top of the crm_* tables.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ store.Repository = (*Repository)(nil)

func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repository) Close() error { return r.db.Close() }

// mapErr turns constraint violations into the service error taxonomy.
func mapErr(kind, key string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return apperr.Duplicate(kind, key)
		case "23503": // foreign_key_violation
			return apperr.Conflict(kind, key, "still referenced: "+pgErr.ConstraintName)
		}
	}
	return err
}

func (r *Repository) LoadSchema(ctx context.Context) (*model.Schema, error) {
	s := &model.Schema{Tables: []*model.Table{}, Enums: []*model.Enum{}, LinkTables: []*model.LinkTable{}}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, display_format, display_format_secondary, created_at, updated_at FROM crm_tables ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	for rows.Next() {
		t := &model.Table{Columns: []*model.Column{}}
		if err := rows.Scan(&t.ID, &t.Name, &t.DisplayFormat, &t.DisplayFormatSecondary, &t.CreatedAt, &t.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
		s.Tables = append(s.Tables, t)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `SELECT id, name, vals, created_at, updated_at FROM crm_enums ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load enums: %w", err)
	}
	for rows.Next() {
		e := &model.Enum{}
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Name, &raw, &e.CreatedAt, &e.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan enum: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Values); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode enum %s values: %w", e.ID, err)
		}
		if e.Values == nil {
			e.Values = []string{}
		}
		e.CreatedAt, e.UpdatedAt = e.CreatedAt.UTC(), e.UpdatedAt.UTC()
		s.Enums = append(s.Enums, e)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx,
		`SELECT id, name, from_table_id, to_table_id, created_at, updated_at FROM crm_link_tables ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load link tables: %w", err)
	}
	for rows.Next() {
		l := &model.LinkTable{Columns: []*model.Column{}}
		if err := rows.Scan(&l.ID, &l.Name, &l.FromTableID, &l.ToTableID, &l.CreatedAt, &l.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan link table: %w", err)
		}
		l.CreatedAt, l.UpdatedAt = l.CreatedAt.UTC(), l.UpdatedAt.UTC()
		s.LinkTables = append(s.LinkTables, l)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `
SELECT id, coalesce(table_id, ''), coalesce(link_table_id, ''), name, data_type, required, is_unique, searchable,
       is_list, constraints, enum_id, reference_link_table_id, created_at, updated_at
FROM crm_columns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}
	for rows.Next() {
		c := &model.Column{}
		var dt string
		if err := rows.Scan(&c.ID, &c.TableID, &c.LinkTableID, &c.Name, &dt, &c.Required, &c.Unique, &c.Searchable,
			&c.IsList, &c.Constraints, &c.EnumID, &c.ReferenceLinkTableID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.DataType = model.DataType(dt)
		c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
		if t, ok := s.TableByID(c.TableID); ok && c.TableID != "" {
			t.Columns = append(t.Columns, c)
		} else if l, ok := s.LinkTableByID(c.LinkTableID); ok {
			l.Columns = append(l.Columns, c)
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	s.Sort()
	return s, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate rows: %w", err)
	}
	return rows.Close()
}

func (r *Repository) SaveTable(ctx context.Context, t *model.Table) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO crm_tables (id, name, display_format, display_format_secondary, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	display_format = EXCLUDED.display_format,
	display_format_secondary = EXCLUDED.display_format_secondary,
	updated_at = EXCLUDED.updated_at`,
		t.ID, t.Name, t.DisplayFormat, t.DisplayFormatSecondary, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return mapErr("table", t.Name, err)
	}
	return nil
}

func (r *Repository) DeleteTable(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "table", `DELETE FROM crm_tables WHERE id = $1`, id)
}

func (r *Repository) SaveColumn(ctx context.Context, c *model.Column) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO crm_columns (id, table_id, link_table_id, name, data_type, required, is_unique, searchable, is_list,
	constraints, enum_id, reference_link_table_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	data_type = EXCLUDED.data_type,
	required = EXCLUDED.required,
	is_unique = EXCLUDED.is_unique,
	searchable = EXCLUDED.searchable,
	is_list = EXCLUDED.is_list,
	constraints = EXCLUDED.constraints,
	enum_id = EXCLUDED.enum_id,
	reference_link_table_id = EXCLUDED.reference_link_table_id,
	updated_at = EXCLUDED.updated_at`,
		c.ID, nullable(c.TableID), nullable(c.LinkTableID), c.Name, string(c.DataType), c.Required, c.Unique,
		c.Searchable, c.IsList, c.Constraints, c.EnumID, c.ReferenceLinkTableID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return mapErr("column", c.Name, err)
	}
	return nil
}

func (r *Repository) DeleteColumn(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "column", `DELETE FROM crm_columns WHERE id = $1`, id)
}

func (r *Repository) SaveEnum(ctx context.Context, e *model.Enum) error {
	vals, err := json.Marshal(e.Values)
	if err != nil {
		return fmt.Errorf("encode enum values: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO crm_enums (id, name, vals, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, vals = EXCLUDED.vals, updated_at = EXCLUDED.updated_at`,
		e.ID, e.Name, string(vals), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return mapErr("enum", e.Name, err)
	}
	return nil
}

func (r *Repository) DeleteEnum(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "enum", `DELETE FROM crm_enums WHERE id = $1`, id)
}

func (r *Repository) SaveLinkTable(ctx context.Context, l *model.LinkTable) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO crm_link_tables (id, name, from_table_id, to_table_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	from_table_id = EXCLUDED.from_table_id,
	to_table_id = EXCLUDED.to_table_id,
	updated_at = EXCLUDED.updated_at`,
		l.ID, l.Name, l.FromTableID, l.ToTableID, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return mapErr("link table", l.Name, err)
	}
	return nil
}

func (r *Repository) DeleteLinkTable(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "link table", `DELETE FROM crm_link_tables WHERE id = $1`, id)
}

func (r *Repository) SaveRecord(ctx context.Context, rec *model.Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO crm_records (id, table_id, version, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.TableID, rec.Version, string(data), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return mapErr("record", rec.ID, err)
	}
	return nil
}

const recordCols = `id, table_id, version, data, created_at, updated_at`

func scanRecord(sc interface{ Scan(...any) error }) (*model.Record, error) {
	rec := &model.Record{}
	var raw []byte
	if err := sc.Scan(&rec.ID, &rec.TableID, &rec.Version, &raw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeData(raw, &rec.Data); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", rec.ID, err)
	}
	rec.CreatedAt, rec.UpdatedAt = rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()
	return rec, nil
}

func decodeData(raw []byte, out *map[string]any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	if *out == nil {
		*out = map[string]any{}
	}
	return nil
}

func (r *Repository) GetRecord(ctx context.Context, tableID, id string) (*model.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordCols+` FROM crm_records WHERE table_id = $1 AND id = $2`, tableID, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (r *Repository) DeleteRecord(ctx context.Context, tableID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM crm_records WHERE table_id = $1 AND id = $2`, tableID, id)
	return affected("record", id, res, err)
}

func (r *Repository) ListRecords(ctx context.Context, tableID string) ([]*model.Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordCols+` FROM crm_records WHERE table_id = $1 ORDER BY id`, tableID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out := []*model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, closeRows(rows)
}

func (r *Repository) CountRecords(ctx context.Context, tableID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM crm_records WHERE table_id = $1`, tableID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (r *Repository) SaveLinkRecord(ctx context.Context, lr *model.LinkRecord) error {
	data, err := json.Marshal(lr.Data)
	if err != nil {
		return fmt.Errorf("encode link record: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO crm_link_records (id, link_table_id, from_record_id, to_record_id, version, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		lr.ID, lr.LinkTableID, lr.FromRecordID, lr.ToRecordID, lr.Version, string(data), lr.CreatedAt, lr.UpdatedAt)
	if err != nil {
		return mapErr("link record", lr.ID, err)
	}
	return nil
}

const linkRecordCols = `id, link_table_id, from_record_id, to_record_id, version, data, created_at, updated_at`

func scanLinkRecord(sc interface{ Scan(...any) error }) (*model.LinkRecord, error) {
	lr := &model.LinkRecord{}
	var raw []byte
	if err := sc.Scan(&lr.ID, &lr.LinkTableID, &lr.FromRecordID, &lr.ToRecordID, &lr.Version, &raw, &lr.CreatedAt, &lr.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeData(raw, &lr.Data); err != nil {
		return nil, fmt.Errorf("decode link record %s: %w", lr.ID, err)
	}
	lr.CreatedAt, lr.UpdatedAt = lr.CreatedAt.UTC(), lr.UpdatedAt.UTC()
	return lr, nil
}

func (r *Repository) GetLinkRecord(ctx context.Context, linkTableID, id string) (*model.LinkRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+linkRecordCols+` FROM crm_link_records WHERE link_table_id = $1 AND id = $2`, linkTableID, id)
	lr, err := scanLinkRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get link record: %w", err)
	}
	return lr, nil
}

func (r *Repository) DeleteLinkRecord(ctx context.Context, linkTableID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM crm_link_records WHERE link_table_id = $1 AND id = $2`, linkTableID, id)
	return affected("link record", id, res, err)
}

func (r *Repository) ListLinkRecords(ctx context.Context, linkTableID string) ([]*model.LinkRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+linkRecordCols+` FROM crm_link_records WHERE link_table_id = $1 ORDER BY id`, linkTableID)
	if err != nil {
		return nil, fmt.Errorf("list link records: %w", err)
	}
	out := []*model.LinkRecord{}
	for rows.Next() {
		lr, err := scanLinkRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan link record: %w", err)
		}
		out = append(out, lr)
	}
	return out, closeRows(rows)
}

func (r *Repository) CountLinkRecords(ctx context.Context, linkTableID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM crm_link_records WHERE link_table_id = $1`, linkTableID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count link records: %w", err)
	}
	return n, nil
}

func (r *Repository) deleteByID(ctx context.Context, kind, query, id string) error {
	res, err := r.db.ExecContext(ctx, query, id)
	return affected(kind, id, res, err)
}

func affected(kind, id string, res sql.Result, err error) error {
	if err != nil {
		return mapErr(kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
