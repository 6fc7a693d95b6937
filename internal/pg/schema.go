package pg

// MetadataDDL returns the statements that create the storage layout, keyed so that the
// sorted order of ApplyDDL creates referenced tables first.
//
// Metadata lives in one row per table, column, enum and link table. Record payloads are
// opaque jsonb; typing and required/unique rules are enforced by the application.
func MetadataDDL() map[string]string {
	return map[string]string{
		"10_tables": `
CREATE TABLE IF NOT EXISTS crm_tables (
	id                       text PRIMARY KEY,
	name                     text NOT NULL,
	display_format           text NOT NULL DEFAULT '',
	display_format_secondary text NOT NULL DEFAULT '',
	created_at               timestamptz NOT NULL,
	updated_at               timestamptz NOT NULL
)`,
		"11_tables_name": `CREATE UNIQUE INDEX IF NOT EXISTS crm_tables_name_uq ON crm_tables (lower(name))`,

		"20_enums": `
CREATE TABLE IF NOT EXISTS crm_enums (
	id         text PRIMARY KEY,
	name       text NOT NULL,
	vals       jsonb NOT NULL DEFAULT '[]',
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
)`,
		"21_enums_name": `CREATE UNIQUE INDEX IF NOT EXISTS crm_enums_name_uq ON crm_enums (lower(name))`,

		"30_link_tables": `
CREATE TABLE IF NOT EXISTS crm_link_tables (
	id            text PRIMARY KEY,
	name          text NOT NULL,
	from_table_id text NOT NULL REFERENCES crm_tables (id) ON DELETE RESTRICT,
	to_table_id   text NOT NULL REFERENCES crm_tables (id) ON DELETE RESTRICT,
	created_at    timestamptz NOT NULL,
	updated_at    timestamptz NOT NULL
)`,
		"31_link_tables_name": `CREATE UNIQUE INDEX IF NOT EXISTS crm_link_tables_name_uq ON crm_link_tables (lower(name))`,

		"40_columns": `
CREATE TABLE IF NOT EXISTS crm_columns (
	id                      text PRIMARY KEY,
	table_id                text REFERENCES crm_tables (id) ON DELETE CASCADE,
	link_table_id           text REFERENCES crm_link_tables (id) ON DELETE CASCADE,
	name                    text NOT NULL,
	data_type               text NOT NULL,
	required                boolean NOT NULL DEFAULT false,
	is_unique               boolean NOT NULL DEFAULT false,
	searchable              boolean NOT NULL DEFAULT false,
	is_list                 boolean NOT NULL DEFAULT false,
	constraints             text NOT NULL DEFAULT '',
	enum_id                 text NOT NULL DEFAULT '',
	reference_link_table_id text NOT NULL DEFAULT '',
	created_at              timestamptz NOT NULL,
	updated_at              timestamptz NOT NULL,
	CHECK ((table_id IS NULL) <> (link_table_id IS NULL))
)`,
		"41_columns_owner": `CREATE INDEX IF NOT EXISTS crm_columns_owner_idx ON crm_columns (coalesce(table_id, link_table_id))`,

		"50_records": `
CREATE TABLE IF NOT EXISTS crm_records (
	id         text PRIMARY KEY,
	table_id   text NOT NULL REFERENCES crm_tables (id) ON DELETE CASCADE,
	version    bigint NOT NULL DEFAULT 1,
	data       jsonb NOT NULL DEFAULT '{}',
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
)`,
		"51_records_table": `CREATE INDEX IF NOT EXISTS crm_records_table_idx ON crm_records (table_id, id)`,

		"60_link_records": `
CREATE TABLE IF NOT EXISTS crm_link_records (
	id             text PRIMARY KEY,
	link_table_id  text NOT NULL REFERENCES crm_link_tables (id) ON DELETE CASCADE,
	from_record_id text NOT NULL,
	to_record_id   text NOT NULL,
	version        bigint NOT NULL DEFAULT 1,
	data           jsonb NOT NULL DEFAULT '{}',
	created_at     timestamptz NOT NULL,
	updated_at     timestamptz NOT NULL
)`,
		"61_link_records_table": `CREATE INDEX IF NOT EXISTS crm_link_records_table_idx ON crm_link_records (link_table_id, id)`,
	}
}
