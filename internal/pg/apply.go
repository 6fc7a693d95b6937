package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ApplyDDL выполняет map[key]sql в порядке ключей. Ожидается idempotent DDL (create ... if not exists).
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string, log *zap.SugaredLogger) error {
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			// duplicate_object (42710) / duplicate_table (42P07): объект уже есть
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == "42710" || pgErr.Code == "42P07") {
				log.Debugw("DDL skipped, already exists", "step", k, "message", strings.TrimSpace(pgErr.Message))
				continue
			}
			return fmt.Errorf("DDL %s failed: %w", k, err)
		}
		log.Debugw("DDL applied", "step", k)
	}
	return nil
}

// Migrate creates the storage layout if it is missing.
func (r *Repository) Migrate(ctx context.Context, log *zap.SugaredLogger) error {
	return ApplyDDL(ctx, r.db, MetadataDDL(), log)
}
