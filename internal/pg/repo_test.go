package pg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"minicrm/internal/apperr"
	"minicrm/internal/model"
	"minicrm/internal/store/storetest"
)

func startPostgres(t *testing.T) *Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("minicrm"),
		postgres.WithUsername("minicrm"),
		postgres.WithPassword("minicrm"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, url)
	require.NoError(t, err)
	repo := NewRepository(db)
	t.Cleanup(func() { _ = repo.Close() })

	log := zap.NewNop().Sugar()
	require.NoError(t, repo.Migrate(ctx, log))
	// второй прогон ничего не ломает
	require.NoError(t, repo.Migrate(ctx, log))
	return repo
}

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, startPostgres(t))
}

func TestConstraintErrors(t *testing.T) {
	repo := startPostgres(t)
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, repo.SaveTable(ctx, &model.Table{ID: "t1", Name: "Deal", CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, repo.SaveTable(ctx, &model.Table{ID: "t2", Name: "Contact", CreatedAt: ts, UpdatedAt: ts}))

	err := repo.SaveTable(ctx, &model.Table{ID: "t3", Name: "deal", CreatedAt: ts, UpdatedAt: ts})
	var dup *apperr.DuplicateNameError
	assert.ErrorAs(t, err, &dup)

	require.NoError(t, repo.SaveLinkTable(ctx, &model.LinkTable{ID: "l1", Name: "DealContact", FromTableID: "t1", ToTableID: "t2", CreatedAt: ts, UpdatedAt: ts}))
	err = repo.DeleteTable(ctx, "t2")
	var conflict *apperr.ConflictError
	assert.ErrorAs(t, err, &conflict)
}
