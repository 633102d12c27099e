//go:build integration

package pg

import (
	"context"
	"database/sql"
	"testing"

	"lambra/internal/store"
	"lambra/internal/store/storetest"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("lambra"),
		postgres.WithUsername("lambra"),
		postgres.WithPassword("lambra"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := Open(ctx, dsn, Pool{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db))
	// повторный запуск не падает
	require.NoError(t, Migrate(ctx, db))
	return db
}

func TestPostgresContract(t *testing.T) {
	db := startPostgres(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		_, err := db.Exec(`truncate projects cascade`)
		require.NoError(t, err)
		return NewStore(db)
	})
}
