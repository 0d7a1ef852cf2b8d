package db

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNewMigrator_ReleasesConnOnSourceError(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("migrate_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	gdb, err := Open(dsn)
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	// 1接続しかないので、返却漏れがあれば次の問い合わせが止まる
	sqlDB.SetMaxOpenConns(1)

	for i := 0; i < 3; i++ {
		_, err = newMigratorFrom(ctx, gdb, fstest.MapFS{}, "missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "could not open migrations")
		assert.Equal(t, 0, sqlDB.Stats().InUse)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, sqlDB.PingContext(queryCtx))

	// 正しいソースならそのまま使える
	m, err := newMigrator(ctx, gdb)
	require.NoError(t, err)
	srcErr, dbErr := m.Close()
	assert.NoError(t, srcErr)
	assert.NoError(t, dbErr)
	assert.Equal(t, 0, sqlDB.Stats().InUse)
}
