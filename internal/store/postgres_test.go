package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("whales"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	runLedgerSuite(t, func(t *testing.T, clock *testClock) *Ledger {
		t.Helper()
		l, err := Open(ctx, DriverPostgres, dsn, WithClock(clock.Now))
		require.NoError(t, err)
		_, err = l.db.ExecContext(ctx, `TRUNCATE trades, wallets RESTART IDENTITY`)
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPlaceholderRewrite(t *testing.T) {
	pg := &Ledger{driver: DriverPostgres}
	require.Equal(t, "a = $1 AND b = $2", pg.q("a = ? AND b = ?"))

	lite := &Ledger{driver: DriverSQLite}
	require.Equal(t, "a = ? AND b = ?", lite.q("a = ? AND b = ?"))
}
