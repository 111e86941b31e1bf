package postgres_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/jobstream/internal/migrations"
	"github.com/phrazzld/jobstream/internal/platform/postgres"
	"github.com/phrazzld/jobstream/internal/store"
	"github.com/phrazzld/jobstream/internal/store/storetest"
)

// openTestDB connects to DATABASE_URL and applies migrations, skipping the
// test when no database is configured.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping PostgreSQL integration test")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(context.Background()))
	require.NoError(t, migrations.Run(context.Background(), db, "up", slog.New(slog.DiscardHandler)))
	return db
}

func TestPostgresJobStoreConformance(t *testing.T) {
	db := openTestDB(t)

	storetest.Run(t, func(t *testing.T) store.JobStore {
		_, err := db.ExecContext(context.Background(), "TRUNCATE jobs")
		require.NoError(t, err)
		return postgres.NewPostgresJobStore(db)
	})
}

func TestPostgresJobStore_OutcomeConstraint(t *testing.T) {
	db := openTestDB(t)
	_, err := db.ExecContext(context.Background(), "TRUNCATE jobs")
	require.NoError(t, err)

	_, err = db.ExecContext(context.Background(), `
		INSERT INTO jobs (id, job_type, status, result, error_message)
		VALUES ('bad', 'document_synthesis', 'completed', '{}', 'both set')`)

	require.Error(t, err)
	require.True(t, postgres.IsCheckConstraintViolation(err))
	require.ErrorIs(t, postgres.MapError(err), store.ErrInvalidEntity)
}
