package postgres_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/jobstream/internal/platform/postgres"
	"github.com/phrazzld/jobstream/internal/store"
)

func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		TableName:      "jobs",
		ColumnName:     "status",
		ConstraintName: "jobs_status_check",
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", sql.ErrNoRows), store.ErrNotFound},
		{"unique violation", newPgError("23505"), store.ErrDuplicate},
		{"check violation", newPgError("23514"), store.ErrInvalidEntity},
		{"not null violation", newPgError("23502"), store.ErrInvalidEntity},
		{"malformed json", newPgError("22P02"), store.ErrInvalidEntity},
		{"serialization failure", newPgError("40001"), store.ErrTransactionFailed},
		{"deadlock", newPgError("40P01"), store.ErrTransactionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mapped := postgres.MapError(tt.err)
			assert.ErrorIs(t, mapped, tt.expected)
			assert.ErrorIs(t, mapped, tt.err, "original error must stay in the chain")
		})
	}
}

func TestMapError_Passthrough(t *testing.T) {
	t.Parallel()

	assert.NoError(t, postgres.MapError(nil))

	generic := errors.New("connection reset")
	assert.Same(t, generic, postgres.MapError(generic))

	unmapped := newPgError("42P01")
	assert.Equal(t, error(unmapped), postgres.MapError(unmapped))
}

func TestViolationHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, postgres.IsUniqueViolation(newPgError("23505")))
	assert.False(t, postgres.IsUniqueViolation(newPgError("23514")))
	assert.False(t, postgres.IsUniqueViolation(nil))
	assert.True(t, postgres.IsCheckConstraintViolation(fmt.Errorf("insert: %w", newPgError("23514"))))
	assert.False(t, postgres.IsCheckConstraintViolation(errors.New("other")))
}
