package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/jobstream/internal/job"
	"github.com/phrazzld/jobstream/internal/platform/logger"
	"github.com/phrazzld/jobstream/internal/store"
)

const jobColumns = `id, job_type, status, resource_type, resource_id, input, result,
	progress, stage, error_code, error_message, retry_count,
	created_at, started_at, completed_at, updated_at`

// PostgresJobStore implements store.JobStore on the jobs table.
//
// State transitions are single guarded UPDATE statements whose WHERE clause
// names the permitted source statuses, so a concurrent transition can never
// be lost. When the guard rejects an update, a follow-up read tells a
// missing job apart from a forbidden edge.
type PostgresJobStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.JobStore = (*PostgresJobStore)(nil)

// NewPostgresJobStore creates a store on db.
func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create implements store.JobStore.
func (s *PostgresJobStore) Create(ctx context.Context, j *job.Job) error {
	log := logger.FromContext(ctx)

	if j.Status != job.StatusPending {
		return fmt.Errorf("%w: new job must be pending, got %s", store.ErrInvalidEntity, j.Status)
	}
	if err := j.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	createdAt := j.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, job_type, status, resource_type, resource_id, input,
			progress, stage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		j.ID,
		string(j.Kind),
		string(j.Status),
		nullString(j.ResourceType),
		nullString(j.ResourceID),
		nullJSON(j.Input),
		j.Progress.Percentage,
		j.Progress.Stage,
		createdAt,
	)
	if err != nil {
		log.Error("failed to create job",
			"job_id", j.ID,
			"job_type", j.Kind,
			"error", err)
		return MapError(err)
	}
	return nil
}

// Get implements store.JobStore.
func (s *PostgresJobStore) Get(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", MapError(err))
	}
	return j, nil
}

// Claim implements store.JobStore. The row is locked with SKIP LOCKED so a
// concurrent claimer gives up at once instead of queueing behind the winner.
func (s *PostgresJobStore) Claim(ctx context.Context, id string) (*job.Job, error) {
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing', started_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE id = $1 AND status IN (`+sourceList(job.StatusProcessing)+`)
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		id, now,
	)
	return s.finishTransition(ctx, row, id, job.StatusProcessing)
}

// UpdateProgress implements store.JobStore. The monotonic check and the
// write share one transaction holding the row lock.
func (s *PostgresJobStore) UpdateProgress(ctx context.Context, id string, p job.Progress) (*job.Job, error) {
	p = p.Clamp()
	var updated *job.Job

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var status string
		var current int
		err := tx.QueryRowContext(ctx,
			`SELECT status, progress FROM jobs WHERE id = $1 FOR UPDATE`, id,
		).Scan(&status, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrJobNotFound
		}
		if err != nil {
			return MapError(err)
		}
		if job.Status(status) != job.StatusProcessing {
			return fmt.Errorf("%w: progress on %s job", store.ErrInvalidTransition, status)
		}
		if p.Percentage < current {
			return store.ErrStaleProgress
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE jobs SET progress = $2, stage = $3, updated_at = $4
			WHERE id = $1
			RETURNING `+jobColumns,
			id, p.Percentage, p.Stage, s.now(),
		)
		updated, err = scanJob(row)
		return MapError(err)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Complete implements store.JobStore.
func (s *PostgresJobStore) Complete(ctx context.Context, id string, result json.RawMessage) (*job.Job, error) {
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: completed job requires a result", store.ErrInvalidEntity)
	}
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'completed', result = $2, progress = 100,
			completed_at = $3, updated_at = $3
		WHERE id = $1 AND status IN (`+sourceList(job.StatusCompleted)+`)
		RETURNING `+jobColumns,
		id, []byte(result), now,
	)
	return s.finishTransition(ctx, row, id, job.StatusCompleted)
}

// Fail implements store.JobStore.
func (s *PostgresJobStore) Fail(ctx context.Context, id string, jobErr job.Error) (*job.Job, error) {
	return s.finishWithError(ctx, id, job.StatusFailed, jobErr)
}

// Cancel implements store.JobStore.
func (s *PostgresJobStore) Cancel(ctx context.Context, id string, jobErr job.Error) (*job.Job, error) {
	return s.finishWithError(ctx, id, job.StatusCancelled, jobErr)
}

func (s *PostgresJobStore) finishWithError(ctx context.Context, id string, to job.Status, jobErr job.Error) (*job.Job, error) {
	if jobErr.Message == "" {
		return nil, fmt.Errorf("%w: %s job requires an error message", store.ErrInvalidEntity, to)
	}
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = $2, error_code = $3, error_message = $4, retry_count = $5,
			completed_at = $6, updated_at = $6
		WHERE id = $1 AND status IN (`+sourceList(to)+`)
		RETURNING `+jobColumns,
		id, string(to), string(jobErr.Code), jobErr.Message, jobErr.RetryCount, now,
	)
	return s.finishTransition(ctx, row, id, to)
}

// ListByStatus implements store.JobStore.
func (s *PostgresJobStore) ListByStatus(ctx context.Context, status job.Status, olderThan time.Duration) ([]*job.Job, error) {
	log := logger.FromContext(ctx)

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1`
	args := []any{string(status)}
	if olderThan > 0 {
		query += ` AND updated_at < $2`
		args = append(args, s.now().Add(-olderThan))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query jobs by status",
			"status", status,
			"error", err)
		return nil, fmt.Errorf("query jobs by status: %w", MapError(err))
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// finishTransition scans the RETURNING row of a guarded update. No row means
// the guard rejected the update, and the current status is read to report
// why.
func (s *PostgresJobStore) finishTransition(ctx context.Context, row *sql.Row, id string, to job.Status) (*job.Job, error) {
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		logger.FromContext(ctx).Error("guarded update failed",
			"job_id", id,
			"to_status", to,
			"error", err)
		return nil, MapError(err)
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return nil, store.NewStoreError("job", string(to),
		fmt.Sprintf("guarded update rejected (%s -> %s)", current, to),
		store.ErrInvalidTransition)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j                        job.Job
		kind, status             string
		resourceType, resourceID sql.NullString
		input, result            []byte
		errorCode, errorMessage  sql.NullString
		retryCount               int
		startedAt, completedAt   sql.NullTime
	)
	err := row.Scan(
		&j.ID, &kind, &status, &resourceType, &resourceID, &input, &result,
		&j.Progress.Percentage, &j.Progress.Stage, &errorCode, &errorMessage, &retryCount,
		&j.CreatedAt, &startedAt, &completedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Kind = job.Kind(kind)
	j.Status = job.Status(status)
	j.ResourceType = resourceType.String
	j.ResourceID = resourceID.String
	if len(input) > 0 {
		j.Input = json.RawMessage(input)
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	if errorMessage.Valid {
		j.Error = &job.Error{
			Code:       job.ErrorCode(errorCode.String),
			Message:    errorMessage.String,
			RetryCount: retryCount,
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

// sourceList renders the statuses that may precede to as a SQL literal
// list. The values are package constants, never user input.
func sourceList(to job.Status) string {
	sources := job.SourcesFor(to)
	quoted := make([]string, len(sources))
	for i, s := range sources {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return []byte(r)
}
