package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
)

const jobColumns = `
	id, customer_id, category, title, lat, lng, area, schedule,
	price_cents, status, provider_id, accepted_at, completed_at,
	created_at, updated_at`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dispatch_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		j.ID.String(), j.CustomerID.String(), j.Category, j.Title,
		j.Location.Lat, j.Location.Lng, j.Location.Area, string(j.Schedule),
		j.PriceCents, string(j.Status), nullID(j.ProviderID), j.AcceptedAt, j.CompletedAt,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return dispatch.ErrJobAlreadyExists
		}
		return wrap("create job", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM dispatch_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrJobNotFound
		}
		return nil, wrap("get job", err)
	}
	return j, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM dispatch_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2, 0) OFFSET $3`,
		string(opts.Status), opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// AdvanceWork moves an accepted job along the provider's work flow. The
// UPDATE's WHERE clause is the compare-and-swap.
func (s *Store) AdvanceWork(ctx context.Context, jobID id.JobID, providerID id.ProviderID, from, to job.Status, at time.Time) (*job.Job, error) {
	if !job.CanAdvanceWork(from, to) {
		return nil, fmt.Errorf("%w: %s → %s", dispatch.ErrInvalidTransition, from, to)
	}

	var completedAt *time.Time
	if to == job.StatusCompleted {
		t := at.UTC()
		completedAt = &t
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE dispatch_jobs
		SET status = $4, completed_at = COALESCE($5, completed_at), updated_at = $6
		WHERE id = $1 AND status = $2 AND provider_id = $3
		RETURNING `+jobColumns,
		jobID.String(), string(from), providerID.String(), string(to), completedAt, at.UTC(),
	)
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, wrap("advance work", err)
	}

	cur, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: %s → %s", dispatch.ErrInvalidTransition, cur.Status, to)
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j        job.Job
		schedule string
		status   string
	)
	err := row.Scan(
		&j.ID, &j.CustomerID, &j.Category, &j.Title,
		&j.Location.Lat, &j.Location.Lng, &j.Location.Area, &schedule,
		&j.PriceCents, &status, &j.ProviderID, &j.AcceptedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Schedule = job.Schedule(schedule)
	j.Status = job.Status(status)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("dispatch/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate job rows", err)
	}
	return jobs, nil
}
