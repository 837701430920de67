package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isUnavailable reports connection-level failures: the server never saw
// the statement, the connection dropped, or the server is shutting down.
func isUnavailable(err error) bool {
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception. Class 57: operator intervention.
		return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57")
	}
	return false
}

// wrap annotates a driver error. Connection failures also match
// dispatch.ErrStoreUnavailable so callers can tell them from protocol
// outcomes.
func wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("dispatch/postgres: %s: %w: %w", op, dispatch.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("dispatch/postgres: %s: %w", op, err)
}

// inTx runs fn in a read-committed transaction. Errors returned by fn roll
// the transaction back and are returned unchanged.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrap(op+": begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrap(op+": commit", err)
	}
	return nil
}

// lockJob takes the row lock every mutating transaction starts with and
// returns the job's status.
func lockJob(ctx context.Context, tx pgx.Tx, jobID id.JobID) (job.Status, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM dispatch_jobs WHERE id = $1 FOR UPDATE`, jobID.String()).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return "", dispatch.ErrJobNotFound
		}
		return "", wrap("lock job", err)
	}
	return job.Status(status), nil
}

func dayPartsToStrings(parts []job.DayPart) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}

func stringsToDayParts(ss []string) []job.DayPart {
	if len(ss) == 0 {
		return nil
	}
	out := make([]job.DayPart, len(ss))
	for i, s := range ss {
		out[i] = job.DayPart(s)
	}
	return out
}

// nullID maps the Nil ID to SQL NULL.
func nullID(v id.ID) *string {
	if v.IsNil() {
		return nil
	}
	s := v.String()
	return &s
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
