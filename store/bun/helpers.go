package bunstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}

// isUnavailable reports connection-level failures.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		code := pgErr.Field('C')
		return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57")
	}
	return false
}

// wrap annotates a driver error. Connection failures also match
// dispatch.ErrStoreUnavailable.
func wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("dispatch/bun: %s: %w: %w", op, dispatch.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("dispatch/bun: %s: %w", op, err)
}

// inTx runs fn in a transaction. Errors from fn are returned unchanged;
// only begin and commit failures are wrapped.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	var fnErr error
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		fnErr = fn(ctx, tx)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return wrap("transaction", err)
	}
	return nil
}

// lockJob locks the job row, the first lock every mutating transaction
// takes, and returns its status.
func lockJob(ctx context.Context, tx bun.Tx, jobID id.JobID) (job.Status, error) {
	var status string
	err := tx.NewSelect().
		Table("dispatch_jobs").
		Column("status").
		Where("id = ?", jobID.String()).
		For("UPDATE").
		Scan(ctx, &status)
	if err != nil {
		if isNoRows(err) {
			return "", dispatch.ErrJobNotFound
		}
		return "", wrap("lock job", err)
	}
	return job.Status(status), nil
}

// hasPending reports whether the job has an outstanding offer.
func hasPending(ctx context.Context, tx bun.IDB, jobID id.JobID) (bool, error) {
	busy, err := tx.NewSelect().
		Model((*offerModel)(nil)).
		Where("job_id = ?", jobID.String()).
		Where("response = ?", "pending").
		Exists(ctx)
	if err != nil {
		return false, wrap("check pending", err)
	}
	return busy, nil
}
