package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/classboard/sentinel/internal/database"
	"github.com/classboard/sentinel/internal/models"
	"github.com/jackc/pgx/v5"
)

// rowScanner supports scanning both single rows and row iterators
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// LockoutRecordRepository handles database operations for the lockout ledger
type LockoutRecordRepository struct {
	db *database.DB
}

// NewLockoutRecordRepository creates a new LockoutRecordRepository
func NewLockoutRecordRepository(db *database.DB) *LockoutRecordRepository {
	return &LockoutRecordRepository{db: db}
}

const lockoutRecordColumns = `
	account_id, account_name, email, failed_login_attempts,
	failed_password_change_attempts, current_tier, locked_until, lock_reason,
	last_failure_at, history, version, created_at, updated_at
`

func scanLockoutRecordRow(row rowScanner) (*models.LockoutRecord, error) {
	var rec models.LockoutRecord

	err := row.Scan(
		&rec.AccountID, &rec.AccountName, &rec.Email, &rec.FailedLoginAttempts,
		&rec.FailedPasswordChangeAttempts, &rec.CurrentTier, &rec.LockedUntil,
		&rec.LockReason, &rec.LastFailureAt, &rec.History, &rec.Version,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &rec, nil
}

func scanLockoutRecordRows(rows pgx.Rows) ([]*models.LockoutRecord, error) {
	defer rows.Close()

	records := make([]*models.LockoutRecord, 0)

	for rows.Next() {
		rec, err := scanLockoutRecordRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lockout record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return records, nil
}

// Get retrieves the lockout record for an account
func (r *LockoutRecordRepository) Get(ctx context.Context, accountID string) (*models.LockoutRecord, error) {
	query := `
		SELECT ` + lockoutRecordColumns + `
		FROM lockout_records
		WHERE account_id = $1
	`

	return scanLockoutRecordRow(r.db.Pool.QueryRow(ctx, query, accountID))
}

// Create inserts a fresh record for an account's first failure
func (r *LockoutRecordRepository) Create(ctx context.Context, rec *models.LockoutRecord) (*models.LockoutRecord, error) {
	query := `
		INSERT INTO lockout_records (
			account_id, account_name, email, failed_login_attempts,
			failed_password_change_attempts, current_tier, locked_until, lock_reason,
			last_failure_at, history, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		RETURNING ` + lockoutRecordColumns + `
	`

	return scanLockoutRecordRow(r.db.Pool.QueryRow(
		ctx, query,
		rec.AccountID, rec.AccountName, rec.Email, rec.FailedLoginAttempts,
		rec.FailedPasswordChangeAttempts, rec.CurrentTier, rec.LockedUntil,
		rec.LockReason, rec.LastFailureAt, rec.History,
	))
}

// UpdateCAS applies a compare-and-swap update: the write only lands if the
// stored version still matches rec.Version, and bumps the version by one.
// Returns ErrVersionConflict when another writer got there first.
func (r *LockoutRecordRepository) UpdateCAS(ctx context.Context, rec *models.LockoutRecord) (*models.LockoutRecord, error) {
	query := `
		UPDATE lockout_records
		SET account_name = $2,
		    email = $3,
		    failed_login_attempts = $4,
		    failed_password_change_attempts = $5,
		    current_tier = $6,
		    locked_until = $7,
		    lock_reason = $8,
		    last_failure_at = $9,
		    history = $10,
		    version = version + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE account_id = $1 AND version = $11
		RETURNING ` + lockoutRecordColumns + `
	`

	updated, err := scanLockoutRecordRow(r.db.Pool.QueryRow(
		ctx, query,
		rec.AccountID, rec.AccountName, rec.Email, rec.FailedLoginAttempts,
		rec.FailedPasswordChangeAttempts, rec.CurrentTier, rec.LockedUntil,
		rec.LockReason, rec.LastFailureAt, rec.History, rec.Version,
	))
	if errors.Is(err, models.ErrNotFound) {
		// Row exists with a different version, or was never created. Either
		// way the caller must re-read and retry.
		return nil, models.ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// ListLocked returns all records holding an unexpired lock as of now
func (r *LockoutRecordRepository) ListLocked(ctx context.Context, now time.Time) ([]*models.LockoutRecord, error) {
	query := `
		SELECT ` + lockoutRecordColumns + `
		FROM lockout_records
		WHERE current_tier > 0 AND locked_until IS NOT NULL AND locked_until > $1
		ORDER BY locked_until ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return scanLockoutRecordRows(rows)
}

// ListLockedIDs returns the account IDs of all currently locked records.
// Used by unlock-all to snapshot the locked set as of scan start.
func (r *LockoutRecordRepository) ListLockedIDs(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT account_id
		FROM lockout_records
		WHERE current_tier > 0 AND locked_until IS NOT NULL AND locked_until > $1
		ORDER BY account_id
	`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, database.MapPostgresError(err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return ids, nil
}

// ListExpired returns records whose lock has elapsed but which still carry a
// non-zero tier. Used by the reaper to sweep stale locks.
func (r *LockoutRecordRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.LockoutRecord, error) {
	query := `
		SELECT ` + lockoutRecordColumns + `
		FROM lockout_records
		WHERE current_tier > 0 AND locked_until IS NOT NULL AND locked_until <= $1
		ORDER BY locked_until ASC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return scanLockoutRecordRows(rows)
}

// CountLocked counts records holding an unexpired lock as of now
func (r *LockoutRecordRepository) CountLocked(ctx context.Context, now time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM lockout_records
		WHERE current_tier > 0 AND locked_until IS NOT NULL AND locked_until > $1
	`

	var count int64
	if err := r.db.Pool.QueryRow(ctx, query, now).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}
