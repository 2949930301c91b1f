package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/classboard/sentinel/internal/database"
	"github.com/classboard/sentinel/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository handles the append-only lockout audit trail
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

const auditEntryColumns = `
	id, account_id, event_type, actor, reason, before_tier, after_tier,
	metadata, created_at
`

func scanAuditEntryRow(row rowScanner) (*models.AuditEntry, error) {
	var entry models.AuditEntry

	err := row.Scan(
		&entry.ID, &entry.AccountID, &entry.EventType, &entry.Actor,
		&entry.Reason, &entry.BeforeTier, &entry.AfterTier, &entry.Metadata,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &entry, nil
}

func scanAuditEntryRows(rows pgx.Rows) ([]*models.AuditEntry, error) {
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)

	for rows.Next() {
		entry, err := scanAuditEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return entries, nil
}

// Append writes a new audit entry. Entries are write-once.
func (r *AuditLogRepository) Append(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	query := `
		INSERT INTO lockout_audit_log (
			account_id, event_type, actor, reason, before_tier, after_tier, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + auditEntryColumns + `
	`

	result, err := scanAuditEntryRow(r.pool.QueryRow(
		ctx, query,
		entry.AccountID, entry.EventType, entry.Actor, entry.Reason,
		entry.BeforeTier, entry.AfterTier, entry.Metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	return result, nil
}

// ListByAccount retrieves audit entries for one account, newest first
func (r *AuditLogRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*models.AuditEntry, error) {
	query := `
		SELECT ` + auditEntryColumns + `
		FROM lockout_audit_log
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return scanAuditEntryRows(rows)
}

// CountByEventTypeSince counts entries of one event type in a time window
func (r *AuditLogRepository) CountByEventTypeSince(ctx context.Context, eventType string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM lockout_audit_log
		WHERE event_type = $1 AND created_at >= $2
	`

	var count int64
	if err := r.pool.QueryRow(ctx, query, eventType, since).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

// CountUnlocksSince counts all unlock-class entries (self-expiry, admin,
// bulk) in a time window
func (r *AuditLogRepository) CountUnlocksSince(ctx context.Context, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM lockout_audit_log
		WHERE event_type IN ($1, $2, $3) AND created_at >= $4
	`

	var count int64
	err := r.pool.QueryRow(ctx, query,
		models.AuditEventTypeUnlock, models.AuditEventTypeAdminUnlock,
		models.AuditEventTypeBulkUnlock, since,
	).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

// AverageLockMinutesSince averages the lock duration of lockout entries in a
// time window. Lockout entries carry their duration in metadata.
func (r *AuditLogRepository) AverageLockMinutesSince(ctx context.Context, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(AVG((metadata->>'lock_minutes')::numeric), 0)
		FROM lockout_audit_log
		WHERE event_type = $1 AND metadata ? 'lock_minutes' AND created_at >= $2
	`

	var avg float64
	if err := r.pool.QueryRow(ctx, query, models.AuditEventTypeLockout, since).Scan(&avg); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return avg, nil
}

// ReasonCountsSince groups lockout entries by reason in a time window
func (r *AuditLogRepository) ReasonCountsSince(ctx context.Context, since time.Time) ([]models.ReasonCount, error) {
	query := `
		SELECT reason, COUNT(*)
		FROM lockout_audit_log
		WHERE event_type = $1 AND reason IS NOT NULL AND created_at >= $2
		GROUP BY reason
		ORDER BY COUNT(*) DESC, reason ASC
	`

	rows, err := r.pool.Query(ctx, query, models.AuditEventTypeLockout, since)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	counts := make([]models.ReasonCount, 0)
	for rows.Next() {
		var rc models.ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, database.MapPostgresError(err)
		}
		counts = append(counts, rc)
	}

	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return counts, nil
}

// TierCountsSince groups lockout entries by the tier they landed on
func (r *AuditLogRepository) TierCountsSince(ctx context.Context, since time.Time) ([]models.TierCount, error) {
	query := `
		SELECT after_tier, COUNT(*)
		FROM lockout_audit_log
		WHERE event_type = $1 AND created_at >= $2
		GROUP BY after_tier
		ORDER BY after_tier ASC
	`

	rows, err := r.pool.Query(ctx, query, models.AuditEventTypeLockout, since)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	counts := make([]models.TierCount, 0)
	for rows.Next() {
		var tc models.TierCount
		if err := rows.Scan(&tc.Tier, &tc.Count); err != nil {
			return nil, database.MapPostgresError(err)
		}
		counts = append(counts, tc)
	}

	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return counts, nil
}

// TrendSince returns per-day lockout and unlock counts from since onward
func (r *AuditLogRepository) TrendSince(ctx context.Context, since time.Time) ([]models.TrendPoint, error) {
	query := `
		SELECT date_trunc('day', created_at) AS day,
		       COUNT(*) FILTER (WHERE event_type = $1) AS lockouts,
		       COUNT(*) FILTER (WHERE event_type IN ($2, $3, $4)) AS unlocks
		FROM lockout_audit_log
		WHERE created_at >= $5
		GROUP BY day
		ORDER BY day ASC
	`

	rows, err := r.pool.Query(ctx, query,
		models.AuditEventTypeLockout, models.AuditEventTypeUnlock,
		models.AuditEventTypeAdminUnlock, models.AuditEventTypeBulkUnlock, since,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	points := make([]models.TrendPoint, 0)
	for rows.Next() {
		var p models.TrendPoint
		if err := rows.Scan(&p.Day, &p.Lockouts, &p.Unlocks); err != nil {
			return nil, database.MapPostgresError(err)
		}
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return points, nil
}

// MostAffectedSince ranks accounts by lockout count in a time window
func (r *AuditLogRepository) MostAffectedSince(ctx context.Context, since time.Time, limit int) ([]models.AccountLockoutCount, error) {
	query := `
		SELECT account_id, COUNT(*), MAX(created_at)
		FROM lockout_audit_log
		WHERE event_type = $1 AND created_at >= $2
		GROUP BY account_id
		ORDER BY COUNT(*) DESC, MAX(created_at) DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, models.AuditEventTypeLockout, since, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	ranked := make([]models.AccountLockoutCount, 0)
	for rows.Next() {
		var ac models.AccountLockoutCount
		if err := rows.Scan(&ac.AccountID, &ac.Lockouts, &ac.LastLockout); err != nil {
			return nil, database.MapPostgresError(err)
		}
		ranked = append(ranked, ac)
	}

	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return ranked, nil
}

// Cleanup removes audit entries older than the retention window
func (r *AuditLogRepository) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
		DELETE FROM lockout_audit_log
		WHERE created_at < CURRENT_TIMESTAMP - INTERVAL '1 day' * $1
	`

	result, err := r.pool.Exec(ctx, query, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit log: %w", err)
	}

	return result.RowsAffected(), nil
}
