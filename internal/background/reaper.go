package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/classboard/sentinel/internal/models"
)

const expiredSweepBatch = 200

// ExpiredLister lists lockout records whose lock window has elapsed
type ExpiredLister interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.LockoutRecord, error)
}

// StatusChecker resolves an account's lockout status, expiring stale locks as a side effect
type StatusChecker interface {
	CheckStatus(ctx context.Context, accountID string) (models.Status, error)
}

// AuditPurger removes audit entries older than the retention window
type AuditPurger interface {
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

// RetentionProvider exposes the active retention policy
type RetentionProvider interface {
	GetPolicy() *models.SecurityPolicy
}

// Reaper periodically expires stale locks and purges audit entries past retention.
// Expiry is already applied lazily on reads, so the sweep only matters for
// accounts nobody has queried since their lock elapsed.
type Reaper struct {
	ledger   ExpiredLister
	checker  StatusChecker
	audit    AuditPurger
	policies RetentionProvider
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewReaper creates a new reaper
func NewReaper(
	ledger ExpiredLister,
	checker StatusChecker,
	audit AuditPurger,
	policies RetentionProvider,
	logger *slog.Logger,
	interval time.Duration,
) *Reaper {
	return &Reaper{
		ledger:   ledger,
		checker:  checker,
		audit:    audit,
		policies: policies,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (rp *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	// Run immediately on startup
	rp.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			rp.runSweep(ctx)
		case <-rp.stopCh:
			rp.logger.Info("reaper stopped")
			return
		case <-ctx.Done():
			rp.logger.Info("reaper context cancelled")
			return
		}
	}
}

// runSweep expires stale locks and purges old audit entries
func (rp *Reaper) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	expired, err := rp.ledger.ListExpired(sweepCtx, time.Now().UTC(), expiredSweepBatch)
	if err != nil {
		rp.logger.Error("failed to list expired locks", slog.Any("error", err))
	} else {
		swept := 0
		for _, rec := range expired {
			// CheckStatus folds the expiry through the same path as a live read,
			// including the unlock audit entry
			if _, err := rp.checker.CheckStatus(sweepCtx, rec.AccountID); err != nil {
				rp.logger.Error("failed to expire stale lock",
					slog.String("account_id", rec.AccountID),
					slog.Any("error", err))
				continue
			}
			swept++
		}
		if swept > 0 {
			rp.logger.Info("expired stale locks", slog.Int("count", swept))
		}
	}

	retentionDays := rp.policies.GetPolicy().RetentionDays
	rowsDeleted, err := rp.audit.Cleanup(sweepCtx, retentionDays)
	if err != nil {
		rp.logger.Error("failed to purge audit entries", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		rp.logger.Info("audit retention purge completed",
			slog.Int64("rows_deleted", rowsDeleted),
			slog.Int("retention_days", retentionDays))
	}
}

// Stop signals the reaper to stop
func (rp *Reaper) Stop() {
	close(rp.stopCh)
}
