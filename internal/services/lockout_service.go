package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/classboard/sentinel/internal/models"
)

// Retries for the optimistic write path. The in-process keyed mutex already
// serializes writers within one instance, so conflicts only occur against
// other instances sharing the same ledger.
const casMaxRetries = 3

// LedgerRepository defines the ledger operations the engine needs
type LedgerRepository interface {
	Get(ctx context.Context, accountID string) (*models.LockoutRecord, error)
	Create(ctx context.Context, rec *models.LockoutRecord) (*models.LockoutRecord, error)
	UpdateCAS(ctx context.Context, rec *models.LockoutRecord) (*models.LockoutRecord, error)
	ListLocked(ctx context.Context, now time.Time) ([]*models.LockoutRecord, error)
	ListLockedIDs(ctx context.Context, now time.Time) ([]string, error)
}

// AuditRecorder appends entries to the lockout audit trail
type AuditRecorder interface {
	Append(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error)
}

// PolicyProvider yields the active security policy snapshot
type PolicyProvider interface {
	GetPolicy() *models.SecurityPolicy
}

// Notifier delivers lockout/unlock notifications. Implementations must not
// block: delivery is fire-and-forget and never influences a lock decision.
type Notifier interface {
	NotifyLockout(accountID, email, name string, tier int, lockedUntil time.Time)
	NotifyUnlock(accountID, email, name, actor string)
}

// BulkUnlockResult reports per-account outcomes of a bulk unlock. Failed maps
// account IDs to their errors so callers can match sentinels with errors.Is;
// failures never roll back other accounts.
type BulkUnlockResult struct {
	Succeeded []string
	Failed    map[string]error
}

// UnlockAllResult reports how many accounts an unlock-all released.
type UnlockAllResult struct {
	UnlockedCount int `json:"unlocked_count"`
}

// LockoutEngine is the per-account lockout state machine. All ledger
// mutations for one account are serialized through a keyed mutex plus an
// optimistic version check in the repository, so concurrent failures can
// neither under-count nor double-apply a lock.
type LockoutEngine struct {
	ledger      LedgerRepository
	audit       AuditRecorder
	policies    PolicyProvider
	notifier    Notifier
	logger      *slog.Logger
	keys        *keyedMutex
	bulkWorkers int

	now func() time.Time
}

// NewLockoutEngine creates a new LockoutEngine
func NewLockoutEngine(
	ledger LedgerRepository,
	audit AuditRecorder,
	policies PolicyProvider,
	notifier Notifier,
	logger *slog.Logger,
	bulkWorkers int,
) *LockoutEngine {
	if bulkWorkers < 1 {
		bulkWorkers = 1
	}
	return &LockoutEngine{
		ledger:      ledger,
		audit:       audit,
		policies:    policies,
		notifier:    notifier,
		logger:      logger,
		keys:        newKeyedMutex(),
		bulkWorkers: bulkWorkers,
		now:         time.Now,
	}
}

// RecordFailure consumes one failed-attempt event, increments the matching
// counter and escalates the account's lock tier when a threshold is crossed.
// The decision fails closed: if the ledger cannot be consulted the returned
// decision denies access and the error is surfaced as retryable.
func (e *LockoutEngine) RecordFailure(ctx context.Context, ev models.FailureEvent) (models.Decision, error) {
	e.keys.Lock(ev.AccountID)
	defer e.keys.Unlock(ev.AccountID)

	policy := e.policies.GetPolicy()

	var (
		rec         *models.LockoutRecord
		expiredTier int
		escalated   bool
		prevTier    int
	)

	for attempt := 0; ; attempt++ {
		var err error
		rec, expiredTier, escalated, prevTier, err = e.applyFailure(ctx, ev, policy)
		if err == nil {
			break
		}
		if errors.Is(err, models.ErrVersionConflict) && attempt < casMaxRetries {
			continue
		}
		e.logger.Error("failed to record authentication failure",
			slog.String("account_id", ev.AccountID),
			slog.Any("error", err))
		// Fail closed: deny while the ledger is unreachable.
		return models.Decision{Locked: true, Reason: ev.Kind.Reason()}, fmt.Errorf("record failure: %w", err)
	}

	now := e.now()

	if expiredTier > 0 {
		e.appendAudit(ctx, &models.AuditEntry{
			AccountID:  ev.AccountID,
			EventType:  models.AuditEventTypeUnlock,
			Actor:      models.SystemActor,
			BeforeTier: expiredTier,
			AfterTier:  0,
			Metadata:   models.AuditMetadata{"cause": "expired"},
		})
	}

	if !escalated {
		return models.Decision{
			Locked:   rec.IsLocked(now),
			Tier:     rec.CurrentTier,
			Attempts: rec.CounterFor(ev.Kind),
		}, nil
	}

	reason := ev.Kind.Reason()
	lockMinutes := math.Round(rec.LockedUntil.Sub(*rec.LastFailureAt).Minutes())
	e.appendAudit(ctx, &models.AuditEntry{
		AccountID:  ev.AccountID,
		EventType:  models.AuditEventTypeLockout,
		Actor:      models.SystemActor,
		Reason:     &reason,
		BeforeTier: prevTier,
		AfterTier:  rec.CurrentTier,
		Metadata: models.AuditMetadata{
			"lock_minutes": lockMinutes,
			"attempts":     rec.CounterFor(ev.Kind),
			"ip_address":   ev.IPAddress,
		},
	})

	if policy.NotifyOnLockout {
		e.notifier.NotifyLockout(ev.AccountID, rec.Email, rec.AccountName, rec.CurrentTier, *rec.LockedUntil)
	}

	e.logger.Warn("account locked",
		slog.String("account_id", ev.AccountID),
		slog.Int("tier", rec.CurrentTier),
		slog.String("reason", string(reason)),
		slog.Time("locked_until", *rec.LockedUntil))

	return models.Decision{
		Locked:      true,
		Tier:        rec.CurrentTier,
		Reason:      reason,
		Remaining:   rec.Remaining(now),
		LockedUntil: rec.LockedUntil,
		Attempts:    rec.CounterFor(ev.Kind),
	}, nil
}

// applyFailure performs one read-modify-write cycle of the failure path.
// It returns the persisted record, the tier of any lock that expired lazily
// during this write, whether a new lock was applied, and the tier held
// before the transition.
func (e *LockoutEngine) applyFailure(ctx context.Context, ev models.FailureEvent, policy *models.SecurityPolicy) (rec *models.LockoutRecord, expiredTier int, escalated bool, prevTier int, err error) {
	now := e.now()

	rec, err = e.ledger.Get(ctx, ev.AccountID)
	creating := false
	switch {
	case errors.Is(err, models.ErrNotFound):
		creating = true
		rec = &models.LockoutRecord{
			AccountID:   ev.AccountID,
			AccountName: ev.Name,
			Email:       ev.Email,
			History:     models.LockHistory{},
		}
	case err != nil:
		return nil, 0, false, 0, err
	}

	// Lazy expiry folded into this write: an elapsed lock drops to tier 0
	// before the new failure is evaluated.
	if rec.CurrentTier > 0 && !rec.IsLocked(now) {
		expiredTier = rec.CurrentTier
		rec.CurrentTier = 0
		rec.LockedUntil = nil
		rec.LockReason = nil
	}
	prevTier = rec.CurrentTier

	if ev.Kind == models.FailureKindPasswordChange {
		rec.FailedPasswordChangeAttempts++
	} else {
		rec.FailedLoginAttempts++
	}
	rec.LastFailureAt = &now
	if ev.Email != "" {
		rec.Email = ev.Email
	}
	if ev.Name != "" {
		rec.AccountName = ev.Name
	}

	// Failed attempts count even while locked; escalation applies whenever
	// the satisfied tier exceeds the one currently held.
	if tier := policy.TierFor(rec.CounterFor(ev.Kind)); tier != nil && tier.Index > rec.CurrentTier {
		reason := ev.Kind.Reason()
		until := now.Add(tier.LockDuration)
		rec.CurrentTier = tier.Index
		rec.LockedUntil = &until
		rec.LockReason = &reason
		rec.History = append(rec.History, models.LockEvent{
			Attempts:    rec.CounterFor(ev.Kind),
			Tier:        tier.Index,
			LockedUntil: until,
			OccurredAt:  now,
		})
		escalated = true
	}

	if creating {
		rec, err = e.ledger.Create(ctx, rec)
		if errors.Is(err, models.ErrConflict) {
			// Another instance created the record first; retry as an update.
			return nil, 0, false, 0, models.ErrVersionConflict
		}
	} else {
		rec, err = e.ledger.UpdateCAS(ctx, rec)
	}
	if err != nil {
		return nil, 0, false, 0, err
	}

	return rec, expiredTier, escalated, prevTier, nil
}

// CheckStatus reports whether an account is locked. An elapsed lock is
// resolved here (lazy expiry): the first observer resets the tier, later
// observers see the already-expired state. Failure counters survive expiry.
func (e *LockoutEngine) CheckStatus(ctx context.Context, accountID string) (models.Status, error) {
	rec, err := e.ledger.Get(ctx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Status{Locked: false}, nil
	}
	if err != nil {
		return models.Status{}, fmt.Errorf("check status: %w", err)
	}

	now := e.now()
	if rec.IsLocked(now) {
		return models.Status{
			Locked:      true,
			Tier:        rec.CurrentTier,
			Remaining:   rec.Remaining(now),
			LockedUntil: rec.LockedUntil,
		}, nil
	}

	if rec.CurrentTier > 0 {
		e.expireLock(ctx, accountID)
	}

	return models.Status{Locked: false}, nil
}

// expireLock resolves an elapsed lock back to tier 0. Safe to race: the CAS
// write only lands for the first observer, everyone else re-reads the
// already-expired record and leaves it alone.
func (e *LockoutEngine) expireLock(ctx context.Context, accountID string) {
	e.keys.Lock(accountID)
	defer e.keys.Unlock(accountID)

	for attempt := 0; attempt <= casMaxRetries; attempt++ {
		rec, err := e.ledger.Get(ctx, accountID)
		if err != nil {
			e.logger.Error("lazy expiry read failed",
				slog.String("account_id", accountID), slog.Any("error", err))
			return
		}

		now := e.now()
		if rec.CurrentTier == 0 || rec.IsLocked(now) {
			return
		}

		beforeTier := rec.CurrentTier
		rec.CurrentTier = 0
		rec.LockedUntil = nil
		rec.LockReason = nil

		if _, err := e.ledger.UpdateCAS(ctx, rec); err != nil {
			if errors.Is(err, models.ErrVersionConflict) {
				continue
			}
			e.logger.Error("lazy expiry write failed",
				slog.String("account_id", accountID), slog.Any("error", err))
			return
		}

		e.appendAudit(ctx, &models.AuditEntry{
			AccountID:  accountID,
			EventType:  models.AuditEventTypeUnlock,
			Actor:      models.SystemActor,
			BeforeTier: beforeTier,
			AfterTier:  0,
			Metadata:   models.AuditMetadata{"cause": "expired"},
		})
		return
	}
}

// Unlock clears an account's lock. With resetAttempts both failure counters
// are zeroed as well. Returns ErrNotFound when no ledger record exists; the
// caller decides whether "never locked" is an error.
func (e *LockoutEngine) Unlock(ctx context.Context, accountID string, resetAttempts bool, actor string) error {
	eventType := models.AuditEventTypeAdminUnlock
	if actor == models.SystemActor {
		eventType = models.AuditEventTypeUnlock
	}
	return e.unlockOne(ctx, accountID, resetAttempts, actor, eventType)
}

func (e *LockoutEngine) unlockOne(ctx context.Context, accountID string, resetAttempts bool, actor, eventType string) error {
	e.keys.Lock(accountID)
	defer e.keys.Unlock(accountID)

	var rec *models.LockoutRecord
	var beforeTier int

	for attempt := 0; ; attempt++ {
		var err error
		rec, err = e.ledger.Get(ctx, accountID)
		if err != nil {
			return err
		}

		beforeTier = rec.CurrentTier
		rec.CurrentTier = 0
		rec.LockedUntil = nil
		rec.LockReason = nil
		if resetAttempts {
			rec.FailedLoginAttempts = 0
			rec.FailedPasswordChangeAttempts = 0
		}

		rec, err = e.ledger.UpdateCAS(ctx, rec)
		if err == nil {
			break
		}
		if errors.Is(err, models.ErrVersionConflict) && attempt < casMaxRetries {
			continue
		}
		return fmt.Errorf("unlock %s: %w", accountID, err)
	}

	e.appendAudit(ctx, &models.AuditEntry{
		AccountID:  accountID,
		EventType:  eventType,
		Actor:      actor,
		BeforeTier: beforeTier,
		AfterTier:  0,
		Metadata:   models.AuditMetadata{"reset_attempts": resetAttempts},
	})

	if actor != models.SystemActor && e.policies.GetPolicy().NotifyOnUnlock {
		e.notifier.NotifyUnlock(accountID, rec.Email, rec.AccountName, actor)
	}

	e.logger.Info("account unlocked",
		slog.String("account_id", accountID),
		slog.String("actor", actor),
		slog.Bool("reset_attempts", resetAttempts))

	return nil
}

// BulkUnlock unlocks each listed account independently, fanning out across a
// bounded worker pool. A failure on one account never aborts the rest.
func (e *LockoutEngine) BulkUnlock(ctx context.Context, accountIDs []string, resetAttempts bool, actor string) BulkUnlockResult {
	result := BulkUnlockResult{
		Succeeded: make([]string, 0, len(accountIDs)),
		Failed:    make(map[string]error),
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.bulkWorkers)
	)

	for _, id := range accountIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(accountID string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := e.unlockOne(ctx, accountID, resetAttempts, actor, models.AuditEventTypeBulkUnlock)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[accountID] = err
				return
			}
			result.Succeeded = append(result.Succeeded, accountID)
		}(id)
	}

	wg.Wait()
	return result
}

// UnlockAll unlocks every account locked as of scan start. Accounts locked
// while the scan runs are not guaranteed to be included.
func (e *LockoutEngine) UnlockAll(ctx context.Context, resetAttempts bool, actor string) (UnlockAllResult, error) {
	ids, err := e.ledger.ListLockedIDs(ctx, e.now())
	if err != nil {
		return UnlockAllResult{}, fmt.Errorf("unlock all: %w", err)
	}

	bulk := e.BulkUnlock(ctx, ids, resetAttempts, actor)
	for id, unlockErr := range bulk.Failed {
		e.logger.Warn("unlock-all skipped account",
			slog.String("account_id", id), slog.Any("error", unlockErr))
	}

	return UnlockAllResult{UnlockedCount: len(bulk.Succeeded)}, nil
}

// LockedAccounts returns a read-only projection of all currently locked
// records for the admin view.
func (e *LockoutEngine) LockedAccounts(ctx context.Context) ([]*models.LockoutRecord, error) {
	records, err := e.ledger.ListLocked(ctx, e.now())
	if err != nil {
		return nil, fmt.Errorf("list locked accounts: %w", err)
	}
	return records, nil
}

// appendAudit writes a trail entry. Audit failures are logged, never
// propagated: the state transition has already committed and is not rolled
// back for a trail write error.
func (e *LockoutEngine) appendAudit(ctx context.Context, entry *models.AuditEntry) {
	if _, err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Error("failed to append audit entry",
			slog.String("account_id", entry.AccountID),
			slog.String("event_type", entry.EventType),
			slog.Any("error", err))
	}
}
