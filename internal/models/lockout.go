package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// LockReason identifies what kind of failure caused a lock.
type LockReason string

const (
	LockReasonFailedLogin          LockReason = "failed_login"
	LockReasonFailedPasswordChange LockReason = "failed_password_change"
	LockReasonAdminLock            LockReason = "admin_lock"
)

// FailureKind identifies which counter a failed attempt increments.
type FailureKind string

const (
	FailureKindLogin          FailureKind = "login"
	FailureKindPasswordChange FailureKind = "password_change"
)

// Reason returns the lock reason corresponding to this failure kind.
func (k FailureKind) Reason() LockReason {
	if k == FailureKindPasswordChange {
		return LockReasonFailedPasswordChange
	}
	return LockReasonFailedLogin
}

// LockEvent is one entry in a record's append-only lock history.
type LockEvent struct {
	Attempts    int       `json:"attempts"`
	Tier        int       `json:"tier"`
	LockedUntil time.Time `json:"locked_until"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// LockHistory is stored as a JSONB column.
type LockHistory []LockEvent

// Scan implements sql.Scanner for JSONB
func (h *LockHistory) Scan(value interface{}) error {
	if value == nil {
		*h = LockHistory{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var events []LockEvent
	if err := json.Unmarshal(bytes, &events); err != nil {
		return err
	}
	*h = LockHistory(events)
	return nil
}

// Value implements driver.Valuer for JSONB
func (h LockHistory) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal([]LockEvent{})
	}
	return json.Marshal([]LockEvent(h))
}

// LockoutRecord is the per-account lockout state. It is created lazily on an
// account's first failure, mutated only by the lockout engine, and never
// hard-deleted. CurrentTier 0 with a nil or elapsed LockedUntil means the
// account is unlocked. Version supports optimistic concurrency: updates only
// apply when the stored version matches, and bump it by one.
type LockoutRecord struct {
	AccountID                    string      `db:"account_id"`
	AccountName                  string      `db:"account_name"`
	Email                        string      `db:"email"`
	FailedLoginAttempts          int         `db:"failed_login_attempts"`
	FailedPasswordChangeAttempts int         `db:"failed_password_change_attempts"`
	CurrentTier                  int         `db:"current_tier"`
	LockedUntil                  *time.Time  `db:"locked_until"`
	LockReason                   *LockReason `db:"lock_reason"`
	LastFailureAt                *time.Time  `db:"last_failure_at"`
	History                      LockHistory `db:"history"`
	Version                      int64       `db:"version"`
	CreatedAt                    time.Time   `db:"created_at"`
	UpdatedAt                    time.Time   `db:"updated_at"`
}

// CounterFor returns the failure counter matching kind after the record's
// counters have been updated.
func (r *LockoutRecord) CounterFor(kind FailureKind) int {
	if kind == FailureKindPasswordChange {
		return r.FailedPasswordChangeAttempts
	}
	return r.FailedLoginAttempts
}

// TotalAttempts sums both failure counters.
func (r *LockoutRecord) TotalAttempts() int {
	return r.FailedLoginAttempts + r.FailedPasswordChangeAttempts
}

// IsLocked reports whether the record holds an unexpired lock as of now.
func (r *LockoutRecord) IsLocked(now time.Time) bool {
	return r.CurrentTier > 0 && r.LockedUntil != nil && r.LockedUntil.After(now)
}

// Remaining returns how long the current lock has left, or zero when the
// record is not locked.
func (r *LockoutRecord) Remaining(now time.Time) time.Duration {
	if !r.IsLocked(now) {
		return 0
	}
	return r.LockedUntil.Sub(now)
}

// Decision is the engine's answer to a recorded failure.
type Decision struct {
	Locked      bool          `json:"locked"`
	Tier        int           `json:"tier"`
	Reason      LockReason    `json:"reason,omitempty"`
	Remaining   time.Duration `json:"remaining"`
	LockedUntil *time.Time    `json:"locked_until,omitempty"`
	Attempts    int           `json:"attempts"`
}

// Status is the engine's answer to a status check.
type Status struct {
	Locked      bool          `json:"locked"`
	Tier        int           `json:"tier"`
	Remaining   time.Duration `json:"remaining"`
	LockedUntil *time.Time    `json:"locked_until,omitempty"`
}

// FailureEvent is one authentication-attempt outcome fed into the engine.
// Email and Name are carried so the ledger can serve the locked-accounts
// view without a lookup against the user directory.
type FailureEvent struct {
	AccountID string
	Kind      FailureKind
	Email     string
	Name      string
	IPAddress string
}
