package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types for the lockout audit trail
const (
	AuditEventTypeLockout      = "lockout"
	AuditEventTypeUnlock       = "unlock"
	AuditEventTypeAdminUnlock  = "admin_unlock"
	AuditEventTypeBulkUnlock   = "bulk_unlock"
	AuditEventTypePolicyChange = "policy_change"
)

// SystemActor marks transitions performed by the engine itself (lazy expiry,
// reaper sweeps) rather than by an administrator.
const SystemActor = "system"

// AuditEntry is one append-only record of a lockout state transition.
// Entries are written once and never mutated; they are purged only by the
// retention cleanup, per the policy's retention_days setting.
type AuditEntry struct {
	ID         uuid.UUID     `db:"id"`
	AccountID  string        `db:"account_id"`
	EventType  string        `db:"event_type"`
	Actor      string        `db:"actor"`
	Reason     *LockReason   `db:"reason"`
	BeforeTier int           `db:"before_tier"`
	AfterTier  int           `db:"after_tier"`
	Metadata   AuditMetadata `db:"metadata"`
	CreatedAt  time.Time     `db:"created_at"`
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(am)
}

// MarshalJSON implements json.Marshaler
func (am AuditMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(am))
}

// UnmarshalJSON implements json.Unmarshaler
func (am *AuditMetadata) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}
