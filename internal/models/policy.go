package models

import (
	"fmt"
	"time"
)

// Validation bounds for policy fields
const (
	MinTierCount = 1
	MaxTierCount = 10

	MinAttemptThreshold = 1
	MaxAttemptThreshold = 20

	MinLockDuration = 1 * time.Minute
	MaxLockDuration = 1440 * time.Minute

	MinPasswordLength = 6
	MaxPasswordLength = 128

	MinRetentionDays = 30
	MaxRetentionDays = 2555
)

// LockoutTier maps a failed-attempt threshold to a lockout duration.
// Tier 1 is the mildest; thresholds must strictly increase and durations
// must never decrease across ascending tiers.
type LockoutTier struct {
	Index            int           `json:"index"`
	AttemptThreshold int           `json:"attempt_threshold"`
	LockDuration     time.Duration `json:"lock_duration"`
}

// SecurityPolicy is the active lockout configuration. A single versioned
// instance governs all accounts; it is replaced wholesale on update, never
// mutated in place.
type SecurityPolicy struct {
	Version               int           `json:"version"`
	Tiers                 []LockoutTier `json:"tiers"`
	PasswordMinLength     int           `json:"password_min_length"`
	PasswordRequireMixed  bool          `json:"password_require_mixed"`
	PasswordRequireDigit  bool          `json:"password_require_digit"`
	PasswordRequireSymbol bool          `json:"password_require_symbol"`
	MaxConcurrentSessions int           `json:"max_concurrent_sessions"`
	SessionTimeout        time.Duration `json:"session_timeout"`
	NotifyOnLockout       bool          `json:"notify_on_lockout"`
	NotifyOnUnlock        bool          `json:"notify_on_unlock"`
	RetentionDays         int           `json:"retention_days"`
	UpdatedAt             time.Time     `json:"updated_at"`
	UpdatedBy             string        `json:"updated_by"`
}

// DefaultSecurityPolicy returns the bootstrap policy used until an
// administrator saves one: 3/5/10/15 failures escalating through
// 1/5/10/30 minute locks.
func DefaultSecurityPolicy() *SecurityPolicy {
	return &SecurityPolicy{
		Version: 1,
		Tiers: []LockoutTier{
			{Index: 1, AttemptThreshold: 3, LockDuration: 1 * time.Minute},
			{Index: 2, AttemptThreshold: 5, LockDuration: 5 * time.Minute},
			{Index: 3, AttemptThreshold: 10, LockDuration: 10 * time.Minute},
			{Index: 4, AttemptThreshold: 15, LockDuration: 30 * time.Minute},
		},
		PasswordMinLength:     8,
		PasswordRequireMixed:  true,
		PasswordRequireDigit:  true,
		MaxConcurrentSessions: 3,
		SessionTimeout:        30 * time.Minute,
		NotifyOnLockout:       true,
		NotifyOnUnlock:        false,
		RetentionDays:         90,
	}
}

// Validate checks tier monotonicity and value ranges. It returns
// ErrInvalidPolicy wrapped with a description of the first violation.
func (p *SecurityPolicy) Validate() error {
	if len(p.Tiers) < MinTierCount || len(p.Tiers) > MaxTierCount {
		return fmt.Errorf("%w: tier count must be between %d and %d, got %d",
			ErrInvalidPolicy, MinTierCount, MaxTierCount, len(p.Tiers))
	}

	for i, tier := range p.Tiers {
		if tier.Index != i+1 {
			return fmt.Errorf("%w: tier at position %d has index %d, expected %d",
				ErrInvalidPolicy, i, tier.Index, i+1)
		}
		if tier.AttemptThreshold < MinAttemptThreshold || tier.AttemptThreshold > MaxAttemptThreshold {
			return fmt.Errorf("%w: tier %d attempt threshold %d outside [%d,%d]",
				ErrInvalidPolicy, tier.Index, tier.AttemptThreshold, MinAttemptThreshold, MaxAttemptThreshold)
		}
		if tier.LockDuration < MinLockDuration || tier.LockDuration > MaxLockDuration {
			return fmt.Errorf("%w: tier %d lock duration %s outside [%s,%s]",
				ErrInvalidPolicy, tier.Index, tier.LockDuration, MinLockDuration, MaxLockDuration)
		}
		if i > 0 {
			prev := p.Tiers[i-1]
			if tier.AttemptThreshold <= prev.AttemptThreshold {
				return fmt.Errorf("%w: tier %d threshold %d must exceed tier %d threshold %d",
					ErrInvalidPolicy, tier.Index, tier.AttemptThreshold, prev.Index, prev.AttemptThreshold)
			}
			if tier.LockDuration < prev.LockDuration {
				return fmt.Errorf("%w: tier %d duration %s must not be shorter than tier %d duration %s",
					ErrInvalidPolicy, tier.Index, tier.LockDuration, prev.Index, prev.LockDuration)
			}
		}
	}

	if p.PasswordMinLength < MinPasswordLength || p.PasswordMinLength > MaxPasswordLength {
		return fmt.Errorf("%w: password min length %d outside [%d,%d]",
			ErrInvalidPolicy, p.PasswordMinLength, MinPasswordLength, MaxPasswordLength)
	}
	if p.MaxConcurrentSessions < 1 {
		return fmt.Errorf("%w: max concurrent sessions must be at least 1", ErrInvalidPolicy)
	}
	if p.RetentionDays < MinRetentionDays || p.RetentionDays > MaxRetentionDays {
		return fmt.Errorf("%w: retention days %d outside [%d,%d]",
			ErrInvalidPolicy, p.RetentionDays, MinRetentionDays, MaxRetentionDays)
	}

	return nil
}

// TierFor returns the highest tier whose attempt threshold is satisfied by
// count, or nil if no tier applies. Scanning from the most severe tier down
// guards against misconfigured (non-monotonic) tables: the more severe
// lockout always wins.
func (p *SecurityPolicy) TierFor(count int) *LockoutTier {
	for i := len(p.Tiers) - 1; i >= 0; i-- {
		if count >= p.Tiers[i].AttemptThreshold {
			return &p.Tiers[i]
		}
	}
	return nil
}

// Tier returns the tier with the given index, or nil for index 0 (unlocked)
// and unknown indices.
func (p *SecurityPolicy) Tier(index int) *LockoutTier {
	for i := range p.Tiers {
		if p.Tiers[i].Index == index {
			return &p.Tiers[i]
		}
	}
	return nil
}

// Severity labels derived from the tier table
const (
	SeverityNone     = "none"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SeverityOf maps a total failed-attempt count to a severity label using the
// same tier table the engine locks with, so dashboards and lock decisions
// can never disagree on thresholds.
func (p *SecurityPolicy) SeverityOf(totalAttempts int) string {
	tier := p.TierFor(totalAttempts)
	if tier == nil {
		return SeverityNone
	}
	return SeverityOfTier(tier.Index)
}

// SeverityOfTier maps a tier index to a severity label.
func SeverityOfTier(tierIndex int) string {
	switch {
	case tierIndex <= 0:
		return SeverityNone
	case tierIndex == 1:
		return SeverityLow
	case tierIndex == 2:
		return SeverityMedium
	case tierIndex == 3:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}
