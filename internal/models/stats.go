package models

import "time"

// TrendPoint is one day's lockout/unlock counts in a trend series.
type TrendPoint struct {
	Day      time.Time `json:"day"`
	Lockouts int64     `json:"lockouts"`
	Unlocks  int64     `json:"unlocks"`
}

// ReasonCount is the number of lockouts attributed to one reason.
type ReasonCount struct {
	Reason LockReason `json:"reason"`
	Count  int64      `json:"count"`
}

// TierCount is the number of lockouts that landed on one tier.
type TierCount struct {
	Tier  int   `json:"tier"`
	Count int64 `json:"count"`
}

// AccountLockoutCount ranks one account by how often it has been locked.
type AccountLockoutCount struct {
	AccountID   string    `json:"account_id"`
	Lockouts    int64     `json:"lockouts"`
	LastLockout time.Time `json:"last_lockout"`
}
