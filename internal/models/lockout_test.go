package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureKind_Reason(t *testing.T) {
	assert.Equal(t, LockReasonFailedLogin, FailureKindLogin.Reason())
	assert.Equal(t, LockReasonFailedPasswordChange, FailureKindPasswordChange.Reason())
}

func TestLockoutRecord_IsLocked(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(5 * time.Minute)
	past := now.Add(-5 * time.Minute)

	tests := []struct {
		name string
		rec  LockoutRecord
		want bool
	}{
		{
			name: "active lock",
			rec:  LockoutRecord{CurrentTier: 1, LockedUntil: &future},
			want: true,
		},
		{
			name: "elapsed lock",
			rec:  LockoutRecord{CurrentTier: 1, LockedUntil: &past},
			want: false,
		},
		{
			name: "never locked",
			rec:  LockoutRecord{},
			want: false,
		},
		{
			name: "tier without deadline",
			rec:  LockoutRecord{CurrentTier: 1},
			want: false,
		},
		{
			name: "deadline without tier",
			rec:  LockoutRecord{LockedUntil: &future},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.IsLocked(now))
		})
	}
}

func TestLockoutRecord_Remaining(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(5 * time.Minute)
	past := now.Add(-time.Minute)

	locked := LockoutRecord{CurrentTier: 2, LockedUntil: &future}
	assert.Equal(t, 5*time.Minute, locked.Remaining(now))

	expired := LockoutRecord{CurrentTier: 2, LockedUntil: &past}
	assert.Equal(t, time.Duration(0), expired.Remaining(now))

	assert.Equal(t, time.Duration(0), (&LockoutRecord{}).Remaining(now))
}

func TestLockoutRecord_Counters(t *testing.T) {
	rec := LockoutRecord{
		FailedLoginAttempts:          4,
		FailedPasswordChangeAttempts: 2,
	}

	assert.Equal(t, 4, rec.CounterFor(FailureKindLogin))
	assert.Equal(t, 2, rec.CounterFor(FailureKindPasswordChange))
	assert.Equal(t, 6, rec.TotalAttempts())
}

func TestLockHistory_ScanValueRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	history := LockHistory{
		{Attempts: 3, Tier: 1, LockedUntil: now.Add(time.Minute), OccurredAt: now},
		{Attempts: 5, Tier: 2, LockedUntil: now.Add(5 * time.Minute), OccurredAt: now.Add(time.Minute)},
	}

	value, err := history.Value()
	require.NoError(t, err)

	var restored LockHistory
	require.NoError(t, restored.Scan(value))

	require.Len(t, restored, 2)
	assert.Equal(t, 3, restored[0].Attempts)
	assert.Equal(t, 2, restored[1].Tier)
}

func TestLockHistory_ScanNil(t *testing.T) {
	var h LockHistory
	require.NoError(t, h.Scan(nil))
	assert.Empty(t, h)
}

func TestLockHistory_NilValueEncodesEmptyArray(t *testing.T) {
	var h LockHistory
	value, err := h.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(value.([]byte)))
}
