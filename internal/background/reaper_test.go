package background

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classboard/sentinel/internal/models"
)

type stubLedger struct {
	records []*models.LockoutRecord
	err     error
	gotLimit int
}

func (s *stubLedger) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.LockoutRecord, error) {
	s.gotLimit = limit
	return s.records, s.err
}

type stubChecker struct {
	mu      sync.Mutex
	checked []string
	failFor map[string]error
}

func (s *stubChecker) CheckStatus(ctx context.Context, accountID string) (models.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked = append(s.checked, accountID)
	if err, ok := s.failFor[accountID]; ok {
		return models.Status{}, err
	}
	return models.Status{}, nil
}

type stubPurger struct {
	mu           sync.Mutex
	deleted      int64
	err          error
	gotRetention int
	calls        int
}

func (s *stubPurger) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.gotRetention = olderThanDays
	return s.deleted, s.err
}

func (s *stubPurger) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubRetention struct{ days int }

func (s stubRetention) GetPolicy() *models.SecurityPolicy {
	p := models.DefaultSecurityPolicy()
	p.RetentionDays = s.days
	return p
}

func reaperLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func expiredRecord(accountID string) *models.LockoutRecord {
	past := time.Now().UTC().Add(-time.Hour)
	return &models.LockoutRecord{AccountID: accountID, LockedUntil: &past}
}

func TestRunSweep_ExpiresEachListedLock(t *testing.T) {
	ledger := &stubLedger{records: []*models.LockoutRecord{
		expiredRecord("acct-a"),
		expiredRecord("acct-b"),
	}}
	checker := &stubChecker{}
	purger := &stubPurger{deleted: 3}

	rp := NewReaper(ledger, checker, purger, stubRetention{days: 90}, reaperLogger(t), time.Minute)
	rp.runSweep(context.Background())

	assert.Equal(t, expiredSweepBatch, ledger.gotLimit)
	assert.Equal(t, []string{"acct-a", "acct-b"}, checker.checked)
	assert.Equal(t, 90, purger.gotRetention)
}

func TestRunSweep_ContinuesPastCheckFailure(t *testing.T) {
	ledger := &stubLedger{records: []*models.LockoutRecord{
		expiredRecord("acct-a"),
		expiredRecord("acct-b"),
		expiredRecord("acct-c"),
	}}
	checker := &stubChecker{failFor: map[string]error{"acct-b": errors.New("connection reset")}}
	purger := &stubPurger{}

	rp := NewReaper(ledger, checker, purger, stubRetention{days: 30}, reaperLogger(t), time.Minute)
	rp.runSweep(context.Background())

	assert.Equal(t, []string{"acct-a", "acct-b", "acct-c"}, checker.checked)
	assert.Equal(t, 1, purger.calls)
}

func TestRunSweep_ListFailureStillPurgesAudit(t *testing.T) {
	ledger := &stubLedger{err: errors.New("connection refused")}
	checker := &stubChecker{}
	purger := &stubPurger{}

	rp := NewReaper(ledger, checker, purger, stubRetention{days: 30}, reaperLogger(t), time.Minute)
	rp.runSweep(context.Background())

	assert.Empty(t, checker.checked)
	assert.Equal(t, 1, purger.calls)
}

func TestReaper_StopHaltsLoop(t *testing.T) {
	ledger := &stubLedger{}
	purger := &stubPurger{}

	rp := NewReaper(ledger, &stubChecker{}, purger, stubRetention{days: 30}, reaperLogger(t), time.Hour)

	done := make(chan struct{})
	go func() {
		rp.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return purger.callCount() >= 1 }, 2*time.Second, 10*time.Millisecond)

	rp.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestReaper_ContextCancelHaltsLoop(t *testing.T) {
	rp := NewReaper(&stubLedger{}, &stubChecker{}, &stubPurger{}, stubRetention{days: 30}, reaperLogger(t), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rp.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop on context cancel")
	}
}
