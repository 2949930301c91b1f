package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type captureSender struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
	gotCh  chan Alert
}

func newCaptureSender() *captureSender {
	return &captureSender{gotCh: make(chan Alert, 16)}
}

func (s *captureSender) Send(ctx context.Context, alert Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()
	s.gotCh <- alert
	return s.err
}

func (s *captureSender) sent() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

func (s *captureSender) waitForAlert(t *testing.T) Alert {
	t.Helper()
	select {
	case alert := <-s.gotCh:
		return alert
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert delivery")
		return Alert{}
	}
}

func TestAsyncNotifier_DeliversQueuedAlerts(t *testing.T) {
	sender := newCaptureSender()
	notifier := NewAsyncNotifier(sender, newTestLogger(t), 8, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go notifier.Start(ctx)

	until := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	notifier.NotifyLockout("acct-1", "acct-1@classboard.test", "Dana", 2, until)
	notifier.NotifyUnlock("acct-1", "acct-1@classboard.test", "Dana", "admin-7")

	first := sender.waitForAlert(t)
	second := sender.waitForAlert(t)

	cancel()
	notifier.Wait()

	assert.Equal(t, AlertLockout, first.Kind)
	assert.Equal(t, "acct-1", first.AccountID)
	assert.Equal(t, 2, first.Tier)
	assert.Equal(t, until, first.LockedUntil)

	assert.Equal(t, AlertUnlock, second.Kind)
	assert.Equal(t, "admin-7", second.Actor)
}

func TestAsyncNotifier_DropsWhenQueueFull(t *testing.T) {
	sender := newCaptureSender()
	notifier := NewAsyncNotifier(sender, newTestLogger(t), 1, time.Second)

	// Worker not started, so the queue never drains. Capacity one: the
	// second enqueue must drop rather than block.
	done := make(chan struct{})
	go func() {
		notifier.NotifyLockout("acct-1", "", "", 1, time.Now())
		notifier.NotifyLockout("acct-2", "", "", 1, time.Now())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go notifier.Start(ctx)

	delivered := sender.waitForAlert(t)
	cancel()
	notifier.Wait()

	assert.Equal(t, "acct-1", delivered.AccountID)
	assert.Len(t, sender.sent(), 1)
}

func TestAsyncNotifier_DeliveryFailureDoesNotStopWorker(t *testing.T) {
	sender := newCaptureSender()
	sender.err = errors.New("smtp unreachable")
	notifier := NewAsyncNotifier(sender, newTestLogger(t), 8, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go notifier.Start(ctx)

	notifier.NotifyLockout("acct-1", "", "", 1, time.Now())
	notifier.NotifyLockout("acct-2", "", "", 1, time.Now())

	sender.waitForAlert(t)
	second := sender.waitForAlert(t)

	cancel()
	notifier.Wait()

	assert.Equal(t, "acct-2", second.AccountID)
}

func TestAsyncNotifier_MinimumQueueSize(t *testing.T) {
	notifier := NewAsyncNotifier(newCaptureSender(), newTestLogger(t), 0, time.Second)
	require.Equal(t, 1, cap(notifier.queue))
}

func TestRenderAlert(t *testing.T) {
	until := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	subject, body := renderAlert(Alert{Kind: AlertLockout, Name: "Dana", Tier: 3, LockedUntil: until})
	assert.Equal(t, "Your account has been temporarily locked", subject)
	assert.Contains(t, body, "Hi Dana,")
	assert.Contains(t, body, "tier 3")
	assert.Contains(t, body, until.UTC().Format(time.RFC1123))

	subject, body = renderAlert(Alert{Kind: AlertUnlock})
	assert.Equal(t, "Your account has been unlocked", subject)
	assert.Contains(t, body, "Hi there,")
}

func TestNoopNotifier_SatisfiesNotifier(t *testing.T) {
	var n Notifier = NoopNotifier{}
	n.NotifyLockout("acct-1", "", "", 1, time.Now())
	n.NotifyUnlock("acct-1", "", "", "admin-7")
}
