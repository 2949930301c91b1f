package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/classboard/sentinel/pkg/logger"
)

// AlertKind distinguishes notification templates
type AlertKind string

const (
	AlertLockout AlertKind = "lockout"
	AlertUnlock  AlertKind = "unlock"
)

// Alert is one queued notification
type Alert struct {
	Kind        AlertKind
	AccountID   string
	Email       string
	Name        string
	Tier        int
	LockedUntil time.Time
	Actor       string
}

// AlertSender delivers a single alert over some channel (email, SMS)
type AlertSender interface {
	Send(ctx context.Context, alert Alert) error
}

// AsyncNotifier queues alerts and delivers them on a background worker, so a
// slow or failing channel never delays a lock or unlock decision. A full
// queue drops the alert with a log line; delivery failure is logged and
// never propagated.
type AsyncNotifier struct {
	sender      AlertSender
	logger      *slog.Logger
	queue       chan Alert
	sendTimeout time.Duration
	done        chan struct{}
}

// NewAsyncNotifier creates an AsyncNotifier. Call Start to begin delivery.
func NewAsyncNotifier(sender AlertSender, logger *slog.Logger, queueSize int, sendTimeout time.Duration) *AsyncNotifier {
	if queueSize < 1 {
		queueSize = 1
	}
	return &AsyncNotifier{
		sender:      sender,
		logger:      logger,
		queue:       make(chan Alert, queueSize),
		sendTimeout: sendTimeout,
		done:        make(chan struct{}),
	}
}

// Start runs the delivery worker until ctx is cancelled.
func (n *AsyncNotifier) Start(ctx context.Context) {
	defer close(n.done)

	for {
		select {
		case alert := <-n.queue:
			n.deliver(ctx, alert)
		case <-ctx.Done():
			return
		}
	}
}

// Wait blocks until the delivery worker has stopped.
func (n *AsyncNotifier) Wait() {
	<-n.done
}

func (n *AsyncNotifier) deliver(ctx context.Context, alert Alert) {
	sendCtx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()

	if err := n.sender.Send(sendCtx, alert); err != nil {
		n.logger.Error("notification delivery failed",
			slog.String("kind", string(alert.Kind)),
			slog.String("account_id", alert.AccountID),
			slog.Any("error", err))
	}
}

func (n *AsyncNotifier) enqueue(alert Alert) {
	select {
	case n.queue <- alert:
	default:
		n.logger.Warn("notification queue full, dropping alert",
			slog.String("kind", string(alert.Kind)),
			slog.String("account_id", alert.AccountID))
	}
}

// NotifyLockout queues a lockout alert
func (n *AsyncNotifier) NotifyLockout(accountID, email, name string, tier int, lockedUntil time.Time) {
	n.enqueue(Alert{
		Kind:        AlertLockout,
		AccountID:   accountID,
		Email:       email,
		Name:        name,
		Tier:        tier,
		LockedUntil: lockedUntil,
	})
}

// NotifyUnlock queues an unlock alert
func (n *AsyncNotifier) NotifyUnlock(accountID, email, name, actor string) {
	n.enqueue(Alert{
		Kind:      AlertUnlock,
		AccountID: accountID,
		Email:     email,
		Name:      name,
		Actor:     actor,
	})
}

// SESAlertSender sends alerts as email via AWS SES
type SESAlertSender struct {
	sesClient    *ses.Client
	fromAddress  string
	adminAddress string
	logger       *slog.Logger
}

// NewSESAlertSender creates a new SESAlertSender
func NewSESAlertSender(region, fromAddress, adminAddress string, logger *slog.Logger) (*SESAlertSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESAlertSender{
		sesClient:    ses.NewFromConfig(cfg),
		fromAddress:  fromAddress,
		adminAddress: adminAddress,
		logger:       logger,
	}, nil
}

// Send delivers one alert email to the account holder, with a copy to the
// configured admin address when one is set.
func (s *SESAlertSender) Send(ctx context.Context, alert Alert) error {
	subject, textBody := renderAlert(alert)

	recipients := make([]string, 0, 2)
	if alert.Email != "" {
		recipients = append(recipients, alert.Email)
	}
	if s.adminAddress != "" {
		recipients = append(recipients, s.adminAddress)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("alert for account %s has no recipients", alert.AccountID)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	s.logger.Info("alert email sent",
		slog.String("kind", string(alert.Kind)),
		slog.String("account_id", alert.AccountID),
		slog.String("recipient", pkglogger.SanitizedEmail(alert.Email)))

	return nil
}

func renderAlert(alert Alert) (subject, body string) {
	name := alert.Name
	if name == "" {
		name = "there"
	}

	switch alert.Kind {
	case AlertUnlock:
		subject = "Your account has been unlocked"
		body = fmt.Sprintf(`Hi %s,

Your account has been unlocked by an administrator and you can sign in again.

If you did not request this, please contact support.
`, name)
	default:
		subject = "Your account has been temporarily locked"
		body = fmt.Sprintf(`Hi %s,

Too many failed sign-in attempts were made on your account, so it has been
temporarily locked (severity tier %d). You can try again after %s.

If this wasn't you, we recommend changing your password once the lock expires.
`, name, alert.Tier, alert.LockedUntil.UTC().Format(time.RFC1123))
	}

	return subject, body
}

// NoopNotifier satisfies Notifier when email delivery is disabled
type NoopNotifier struct{}

func (NoopNotifier) NotifyLockout(accountID, email, name string, tier int, lockedUntil time.Time) {}
func (NoopNotifier) NotifyUnlock(accountID, email, name, actor string)                            {}
