package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/classboard/sentinel/internal/models"
)

// PolicyPersistence loads and saves the policy document
type PolicyPersistence interface {
	Load(ctx context.Context) (*models.SecurityPolicy, error)
	Save(ctx context.Context, policy *models.SecurityPolicy) error
}

// PolicyStore holds the single active SecurityPolicy behind a copy-on-write
// snapshot: readers always see a complete policy, updates validate first and
// swap the snapshot atomically. Already-applied lock decisions are never
// rewritten by a policy change.
type PolicyStore struct {
	repo    PolicyPersistence
	audit   AuditRecorder
	logger  *slog.Logger
	current atomic.Pointer[models.SecurityPolicy]

	// Serializes writers so the persisted row, the active snapshot and the
	// version sequence cannot diverge. Reads stay lock-free on the pointer.
	updateMu sync.Mutex
}

// NewPolicyStore creates a PolicyStore seeded with the default policy.
// Call Bootstrap to load the persisted policy before serving traffic.
func NewPolicyStore(repo PolicyPersistence, audit AuditRecorder, logger *slog.Logger) *PolicyStore {
	s := &PolicyStore{
		repo:   repo,
		audit:  audit,
		logger: logger,
	}
	s.current.Store(models.DefaultSecurityPolicy())
	return s
}

// Bootstrap loads the persisted policy, seeding the store (and the policy
// table) with the default policy on first run.
func (s *PolicyStore) Bootstrap(ctx context.Context) error {
	policy, err := s.repo.Load(ctx)
	if errors.Is(err, models.ErrNotFound) {
		policy = models.DefaultSecurityPolicy()
		policy.UpdatedAt = time.Now().UTC()
		policy.UpdatedBy = models.SystemActor
		if err := s.repo.Save(ctx, policy); err != nil {
			return fmt.Errorf("seed default policy: %w", err)
		}
		s.logger.Info("seeded default security policy", slog.Int("version", policy.Version))
	} else if err != nil {
		return fmt.Errorf("load security policy: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return fmt.Errorf("stored policy invalid: %w", err)
	}

	s.current.Store(policy)
	return nil
}

// GetPolicy returns the active policy snapshot. Callers must treat it as
// read-only; it is shared across requests.
func (s *PolicyStore) GetPolicy() *models.SecurityPolicy {
	return s.current.Load()
}

// UpdatePolicy validates, persists and atomically activates a new policy.
// On validation failure the active policy is untouched and stays in effect.
func (s *PolicyStore) UpdatePolicy(ctx context.Context, newPolicy *models.SecurityPolicy, actor string) (*models.SecurityPolicy, error) {
	if err := newPolicy.Validate(); err != nil {
		return nil, err
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	previous := s.current.Load()
	newPolicy.Version = previous.Version + 1
	newPolicy.UpdatedAt = time.Now().UTC()
	newPolicy.UpdatedBy = actor

	if err := s.repo.Save(ctx, newPolicy); err != nil {
		return nil, fmt.Errorf("persist policy: %w", err)
	}

	s.current.Store(newPolicy)

	if _, err := s.audit.Append(ctx, &models.AuditEntry{
		AccountID: "policy",
		EventType: models.AuditEventTypePolicyChange,
		Actor:     actor,
		Metadata: models.AuditMetadata{
			"previous_version": previous.Version,
			"new_version":      newPolicy.Version,
			"tier_count":       len(newPolicy.Tiers),
		},
	}); err != nil {
		s.logger.Error("failed to audit policy change", slog.Any("error", err))
	}

	s.logger.Info("security policy updated",
		slog.Int("version", newPolicy.Version),
		slog.String("actor", actor))

	return newPolicy, nil
}
