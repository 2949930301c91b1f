package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/classboard/sentinel/internal/models"
	pkghttp "github.com/classboard/sentinel/pkg/http"
	pkglogger "github.com/classboard/sentinel/pkg/logger"
)

// PolicyServiceInterface defines the policy store contract.
type PolicyServiceInterface interface {
	GetPolicy() *models.SecurityPolicy
	UpdatePolicy(ctx context.Context, newPolicy *models.SecurityPolicy, actor string) (*models.SecurityPolicy, error)
}

// PolicyHandler serves the security-policy read/update endpoints.
type PolicyHandler struct {
	service  PolicyServiceInterface
	security *pkglogger.SecurityLogger
}

// NewPolicyHandler creates a new PolicyHandler.
func NewPolicyHandler(service PolicyServiceInterface, security *pkglogger.SecurityLogger) *PolicyHandler {
	return &PolicyHandler{service: service, security: security}
}

type tierDTO struct {
	Index               int `json:"index" validate:"required,gte=1,lte=10"`
	AttemptThreshold    int `json:"attempt_threshold" validate:"required,gte=1,lte=20"`
	LockDurationMinutes int `json:"lock_duration_minutes" validate:"required,gte=1,lte=1440"`
}

type securityPolicyDTO struct {
	Version               int       `json:"version,omitempty"`
	Tiers                 []tierDTO `json:"tiers" validate:"required,min=1,max=10,dive"`
	PasswordMinLength     int       `json:"password_min_length" validate:"required,gte=6,lte=128"`
	PasswordRequireMixed  bool      `json:"password_require_mixed"`
	PasswordRequireDigit  bool      `json:"password_require_digit"`
	PasswordRequireSymbol bool      `json:"password_require_symbol"`
	MaxConcurrentSessions int       `json:"max_concurrent_sessions" validate:"required,gte=1,lte=20"`
	SessionTimeoutMinutes int       `json:"session_timeout_minutes" validate:"required,gte=5,lte=1440"`
	NotifyOnLockout       bool      `json:"notify_on_lockout"`
	NotifyOnUnlock        bool      `json:"notify_on_unlock"`
	RetentionDays         int       `json:"retention_days" validate:"required,gte=30,lte=2555"`
	UpdatedAt             time.Time `json:"updated_at,omitempty"`
	UpdatedBy             string    `json:"updated_by,omitempty"`
}

func policyToDTO(p *models.SecurityPolicy) securityPolicyDTO {
	dto := securityPolicyDTO{
		Version:               p.Version,
		Tiers:                 make([]tierDTO, 0, len(p.Tiers)),
		PasswordMinLength:     p.PasswordMinLength,
		PasswordRequireMixed:  p.PasswordRequireMixed,
		PasswordRequireDigit:  p.PasswordRequireDigit,
		PasswordRequireSymbol: p.PasswordRequireSymbol,
		MaxConcurrentSessions: p.MaxConcurrentSessions,
		SessionTimeoutMinutes: int(p.SessionTimeout.Minutes()),
		NotifyOnLockout:       p.NotifyOnLockout,
		NotifyOnUnlock:        p.NotifyOnUnlock,
		RetentionDays:         p.RetentionDays,
		UpdatedAt:             p.UpdatedAt,
		UpdatedBy:             p.UpdatedBy,
	}
	for _, tier := range p.Tiers {
		dto.Tiers = append(dto.Tiers, tierDTO{
			Index:               tier.Index,
			AttemptThreshold:    tier.AttemptThreshold,
			LockDurationMinutes: int(tier.LockDuration.Minutes()),
		})
	}
	return dto
}

func dtoToPolicy(dto securityPolicyDTO) *models.SecurityPolicy {
	policy := &models.SecurityPolicy{
		Tiers:                 make([]models.LockoutTier, 0, len(dto.Tiers)),
		PasswordMinLength:     dto.PasswordMinLength,
		PasswordRequireMixed:  dto.PasswordRequireMixed,
		PasswordRequireDigit:  dto.PasswordRequireDigit,
		PasswordRequireSymbol: dto.PasswordRequireSymbol,
		MaxConcurrentSessions: dto.MaxConcurrentSessions,
		SessionTimeout:        time.Duration(dto.SessionTimeoutMinutes) * time.Minute,
		NotifyOnLockout:       dto.NotifyOnLockout,
		NotifyOnUnlock:        dto.NotifyOnUnlock,
		RetentionDays:         dto.RetentionDays,
	}
	for _, tier := range dto.Tiers {
		policy.Tiers = append(policy.Tiers, models.LockoutTier{
			Index:            tier.Index,
			AttemptThreshold: tier.AttemptThreshold,
			LockDuration:     time.Duration(tier.LockDurationMinutes) * time.Minute,
		})
	}
	return policy
}

// GetPolicy handles GET /security-policy
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(policyToDTO(h.service.GetPolicy()))
}

// UpdatePolicy handles PUT /security-policy. Validation failures reject the
// whole update; the previously active policy stays in effect.
func (h *PolicyHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var dto securityPolicyDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(dto); err != nil {
		pkghttp.WriteUnprocessableEntity(w, "invalid_policy", err.Error())
		return
	}

	updated, err := h.service.UpdatePolicy(r.Context(), dtoToPolicy(dto), actorFrom(r))
	event := pkglogger.SecurityEvent{
		EventType: "policy_update",
		Actor:     actorFrom(r),
		IPAddress: pkghttp.ExtractClientIP(r, nil),
		Success:   err == nil,
	}
	if err != nil {
		event.Reason = err.Error()
		h.security.LogAdminAction(event)
		if errors.Is(err, models.ErrInvalidPolicy) {
			pkghttp.WriteUnprocessableEntity(w, "invalid_policy", err.Error())
			return
		}
		pkghttp.WriteInternalError(w, "Failed to update security policy")
		return
	}
	h.security.LogAdminAction(event)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(policyToDTO(updated))
}
