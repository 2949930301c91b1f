package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/classboard/sentinel/internal/auth"
	"github.com/classboard/sentinel/internal/models"
	"github.com/classboard/sentinel/internal/services"
	pkghttp "github.com/classboard/sentinel/pkg/http"
	pkglogger "github.com/classboard/sentinel/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// LockoutServiceInterface defines the engine contract the façade needs.
type LockoutServiceInterface interface {
	RecordFailure(ctx context.Context, ev models.FailureEvent) (models.Decision, error)
	CheckStatus(ctx context.Context, accountID string) (models.Status, error)
	Unlock(ctx context.Context, accountID string, resetAttempts bool, actor string) error
	BulkUnlock(ctx context.Context, accountIDs []string, resetAttempts bool, actor string) services.BulkUnlockResult
	UnlockAll(ctx context.Context, resetAttempts bool, actor string) (services.UnlockAllResult, error)
	LockedAccounts(ctx context.Context) ([]*models.LockoutRecord, error)
}

// LockoutHandler exposes lockout engine operations over HTTP.
type LockoutHandler struct {
	service  LockoutServiceInterface
	policies services.PolicyProvider
	security *pkglogger.SecurityLogger
}

// NewLockoutHandler creates a new LockoutHandler.
func NewLockoutHandler(service LockoutServiceInterface, policies services.PolicyProvider, security *pkglogger.SecurityLogger) *LockoutHandler {
	return &LockoutHandler{service: service, policies: policies, security: security}
}

// LockedAccountView is one row of the locked-accounts dashboard table.
type LockedAccountView struct {
	AccountID                    string     `json:"account_id"`
	Name                         string     `json:"name"`
	Email                        string     `json:"email"`
	FailedLoginAttempts          int        `json:"failed_login_attempts"`
	FailedPasswordChangeAttempts int        `json:"failed_password_change_attempts"`
	LockReason                   string     `json:"lock_reason"`
	Tier                         int        `json:"tier"`
	Severity                     string     `json:"severity"`
	LockedUntil                  *time.Time `json:"locked_until"`
	RemainingMinutes             int        `json:"remaining_minutes"`
}

type recordFailureRequest struct {
	AccountID string `json:"account_id" validate:"required,max=128"`
	Kind      string `json:"kind" validate:"required,oneof=login password_change"`
	Email     string `json:"email" validate:"omitempty,email"`
	Name      string `json:"name" validate:"omitempty,max=256"`
}

type unlockRequest struct {
	ResetAttempts bool `json:"reset_attempts"`
}

type bulkUnlockRequest struct {
	IDs           []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
	ResetAttempts bool     `json:"reset_attempts"`
}

type unlockResponse struct {
	AccountID       string `json:"account_id"`
	Unlocked        bool   `json:"unlocked"`
	AlreadyUnlocked bool   `json:"already_unlocked,omitempty"`
}

// bulkUnlockResponse separates genuinely failed accounts from ones that were
// never locked: "never locked" and "already unlocked" are indistinguishable
// to the caller, so those are reported as skipped, not errors.
type bulkUnlockResponse struct {
	Succeeded []string          `json:"succeeded"`
	Skipped   []string          `json:"skipped"`
	Failed    map[string]string `json:"failed"`
}

// RecordFailure handles POST /attempts — the attempt-outcome feed from the
// authentication backend.
func (h *LockoutHandler) RecordFailure(w http.ResponseWriter, r *http.Request) {
	var req recordFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	kind := models.FailureKindLogin
	if req.Kind == string(models.FailureKindPasswordChange) {
		kind = models.FailureKindPasswordChange
	}

	decision, err := h.service.RecordFailure(r.Context(), models.FailureEvent{
		AccountID: req.AccountID,
		Kind:      kind,
		Email:     req.Email,
		Name:      req.Name,
		IPAddress: pkghttp.ExtractClientIP(r, nil),
	})
	if err != nil {
		// The decision still fails closed; tell the caller to retry.
		pkghttp.WriteServiceUnavailable(w, "Lockout storage unavailable, attempt denied")
		return
	}

	if decision.Locked {
		h.security.LogLockout(req.AccountID, string(decision.Reason), pkghttp.ExtractClientIP(r, nil), map[string]string{
			"tier":     strconv.Itoa(decision.Tier),
			"attempts": strconv.Itoa(decision.Attempts),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(decision)
}

// CheckStatus handles GET /accounts/{id}/status
func (h *LockoutHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		pkghttp.WriteBadRequest(w, "Account ID is required")
		return
	}

	status, err := h.service.CheckStatus(r.Context(), accountID)
	if err != nil {
		pkghttp.WriteServiceUnavailable(w, "Lockout storage unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// ListLockedAccounts handles GET /locked-accounts
func (h *LockoutHandler) ListLockedAccounts(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.LockedAccounts(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list locked accounts")
		return
	}

	policy := h.policies.GetPolicy()
	now := time.Now()

	views := make([]LockedAccountView, 0, len(records))
	for _, rec := range records {
		view := LockedAccountView{
			AccountID:                    rec.AccountID,
			Name:                         rec.AccountName,
			Email:                        rec.Email,
			FailedLoginAttempts:          rec.FailedLoginAttempts,
			FailedPasswordChangeAttempts: rec.FailedPasswordChangeAttempts,
			Tier:                         rec.CurrentTier,
			Severity:                     policy.SeverityOf(rec.TotalAttempts()),
			LockedUntil:                  rec.LockedUntil,
			RemainingMinutes:             int(math.Ceil(rec.Remaining(now).Minutes())),
		}
		if rec.LockReason != nil {
			view.LockReason = string(*rec.LockReason)
		}
		views = append(views, view)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"locked_accounts": views,
		"count":           len(views),
	})
}

// UnlockAccount handles POST /accounts/{id}/unlock. An account with no
// ledger record was never locked; that is reported as an already-unlocked
// no-op, not an error.
func (h *LockoutHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		pkghttp.WriteBadRequest(w, "Account ID is required")
		return
	}

	var req unlockRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	err := h.service.Unlock(r.Context(), accountID, req.ResetAttempts, actorFrom(r))
	h.security.LogAdminAction(pkglogger.SecurityEvent{
		EventType: "account_unlock",
		AccountID: accountID,
		Actor:     actorFrom(r),
		IPAddress: pkghttp.ExtractClientIP(r, nil),
		Success:   err == nil || errors.Is(err, models.ErrNotFound),
	})
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		pkghttp.WriteInternalError(w, "Failed to unlock account")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(unlockResponse{
		AccountID:       accountID,
		Unlocked:        true,
		AlreadyUnlocked: errors.Is(err, models.ErrNotFound),
	})
}

// BulkUnlockAccounts handles POST /accounts/bulk-unlock
func (h *LockoutHandler) BulkUnlockAccounts(w http.ResponseWriter, r *http.Request) {
	var req bulkUnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result := h.service.BulkUnlock(r.Context(), req.IDs, req.ResetAttempts, actorFrom(r))
	h.security.LogAdminAction(pkglogger.SecurityEvent{
		EventType: "bulk_unlock",
		Actor:     actorFrom(r),
		IPAddress: pkghttp.ExtractClientIP(r, nil),
		Success:   len(result.Failed) == 0,
		Metadata: map[string]string{
			"requested": strconv.Itoa(len(req.IDs)),
			"succeeded": strconv.Itoa(len(result.Succeeded)),
		},
	})

	resp := bulkUnlockResponse{
		Succeeded: result.Succeeded,
		Skipped:   make([]string, 0),
		Failed:    make(map[string]string),
	}
	for id, unlockErr := range result.Failed {
		if errors.Is(unlockErr, models.ErrNotFound) {
			resp.Skipped = append(resp.Skipped, id)
			continue
		}
		resp.Failed[id] = unlockErr.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// UnlockAllAccounts handles POST /accounts/unlock-all
func (h *LockoutHandler) UnlockAllAccounts(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	result, err := h.service.UnlockAll(r.Context(), req.ResetAttempts, actorFrom(r))
	h.security.LogAdminAction(pkglogger.SecurityEvent{
		EventType: "unlock_all",
		Actor:     actorFrom(r),
		IPAddress: pkghttp.ExtractClientIP(r, nil),
		Success:   err == nil,
	})
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to unlock accounts")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// actorFrom resolves the audit actor from the request's token claims.
func actorFrom(r *http.Request) string {
	if claims := auth.GetUserFromContext(r); claims != nil && claims.AdminID != "" {
		return claims.AdminID
	}
	return "unknown"
}
