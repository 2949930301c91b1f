package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/classboard/sentinel/internal/models"
	pkglogger "github.com/classboard/sentinel/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPolicyService struct {
	policy           *models.SecurityPolicy
	updatePolicyFunc func(ctx context.Context, newPolicy *models.SecurityPolicy, actor string) (*models.SecurityPolicy, error)
}

func (m *mockPolicyService) GetPolicy() *models.SecurityPolicy {
	return m.policy
}

func (m *mockPolicyService) UpdatePolicy(ctx context.Context, newPolicy *models.SecurityPolicy, actor string) (*models.SecurityPolicy, error) {
	return m.updatePolicyFunc(ctx, newPolicy, actor)
}

func newPolicyHandler(service *mockPolicyService) *PolicyHandler {
	return NewPolicyHandler(service, pkglogger.NewSecurityLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func validPolicyDTO() map[string]interface{} {
	return map[string]interface{}{
		"tiers": []map[string]interface{}{
			{"index": 1, "attempt_threshold": 3, "lock_duration_minutes": 1},
			{"index": 2, "attempt_threshold": 5, "lock_duration_minutes": 5},
		},
		"password_min_length":     8,
		"password_require_mixed":  true,
		"password_require_digit":  true,
		"max_concurrent_sessions": 3,
		"session_timeout_minutes": 30,
		"notify_on_lockout":       true,
		"retention_days":          90,
	}
}

func TestGetPolicy_RendersMinuteDurations(t *testing.T) {
	service := &mockPolicyService{policy: models.DefaultSecurityPolicy()}
	handler := newPolicyHandler(service)

	w := httptest.NewRecorder()
	handler.GetPolicy(w, httptest.NewRequest("GET", "/security-policy", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var dto securityPolicyDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dto))
	assert.Equal(t, 1, dto.Version)
	require.Len(t, dto.Tiers, 4)
	assert.Equal(t, 1, dto.Tiers[0].LockDurationMinutes)
	assert.Equal(t, 30, dto.Tiers[3].LockDurationMinutes)
	assert.Equal(t, 30, dto.SessionTimeoutMinutes)
}

func TestUpdatePolicy_Success(t *testing.T) {
	var captured *models.SecurityPolicy
	service := &mockPolicyService{
		policy: models.DefaultSecurityPolicy(),
		updatePolicyFunc: func(ctx context.Context, newPolicy *models.SecurityPolicy, actor string) (*models.SecurityPolicy, error) {
			captured = newPolicy
			newPolicy.Version = 2
			return newPolicy, nil
		},
	}
	handler := newPolicyHandler(service)

	w := httptest.NewRecorder()
	handler.UpdatePolicy(w, httptest.NewRequest("PUT", "/security-policy", jsonBody(t, validPolicyDTO())))

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured)
	require.Len(t, captured.Tiers, 2)
	assert.Equal(t, 5*time.Minute, captured.Tiers[1].LockDuration)

	var dto securityPolicyDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dto))
	assert.Equal(t, 2, dto.Version)
}

func TestUpdatePolicy_ValidationFailureReturns422(t *testing.T) {
	service := &mockPolicyService{
		policy: models.DefaultSecurityPolicy(),
		updatePolicyFunc: func(ctx context.Context, newPolicy *models.SecurityPolicy, actor string) (*models.SecurityPolicy, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	handler := newPolicyHandler(service)

	// Lock duration above the 1440 minute cap
	bad := validPolicyDTO()
	bad["tiers"] = []map[string]interface{}{
		{"index": 1, "attempt_threshold": 3, "lock_duration_minutes": 2000},
	}

	w := httptest.NewRecorder()
	handler.UpdatePolicy(w, httptest.NewRequest("PUT", "/security-policy", jsonBody(t, bad)))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_policy", resp["error"])
}

func TestUpdatePolicy_SemanticRejectionReturns422(t *testing.T) {
	service := &mockPolicyService{
		policy: models.DefaultSecurityPolicy(),
		updatePolicyFunc: func(ctx context.Context, newPolicy *models.SecurityPolicy, actor string) (*models.SecurityPolicy, error) {
			return nil, models.ErrInvalidPolicy
		},
	}
	handler := newPolicyHandler(service)

	// Passes field validation but fails monotonicity in the store
	dto := validPolicyDTO()
	dto["tiers"] = []map[string]interface{}{
		{"index": 1, "attempt_threshold": 5, "lock_duration_minutes": 10},
		{"index": 2, "attempt_threshold": 3, "lock_duration_minutes": 20},
	}

	w := httptest.NewRecorder()
	handler.UpdatePolicy(w, httptest.NewRequest("PUT", "/security-policy", jsonBody(t, dto)))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestUpdatePolicy_MalformedBody(t *testing.T) {
	service := &mockPolicyService{policy: models.DefaultSecurityPolicy()}
	handler := newPolicyHandler(service)

	req := httptest.NewRequest("PUT", "/security-policy", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	handler.UpdatePolicy(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
