package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/classboard/sentinel/internal/auth"
	"github.com/classboard/sentinel/internal/config"
	"github.com/classboard/sentinel/internal/database"
	"github.com/classboard/sentinel/internal/handlers"
	middlewareCustom "github.com/classboard/sentinel/internal/middleware"
	"github.com/classboard/sentinel/internal/routes"
	"github.com/classboard/sentinel/internal/services"
	pkglogger "github.com/classboard/sentinel/pkg/logger"
)

// CapturedAlert records one notification the engine tried to deliver
type CapturedAlert struct {
	Kind      services.AlertKind
	AccountID string
	Email     string
	Actor     string
	Tier      int
}

// MockNotifier captures notifications for test assertions
type MockNotifier struct {
	Alerts []CapturedAlert
	mu     sync.Mutex
}

func (m *MockNotifier) NotifyLockout(accountID, email, name string, tier int, lockedUntil time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, CapturedAlert{
		Kind:      services.AlertLockout,
		AccountID: accountID,
		Email:     email,
		Tier:      tier,
	})
}

func (m *MockNotifier) NotifyUnlock(accountID, email, name, actor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, CapturedAlert{
		Kind:      services.AlertUnlock,
		AccountID: accountID,
		Email:     email,
		Actor:     actor,
	})
}

// GetLastAlert returns the most recent captured alert
func (m *MockNotifier) GetLastAlert() *CapturedAlert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Alerts) == 0 {
		return nil
	}
	return &m.Alerts[len(m.Alerts)-1]
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server   *httptest.Server
	Pool     *database.DB
	Notifier *MockNotifier
	Config   *config.Config

	// Dependency references for inspection in tests
	Engine       *services.LockoutEngine
	PolicyStore  *services.PolicyStore
	TokenManager *auth.TokenManager
	logger       *slog.Logger
}

// NewTestServer initializes a complete HTTP server with real database + mocked notifications
func NewTestServer(ctx context.Context, db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:         "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry: 15 * time.Minute,
		},
		Lockout: config.LockoutConfig{
			ReaperEnabled:   false,
			BulkWorkers:     4,
			StatsCacheTTL:   time.Second,
			NotifyQueueSize: 16,
			NotifyTimeout:   time.Second,
		},
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
		},
	}

	ledgerRepo, auditRepo, policyRepo := InitializeRepositories(db)

	policyStore := services.NewPolicyStore(policyRepo, auditRepo, logger)
	if err := policyStore.Bootstrap(ctx); err != nil {
		return nil, err
	}

	mockNotifier := &MockNotifier{}

	engine := services.NewLockoutEngine(ledgerRepo, auditRepo, policyStore, mockNotifier, logger, cfg.Lockout.BulkWorkers)
	statsService := services.NewStatsService(auditRepo, ledgerRepo, policyStore, logger, cfg.Lockout.StatsCacheTTL)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	securityLogger := pkglogger.NewSecurityLogger(logger)
	lockoutHandler := handlers.NewLockoutHandler(engine, policyStore, securityLogger)
	statsHandler := handlers.NewStatsHandler(statsService)
	policyHandler := handlers.NewPolicyHandler(policyStore, securityLogger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, lockoutHandler, statsHandler, policyHandler, tokenManager)

	server := httptest.NewServer(r)

	return &TestServer{
		Server:       server,
		Pool:         db,
		Notifier:     mockNotifier,
		Config:       cfg,
		Engine:       engine,
		PolicyStore:  policyStore,
		TokenManager: tokenManager,
		logger:       logger,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// AdminToken issues a token with the admin role for authenticated requests
func (ts *TestServer) AdminToken() (string, error) {
	return ts.TokenManager.GenerateToken("admin-test", "admin")
}

// ServiceToken issues a non-admin token, as an upstream auth service would hold
func (ts *TestServer) ServiceToken() (string, error) {
	return ts.TokenManager.GenerateToken("auth-service", "service")
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetErrorMessage extracts error message from error response
func GetErrorMessage(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if msg, ok := errResp["message"].(string); ok {
		return msg, nil
	}
	return "", nil
}
