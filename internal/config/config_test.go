package config

import (
	"testing"
	"time"
)

func TestLoad_LockoutDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if !cfg.Lockout.ReaperEnabled {
		t.Error("ReaperEnabled: got false, want true")
	}
	if cfg.Lockout.ReaperInterval != 5*time.Minute {
		t.Errorf("ReaperInterval: got %v, want 5m", cfg.Lockout.ReaperInterval)
	}
	if cfg.Lockout.BulkWorkers != 8 {
		t.Errorf("BulkWorkers: got %d, want 8", cfg.Lockout.BulkWorkers)
	}
	if cfg.Lockout.StatsCacheTTL != 30*time.Second {
		t.Errorf("StatsCacheTTL: got %v, want 30s", cfg.Lockout.StatsCacheTTL)
	}
}

func TestLoad_LockoutCustomValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
	t.Setenv("LOCKOUT_REAPER_ENABLED", "false")
	t.Setenv("LOCKOUT_REAPER_INTERVAL", "1m")
	t.Setenv("LOCKOUT_BULK_WORKERS", "4")
	t.Setenv("LOCKOUT_NOTIFY_QUEUE_SIZE", "32")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Lockout.ReaperEnabled {
		t.Error("ReaperEnabled: got true, want false")
	}
	if cfg.Lockout.ReaperInterval != time.Minute {
		t.Errorf("ReaperInterval: got %v, want 1m", cfg.Lockout.ReaperInterval)
	}
	if cfg.Lockout.BulkWorkers != 4 {
		t.Errorf("BulkWorkers: got %d, want 4", cfg.Lockout.BulkWorkers)
	}
	if cfg.Lockout.NotifyQueueSize != 32 {
		t.Errorf("NotifyQueueSize: got %d, want 32", cfg.Lockout.NotifyQueueSize)
	}
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_PASSWORD", "test")

	if _, err := Load(); err == nil {
		t.Error("Load() = nil, want error for missing JWT_SECRET")
	}
}

func TestLoad_RequiresDBPassword(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "")

	if _, err := Load(); err == nil {
		t.Error("Load() = nil, want error for missing DB_PASSWORD")
	}
}

func TestLoad_ZeroBulkWorkersRejected(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
	t.Setenv("LOCKOUT_BULK_WORKERS", "0")

	if _, err := Load(); err == nil {
		t.Error("Load() = nil, want error for zero bulk workers")
	}
}

func TestValidateJWTSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		env     string
		wantErr bool
	}{
		{"strong secret development", "0123456789abcdef", "development", false},
		{"too short development", "short", "development", true},
		{"16 chars production", "0123456789abcdef", "production", true},
		{"32 chars production", "0123456789abcdef0123456789abcdef", "production", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateJWTSecret(tt.secret, tt.env)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateJWTSecret(%q, %q) = %v, wantErr %v", tt.secret, tt.env, err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "pw",
		Name:     "sentinel",
		SSLMode:  "disable",
	}

	want := "host=localhost port=5432 user=postgres password=pw dbname=sentinel sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
