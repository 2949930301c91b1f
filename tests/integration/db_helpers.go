package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/classboard/sentinel/internal/database"
	"github.com/classboard/sentinel/internal/models"
	"github.com/classboard/sentinel/internal/repositories"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("sentinel"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	dbWrapper := &database.DB{
		Pool: pool,
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         dbWrapper,
	}, nil
}

// runMigrations executes all goose migrations
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	// Suppress goose logs
	goose.SetLogger(log.New(io.Discard, "", 0))

	// Goose needs a database/sql connection, use the stdlib adapter from pgx
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"lockout_audit_log",
		"lockout_records",
		"security_policy",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from database wrapper
func InitializeRepositories(db *database.DB) (
	*repositories.LockoutRecordRepository,
	*repositories.AuditLogRepository,
	*repositories.PolicyRepository,
) {
	return repositories.NewLockoutRecordRepository(db),
		repositories.NewAuditLogRepository(db),
		repositories.NewPolicyRepository(db)
}

// SeedLockoutRecord inserts a lockout record directly, bypassing the engine
func SeedLockoutRecord(ctx context.Context, pool *pgxpool.Pool, accountID string, failedLogins, tier int, lockedUntil *time.Time) (*models.LockoutRecord, error) {
	var reason *string
	if tier > 0 {
		r := string(models.LockReasonFailedLogin)
		reason = &r
	}

	query := `
		INSERT INTO lockout_records (
			account_id, account_name, email, failed_login_attempts,
			failed_password_change_attempts, current_tier, locked_until, lock_reason,
			last_failure_at, history, version
		)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, NOW(), '[]'::jsonb, 1)
		RETURNING account_id, current_tier, version
	`

	var rec models.LockoutRecord
	err := pool.QueryRow(ctx, query,
		accountID,
		"Test Account "+accountID,
		accountID+"@classboard.test",
		failedLogins,
		tier,
		lockedUntil,
		reason,
	).Scan(&rec.AccountID, &rec.CurrentTier, &rec.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to insert lockout record: %w", err)
	}

	return &rec, nil
}

// SeedAuditEntry inserts an audit entry with an explicit timestamp for
// statistics range tests
func SeedAuditEntry(ctx context.Context, pool *pgxpool.Pool, accountID, eventType string, tier int, createdAt time.Time) error {
	query := `
		INSERT INTO lockout_audit_log (
			account_id, event_type, actor, reason, before_tier, after_tier, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	reason := string(models.LockReasonFailedLogin)
	metadata := map[string]interface{}{
		"lock_minutes": 5,
	}

	_, err := pool.Exec(ctx, query,
		accountID, eventType, models.SystemActor, reason, tier-1, tier, metadata, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}
