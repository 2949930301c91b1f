package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/classboard/sentinel/internal/database"
	"github.com/classboard/sentinel/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PolicyRepository persists the single active security policy as a JSONB
// document. The table holds exactly one row.
type PolicyRepository struct {
	pool *pgxpool.Pool
}

// NewPolicyRepository creates a new PolicyRepository
func NewPolicyRepository(db *database.DB) *PolicyRepository {
	return &PolicyRepository{pool: db.Pool}
}

// Load reads the active policy, or ErrNotFound when none has been saved yet
func (r *PolicyRepository) Load(ctx context.Context) (*models.SecurityPolicy, error) {
	query := `SELECT document FROM security_policy WHERE id = 1`

	var doc []byte
	if err := r.pool.QueryRow(ctx, query).Scan(&doc); err != nil {
		return nil, database.MapPostgresError(err)
	}

	var policy models.SecurityPolicy
	if err := json.Unmarshal(doc, &policy); err != nil {
		return nil, fmt.Errorf("failed to decode stored policy: %w", err)
	}

	return &policy, nil
}

// Save upserts the active policy document
func (r *PolicyRepository) Save(ctx context.Context, policy *models.SecurityPolicy) error {
	doc, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	query := `
		INSERT INTO security_policy (id, document, updated_at)
		VALUES (1, $1, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE
		SET document = EXCLUDED.document, updated_at = CURRENT_TIMESTAMP
	`

	if _, err := r.pool.Exec(ctx, query, doc); err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}
