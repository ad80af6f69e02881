// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAnalysis stores an analysis result with tenant isolation.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, result *domain.AnalysisResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if result.ID == "" {
		return fmt.Errorf("%w: analysis ID is required", ErrInvalidInput)
	}

	patterns, _ := json.Marshal(result.Patterns)
	profiles, _ := json.Marshal(result.HighRiskEntities)
	metadata, _ := json.Marshal(result.Metadata)

	partial := 0
	if result.Partial {
		partial = 1
	}

	query := `
		INSERT INTO analyses (
			id, tenant_id, batch_digest, overall_risk, total_impact,
			partial, patterns, high_risk_entities, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID, result.Metadata.BatchDigest,
		result.OverallRiskLevel.String(), result.TotalEstimatedImpact,
		partial, string(patterns), string(profiles), string(metadata),
		time.Now().UTC(),
	)
	return err
}

// GetAnalysis retrieves an analysis result by ID with tenant isolation.
func (r *SQLRepository) GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*domain.AnalysisResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, overall_risk, total_impact, partial,
			   patterns, high_risk_entities, metadata
		FROM analyses
		WHERE tenant_id = ? AND id = ?
	`

	var result domain.AnalysisResult
	var risk string
	var partial int
	var patterns, profiles, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, analysisID).Scan(
		&result.ID, &risk, &result.TotalEstimatedImpact, &partial,
		&patterns, &profiles, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	result.Partial = partial == 1
	if err := result.OverallRiskLevel.UnmarshalJSON([]byte(`"` + risk + `"`)); err != nil {
		return nil, fmt.Errorf("failed to parse risk level for %s: %w", result.ID, err)
	}
	json.Unmarshal([]byte(patterns), &result.Patterns)
	json.Unmarshal([]byte(profiles), &result.HighRiskEntities)
	json.Unmarshal([]byte(metadata), &result.Metadata)

	return &result, nil
}

// ListAnalyses retrieves analysis results stored since a point in time,
// newest first, with tenant isolation.
func (r *SQLRepository) ListAnalyses(ctx context.Context, tenantID string, since time.Time) ([]*domain.AnalysisResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, overall_risk, total_impact, partial,
			   patterns, high_risk_entities, metadata
		FROM analyses
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.AnalysisResult
	for rows.Next() {
		var result domain.AnalysisResult
		var risk string
		var partial int
		var patterns, profiles, metadata string

		if err := rows.Scan(
			&result.ID, &risk, &result.TotalEstimatedImpact, &partial,
			&patterns, &profiles, &metadata,
		); err != nil {
			return nil, err
		}

		result.Partial = partial == 1
		if err := result.OverallRiskLevel.UnmarshalJSON([]byte(`"` + risk + `"`)); err != nil {
			return nil, fmt.Errorf("failed to parse risk level for %s: %w", result.ID, err)
		}
		json.Unmarshal([]byte(patterns), &result.Patterns)
		json.Unmarshal([]byte(profiles), &result.HighRiskEntities)
		json.Unmarshal([]byte(metadata), &result.Metadata)

		results = append(results, &result)
	}

	return results, rows.Err()
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, target, expression,
			fraud_type, confidence, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			target = excluded.target,
			expression = excluded.expression,
			fraud_type = excluded.fraud_type,
			confidence = excluded.confidence,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Target, rule.Expression,
		string(rule.FraudType), rule.Confidence, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration with tenant isolation.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, target, expression,
			   fraud_type, confidence, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.RuleConfig
	var fraudType string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Target, &cfg.Expression,
		&fraudType, &cfg.Confidence, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.FraudType = domain.FraudType(fraudType)
	cfg.Enabled = enabled == 1

	return &cfg, nil
}

// ListRuleConfigs retrieves all active rule configurations for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, target, expression,
			   fraud_type, confidence, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var fraudType string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Target, &cfg.Expression,
			&fraudType, &cfg.Confidence, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.FraudType = domain.FraudType(fraudType)
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
