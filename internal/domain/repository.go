package domain

import (
	"context"
	"time"
)

// Repository defines the interface for analysis-result persistence.
// The detection engine itself is stateless; persistence is a service-shell
// concern used for audit retrieval of asynchronously submitted batches.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Analysis results
	SaveAnalysis(ctx context.Context, tenantID string, result *AnalysisResult) error
	GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*AnalysisResult, error)
	ListAnalyses(ctx context.Context, tenantID string, since time.Time) ([]*AnalysisResult, error)

	// Custom rule configuration (CEL overlay)
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
