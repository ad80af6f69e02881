package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetAnalysis", func(t *testing.T) {
		result := &domain.AnalysisResult{
			ID: "an-001",
			Patterns: []domain.Pattern{
				{
					ID:              "pat-abc",
					FraudType:       domain.FraudBidRigging,
					Severity:        domain.SeverityHigh,
					Confidence:      0.8,
					Entities:        []string{"v-001", "v-002"},
					EstimatedImpact: 30000,
				},
			},
			HighRiskEntities: []domain.EntityRiskProfile{
				{EntityID: "v-001", AggregatedRiskScore: 8.0, FraudTypes: []domain.FraudType{domain.FraudBidRigging}, TotalEstimatedImpact: 30000},
			},
			OverallRiskLevel:     domain.SeverityHigh,
			TotalEstimatedImpact: 30000,
			Metadata: domain.AnalysisMetadata{
				BatchDigest:     "digest-001",
				RecordsAnalyzed: 3,
				DetectorsRun:    2,
				EngineVersion:   "kestrel-1.0",
			},
		}

		if err := repo.SaveAnalysis(ctx, tenantID, result); err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}

		retrieved, err := repo.GetAnalysis(ctx, tenantID, result.ID)
		if err != nil {
			t.Fatalf("GetAnalysis failed: %v", err)
		}

		if retrieved.ID != result.ID {
			t.Errorf("expected ID %s, got %s", result.ID, retrieved.ID)
		}
		if retrieved.OverallRiskLevel != domain.SeverityHigh {
			t.Errorf("expected risk level high, got %s", retrieved.OverallRiskLevel)
		}
		if retrieved.TotalEstimatedImpact != result.TotalEstimatedImpact {
			t.Errorf("expected impact %.2f, got %.2f", result.TotalEstimatedImpact, retrieved.TotalEstimatedImpact)
		}
		if len(retrieved.Patterns) != 1 {
			t.Fatalf("expected 1 pattern, got %d", len(retrieved.Patterns))
		}
		if retrieved.Patterns[0].FraudType != domain.FraudBidRigging {
			t.Errorf("expected fraud type bid_rigging, got %s", retrieved.Patterns[0].FraudType)
		}
		if len(retrieved.HighRiskEntities) != 1 || retrieved.HighRiskEntities[0].EntityID != "v-001" {
			t.Errorf("unexpected high-risk entities: %+v", retrieved.HighRiskEntities)
		}
		if retrieved.Metadata.BatchDigest != "digest-001" {
			t.Errorf("expected batch digest digest-001, got %s", retrieved.Metadata.BatchDigest)
		}
	})

	t.Run("ListAnalyses", func(t *testing.T) {
		second := &domain.AnalysisResult{
			ID:               "an-002",
			OverallRiskLevel: domain.SeverityLow,
			Metadata:         domain.AnalysisMetadata{EngineVersion: "kestrel-1.0"},
		}
		if err := repo.SaveAnalysis(ctx, tenantID, second); err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}

		since := time.Now().UTC().Add(-1 * time.Hour)
		results, err := repo.ListAnalyses(ctx, tenantID, since)
		if err != nil {
			t.Fatalf("ListAnalyses failed: %v", err)
		}
		if len(results) != 2 {
			t.Errorf("expected 2 analyses, got %d", len(results))
		}

		future := time.Now().UTC().Add(1 * time.Hour)
		results, err = repo.ListAnalyses(ctx, tenantID, future)
		if err != nil {
			t.Fatalf("ListAnalyses failed: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("expected 0 analyses since future cutoff, got %d", len(results))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		otherTenant := "tenant-002"

		_, err := repo.GetAnalysis(ctx, otherTenant, "an-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		result := &domain.AnalysisResult{ID: "an-test"}

		err := repo.SaveAnalysis(ctx, "", result)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = repo.GetAnalysis(ctx, "", "an-001")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("RequiresAnalysisID", func(t *testing.T) {
		err := repo.SaveAnalysis(ctx, tenantID, &domain.AnalysisResult{})
		if err == nil {
			t.Error("expected error for empty analysis ID")
		}
	})

	t.Run("SaveAndGetRuleConfig", func(t *testing.T) {
		rule := &domain.RuleConfig{
			ID:          "rule-001",
			Name:        "large-contract",
			Description: "flags unusually large contracts",
			Version:     "1",
			Target:      domain.RuleTargetContract,
			Expression:  "amount > 1000000.0",
			FraudType:   domain.FraudInvoiceFraud,
			Confidence:  0.6,
			Enabled:     true,
		}

		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		retrieved, err := repo.GetRuleConfig(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}

		if retrieved.Expression != rule.Expression {
			t.Errorf("expected expression %q, got %q", rule.Expression, retrieved.Expression)
		}
		if retrieved.Target != domain.RuleTargetContract {
			t.Errorf("expected target contract, got %s", retrieved.Target)
		}
		if retrieved.FraudType != domain.FraudInvoiceFraud {
			t.Errorf("expected fraud type invoice_fraud, got %s", retrieved.FraudType)
		}
		if retrieved.Confidence != 0.6 {
			t.Errorf("expected confidence 0.6, got %.2f", retrieved.Confidence)
		}
	})

	t.Run("UpsertRuleConfig", func(t *testing.T) {
		rule := &domain.RuleConfig{
			ID:         "rule-001",
			Name:       "large-contract",
			Version:    "1",
			Target:     domain.RuleTargetContract,
			Expression: "amount > 2000000.0",
			FraudType:  domain.FraudInvoiceFraud,
			Confidence: 0.7,
			Enabled:    true,
		}

		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig upsert failed: %v", err)
		}

		retrieved, err := repo.GetRuleConfig(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if retrieved.Expression != "amount > 2000000.0" {
			t.Errorf("expected updated expression, got %q", retrieved.Expression)
		}
	})

	t.Run("ListRuleConfigs", func(t *testing.T) {
		configs, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(configs) != 1 {
			t.Errorf("expected 1 rule config, got %d", len(configs))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetAnalysis(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetRuleConfig(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
