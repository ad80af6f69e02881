package bus

import (
	"context"
	"encoding/json"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// PublishResult publishes a finished analysis on the completion topic and,
// when the overall risk is High or Critical, on the alert topic as well.
// Both topics carry the same JSON-encoded AnalysisResult payload.
func PublishResult(ctx context.Context, b domain.EventBus, tenantID string, result *domain.AnalysisResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := b.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, payload); err != nil {
		return err
	}
	if result.OverallRiskLevel >= domain.SeverityHigh {
		return b.Publish(ctx, tenantID, domain.TopicAnalysisAlert, payload)
	}
	return nil
}
