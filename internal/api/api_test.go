package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// createTestServer creates a server with an engine and a rule overlay, but
// without storage, cache or bus: the analysis path works fully in-memory.
func createTestServer() *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	overlay, _ := rules.NewEngine()
	eng := engine.New(engine.WithOverlay(overlay))

	engineCfg := domain.EngineConfig{
		MaxWorkers:       9,
		MaxBatchRecords:  100,
		DefaultTimeoutMs: 5000,
	}

	return NewServer(cfg, nil, nil, nil, eng, overlay, engineCfg, "test-v1")
}

func postJSON(t *testing.T, server *Server, path string, body interface{}, tenant string) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestAnalyzeEndpoint(t *testing.T) {
	server := createTestServer()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("SuccessfulAnalysis", func(t *testing.T) {
		reqBody := AnalyzeRequest{
			Contracts: []domain.Contract{
				{ID: "c-1", BiddingProcessID: "bp-1", BidAmount: 100000, VendorID: "v-1", ContractDate: base},
				{ID: "c-2", BiddingProcessID: "bp-1", BidAmount: 101000, VendorID: "v-2", ContractDate: base},
			},
		}

		rr := postJSON(t, server, "/analyze", reqBody, "tenant-001")

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.AnalysisResult
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.ID == "" {
			t.Error("expected id in response")
		}
		if resp.Metadata.EngineVersion != engine.Version {
			t.Errorf("expected engine version %s, got %s", engine.Version, resp.Metadata.EngineVersion)
		}
		if resp.Metadata.BatchDigest == "" {
			t.Error("expected batchDigest in metadata")
		}
		if resp.Metadata.RecordsAnalyzed != 2 {
			t.Errorf("expected 2 records analyzed, got %d", resp.Metadata.RecordsAnalyzed)
		}
		// Two bids within 1% of each other flag bid rigging.
		if resp.OverallRiskLevel != domain.SeverityHigh {
			t.Errorf("expected high risk, got %s", resp.OverallRiskLevel)
		}
	})

	t.Run("EmptyBatchLowRisk", func(t *testing.T) {
		rr := postJSON(t, server, "/analyze", AnalyzeRequest{}, "tenant-001")

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp domain.AnalysisResult
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.OverallRiskLevel != domain.SeverityLow {
			t.Errorf("expected low risk, got %s", resp.OverallRiskLevel)
		}
		if resp.Patterns == nil {
			t.Error("expected patterns array, not null")
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := postJSON(t, server, "/analyze", AnalyzeRequest{}, "")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("OversizeBatchRejected", func(t *testing.T) {
		var reqBody AnalyzeRequest
		for i := 0; i < 101; i++ {
			reqBody.Transactions = append(reqBody.Transactions, domain.Transaction{
				PayerID:     "p",
				RecipientID: "r",
				Amount:      float64(i),
				Timestamp:   base,
			})
		}

		rr := postJSON(t, server, "/analyze", reqBody, "tenant-001")

		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d", rr.Code)
		}
	})

	t.Run("ThresholdOverrides", func(t *testing.T) {
		// With a raised similarity bar the same near-identical bids pass.
		cfg := domain.DefaultThresholds()
		cfg.BidSimilarityThreshold = 0.9999

		reqBody := AnalyzeRequest{
			Contracts: []domain.Contract{
				{ID: "c-1", BiddingProcessID: "bp-1", BidAmount: 100000, VendorID: "v-1", ContractDate: base},
				{ID: "c-2", BiddingProcessID: "bp-1", BidAmount: 101000, VendorID: "v-2", ContractDate: base},
			},
			Thresholds: &cfg,
		}

		rr := postJSON(t, server, "/analyze", reqBody, "tenant-001")

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp domain.AnalysisResult
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.Patterns) != 0 {
			t.Errorf("expected no patterns with the raised threshold, got %d", len(resp.Patterns))
		}
	})

	t.Run("PartialThresholdOverride", func(t *testing.T) {
		// A thresholds object naming only one field merges over the
		// defaults: structuring still fires on the default reporting
		// threshold even though the body never mentions it.
		body := map[string]interface{}{
			"transactions": []domain.Transaction{
				{PayerID: "shell-co", RecipientID: "vendor-x", Amount: 9100, Timestamp: base},
				{PayerID: "shell-co", RecipientID: "vendor-x", Amount: 9300, Timestamp: base.Add(1 * time.Hour)},
				{PayerID: "shell-co", RecipientID: "vendor-x", Amount: 9500, Timestamp: base.Add(2 * time.Hour)},
				{PayerID: "shell-co", RecipientID: "vendor-x", Amount: 9700, Timestamp: base.Add(3 * time.Hour)},
				{PayerID: "shell-co", RecipientID: "vendor-x", Amount: 9800, Timestamp: base.Add(4 * time.Hour)},
			},
			"thresholds": map[string]float64{"bidSimilarityThreshold": 0.99},
		}

		rr := postJSON(t, server, "/analyze", body, "tenant-001")

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.AnalysisResult
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		found := false
		for _, p := range resp.Patterns {
			if p.FraudType == domain.FraudMoneyLaundering {
				found = true
			}
		}
		if !found {
			t.Error("expected structuring pattern with a partial threshold override")
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := postJSON(t, server, "/analyze", AnalyzeRequest{}, "tenant-001")

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestSubmitBatchEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("BusUnavailable", func(t *testing.T) {
		rr := postJSON(t, server, "/batches", AnalyzeRequest{}, "tenant-001")

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503 without a bus, got %d", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer()

	t.Run("CreateRule", func(t *testing.T) {
		reqBody := CreateRuleRequest{
			ID:         "large-invoice",
			Name:       "Large Invoice",
			Target:     domain.RuleTargetInvoice,
			Expression: "amount > 100000.0",
			FraudType:  domain.FraudInvoiceFraud,
			Confidence: 0.7,
			Enabled:    true,
		}

		rr := postJSON(t, server, "/rules", reqBody, "tenant-001")

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateRuleInvalidExpression", func(t *testing.T) {
		reqBody := CreateRuleRequest{
			ID:         "broken",
			Name:       "Broken",
			Target:     domain.RuleTargetInvoice,
			Expression: "amount >",
			FraudType:  domain.FraudInvoiceFraud,
			Confidence: 0.7,
			Enabled:    true,
		}

		rr := postJSON(t, server, "/rules", reqBody, "tenant-001")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for a bad expression, got %d", rr.Code)
		}
	})

	t.Run("CreateRuleMissingFields", func(t *testing.T) {
		rr := postJSON(t, server, "/rules", CreateRuleRequest{ID: "x"}, "tenant-001")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for missing fields, got %d", rr.Code)
		}
	})

	t.Run("ListRules", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Rules []domain.RuleConfig `json:"rules"`
			Count int                 `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 || len(resp.Rules) != 1 {
			t.Errorf("expected the created rule listed, got count %d", resp.Count)
		}
	})

	t.Run("GetRule", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules/large-invoice", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var rule domain.RuleConfig
		if err := json.Unmarshal(rr.Body.Bytes(), &rule); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if rule.ID != "large-invoice" {
			t.Errorf("expected rule large-invoice, got %s", rule.ID)
		}
	})

	t.Run("GetRuleNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules/no-such-rule", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestGetAnalysisEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("RepositoryUnavailable", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/analyses/some-id", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503 without a repository, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("RequestCountMiddlewareCountsPerTenant", func(t *testing.T) {
		store := cache.NewLRUCache(100)
		defer store.Close()

		handler := TenantMiddleware(RequestCountMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

		serve := func(tenant string) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Tenant-ID", tenant)
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}

		serve("tenant-a")
		serve("tenant-a")
		serve("tenant-b")

		// IncrementCounter returns previous count + 1, so it doubles as
		// the read path here.
		if n, _ := store.IncrementCounter(context.Background(), "tenant-a", "requests", RequestCountWindow); n != 3 {
			t.Errorf("expected counter 3 for tenant-a after 2 requests, got %d", n)
		}
		if n, _ := store.IncrementCounter(context.Background(), "tenant-b", "requests", RequestCountWindow); n != 2 {
			t.Errorf("expected counter 2 for tenant-b after 1 request, got %d", n)
		}
	})

	t.Run("RequestCountMiddlewareNilCache", func(t *testing.T) {
		handler := RequestCountMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200 without a cache, got %d", rr.Code)
		}
	})
}

func TestAnalysisCacheKey(t *testing.T) {
	batch := &domain.Batch{
		Invoices: []domain.Invoice{{VendorID: "v-1", Amount: 100, InvoiceNumber: "I-1"}},
	}
	cfg := domain.DefaultThresholds()

	k1 := analysisCacheKey(batch, cfg)
	k2 := analysisCacheKey(batch, cfg)
	if k1 != k2 {
		t.Error("cache key not stable for identical input")
	}

	cfg.ReportingThreshold = 5000
	if k1 == analysisCacheKey(batch, cfg) {
		t.Error("different thresholds produced the same cache key")
	}
}
