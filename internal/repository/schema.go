package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    batch_digest TEXT,
    overall_risk TEXT NOT NULL,
    total_impact REAL NOT NULL DEFAULT 0,
    partial INTEGER NOT NULL DEFAULT 0,
    patterns TEXT NOT NULL,
    high_risk_entities TEXT NOT NULL,
    metadata TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_analyses_tenant ON analyses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_analyses_digest ON analyses(tenant_id, batch_digest);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    target TEXT NOT NULL,
    expression TEXT NOT NULL,
    fraud_type TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0.5,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAnalyses,
		schemaRuleConfigs,
	}
}
