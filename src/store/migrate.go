package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema statements, applied in order. All are idempotent so EnsureSchema
// can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		api_key TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS tenants_name_idx ON tenants (name)`,
	`CREATE INDEX IF NOT EXISTS tenants_api_key_idx ON tenants (api_key)`,

	`CREATE TABLE IF NOT EXISTS device_credentials (
		id BIGSERIAL PRIMARY KEY,
		tenant_id BIGINT NOT NULL REFERENCES tenants (id) ON DELETE CASCADE,
		device_id TEXT NOT NULL UNIQUE,
		token_hash TEXT NOT NULL,
		token_lookup TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		labels TEXT[],
		notes TEXT,
		expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS device_credentials_device_id_idx ON device_credentials (device_id)`,
	`CREATE INDEX IF NOT EXISTS device_credentials_token_lookup_idx ON device_credentials (token_lookup)`,
	`CREATE INDEX IF NOT EXISTS device_credentials_tenant_id_idx ON device_credentials (tenant_id)`,

	`CREATE TABLE IF NOT EXISTS telemetry (
		id BIGSERIAL PRIMARY KEY,
		tenant_id BIGINT NOT NULL REFERENCES tenants (id) ON DELETE CASCADE,
		topic TEXT NOT NULL,
		payload TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS telemetry_timestamp_idx ON telemetry (timestamp)`,
	`CREATE INDEX IF NOT EXISTS telemetry_topic_idx ON telemetry (topic)`,
	`CREATE INDEX IF NOT EXISTS telemetry_tenant_id_idx ON telemetry (tenant_id)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
