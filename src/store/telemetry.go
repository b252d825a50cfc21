package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgTelemetryStore is the PostgreSQL implementation of TelemetryStore.
type PgTelemetryStore struct {
	pool *pgxpool.Pool
}

var _ TelemetryStore = (*PgTelemetryStore)(nil)

func NewTelemetryStore(pool *pgxpool.Pool) *PgTelemetryStore {
	return &PgTelemetryStore{pool: pool}
}

// InsertBatch writes records in a single queued batch round-trip. Insertion
// order within the batch is preserved.
func (s *PgTelemetryStore) InsertBatch(ctx context.Context, records []TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(
			`INSERT INTO telemetry (tenant_id, topic, payload, timestamp) VALUES ($1, $2, $3, $4)`,
			rec.TenantID, rec.Topic, rec.Payload, rec.Timestamp,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert telemetry batch: %w", err)
		}
	}
	return nil
}

// ListRecent returns the newest records for a tenant, newest first.
func (s *PgTelemetryStore) ListRecent(ctx context.Context, tenantID int64, limit int) ([]TelemetryRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, topic, payload, timestamp FROM telemetry
		 WHERE tenant_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list telemetry: %w", err)
	}
	defer rows.Close()

	var records []TelemetryRecord
	for rows.Next() {
		var rec TelemetryRecord
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Topic, &rec.Payload, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating telemetry records: %w", err)
	}
	return records, nil
}
