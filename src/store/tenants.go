package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgTenantStore is the PostgreSQL implementation of TenantStore.
type PgTenantStore struct {
	pool *pgxpool.Pool
}

var _ TenantStore = (*PgTenantStore)(nil)

func NewTenantStore(pool *pgxpool.Pool) *PgTenantStore {
	return &PgTenantStore{pool: pool}
}

func (s *PgTenantStore) Create(ctx context.Context, name, apiKey string) (*Tenant, error) {
	t := &Tenant{Name: name, APIKey: apiKey}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (name, api_key) VALUES ($1, $2) RETURNING id, created_at`,
		name, apiKey,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, ErrAlreadyExists) {
			return nil, mapped
		}
		return nil, fmt.Errorf("failed to insert tenant: %w", err)
	}
	return t, nil
}

func (s *PgTenantStore) FindByName(ctx context.Context, name string) (*Tenant, error) {
	return s.findBy(ctx, `SELECT id, name, api_key, created_at FROM tenants WHERE name = $1`, name)
}

func (s *PgTenantStore) FindByAPIKey(ctx context.Context, apiKey string) (*Tenant, error) {
	return s.findBy(ctx, `SELECT id, name, api_key, created_at FROM tenants WHERE api_key = $1`, apiKey)
}

func (s *PgTenantStore) findBy(ctx context.Context, query string, arg any) (*Tenant, error) {
	t := &Tenant{}
	err := s.pool.QueryRow(ctx, query, arg).Scan(&t.ID, &t.Name, &t.APIKey, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant: %w", err)
	}
	return t, nil
}

// Delete removes a tenant. Devices and telemetry cascade at the database
// level.
func (s *PgTenantStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	return nil
}
