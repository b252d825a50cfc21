// Package store persists tenants, device credentials and telemetry in
// PostgreSQL through pgx connection pools.
package store

import (
	"context"
	"time"
)

// Tenant is an isolation boundary owning devices and telemetry. Tenants are
// never mutated after creation; deletion cascades to everything they own.
type Tenant struct {
	ID        int64
	Name      string
	APIKey    string
	CreatedAt time.Time
}

// DeviceCredential is the record a connecting MQTT client authenticates
// against. TokenHash is the salted scrypt verifier; TokenLookup is the
// deterministic peppered digest used as a unique indexed key. The plaintext
// token is never persisted.
type DeviceCredential struct {
	ID          int64
	TenantID    int64
	DeviceID    string
	TokenHash   string
	TokenLookup string
	Name        string
	Labels      []string
	Notes       string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// DeviceCredentialPatch describes a partial update; nil fields are left
// unchanged. Token rotation sets both TokenHash and TokenLookup.
type DeviceCredentialPatch struct {
	TokenHash   *string
	TokenLookup *string
	Name        *string
	Labels      *[]string
	Notes       *string
	ExpiresAt   **time.Time
}

// TelemetryRecord is a single accepted message. Topic is already rewritten
// into the tenant namespace by the broker.
type TelemetryRecord struct {
	ID        int64
	TenantID  int64
	Topic     string
	Payload   string
	Timestamp time.Time
}

// ListOptions paginates listing queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// Listing defaults applied when ListOptions fields are zero or negative.
const (
	DefaultListLimit  = 100
	DefaultListOffset = 0
)

// TenantStore persists tenants. Missing rows are reported as (nil, nil).
type TenantStore interface {
	Create(ctx context.Context, name, apiKey string) (*Tenant, error)
	FindByName(ctx context.Context, name string) (*Tenant, error)
	FindByAPIKey(ctx context.Context, apiKey string) (*Tenant, error)
	Delete(ctx context.Context, id int64) error
}

// DeviceStore persists device credentials. Uniqueness of DeviceID and
// TokenLookup is enforced by the database; violations surface as
// ErrAlreadyExists. Missing rows are reported as (nil, nil).
type DeviceStore interface {
	FindByTokenLookup(ctx context.Context, digest string) (*DeviceCredential, error)
	FindByDeviceID(ctx context.Context, deviceID string) (*DeviceCredential, error)
	Create(ctx context.Context, cred *DeviceCredential) error
	Update(ctx context.Context, id int64, patch DeviceCredentialPatch) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, tenantID int64, opts ListOptions) ([]DeviceCredential, error)
	Count(ctx context.Context, tenantID int64) (int64, error)
}

// TelemetryStore persists accepted messages in batches.
type TelemetryStore interface {
	InsertBatch(ctx context.Context, records []TelemetryRecord) error
	ListRecent(ctx context.Context, tenantID int64, limit int) ([]TelemetryRecord, error)
}
