package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgDeviceStore is the PostgreSQL implementation of DeviceStore.
type PgDeviceStore struct {
	pool *pgxpool.Pool
}

var _ DeviceStore = (*PgDeviceStore)(nil)

func NewDeviceStore(pool *pgxpool.Pool) *PgDeviceStore {
	return &PgDeviceStore{pool: pool}
}

const deviceColumns = `id, tenant_id, device_id, token_hash, token_lookup, name, labels, notes, expires_at, created_at`

func (s *PgDeviceStore) FindByTokenLookup(ctx context.Context, digest string) (*DeviceCredential, error) {
	return s.findBy(ctx, `SELECT `+deviceColumns+` FROM device_credentials WHERE token_lookup = $1`, digest)
}

func (s *PgDeviceStore) FindByDeviceID(ctx context.Context, deviceID string) (*DeviceCredential, error) {
	return s.findBy(ctx, `SELECT `+deviceColumns+` FROM device_credentials WHERE device_id = $1`, deviceID)
}

func (s *PgDeviceStore) findBy(ctx context.Context, query string, arg any) (*DeviceCredential, error) {
	row := s.pool.QueryRow(ctx, query, arg)
	cred, err := scanDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device credential: %w", err)
	}
	return cred, nil
}

func scanDevice(row pgx.Row) (*DeviceCredential, error) {
	cred := &DeviceCredential{}
	var labels []string
	var notes *string
	err := row.Scan(&cred.ID, &cred.TenantID, &cred.DeviceID, &cred.TokenHash,
		&cred.TokenLookup, &cred.Name, &labels, &notes, &cred.ExpiresAt, &cred.CreatedAt)
	if err != nil {
		return nil, err
	}
	cred.Labels = labels
	if notes != nil {
		cred.Notes = *notes
	}
	return cred, nil
}

// Create inserts a credential and fills in ID and CreatedAt. Uniqueness
// violations on device_id or token_lookup surface as ErrAlreadyExists.
func (s *PgDeviceStore) Create(ctx context.Context, cred *DeviceCredential) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO device_credentials (tenant_id, device_id, token_hash, token_lookup, name, labels, notes, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		cred.TenantID, cred.DeviceID, cred.TokenHash, cred.TokenLookup,
		cred.Name, cred.Labels, nullableString(cred.Notes), cred.ExpiresAt,
	).Scan(&cred.ID, &cred.CreatedAt)
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, ErrAlreadyExists) {
			return mapped
		}
		return fmt.Errorf("failed to insert device credential: %w", err)
	}
	return nil
}

// Update applies the non-nil fields of patch. Token rotation passes both
// TokenHash and TokenLookup; live MQTT sessions are not affected, only new
// CONNECTs resolve against the rotated credential.
func (s *PgDeviceStore) Update(ctx context.Context, id int64, patch DeviceCredentialPatch) error {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if patch.TokenHash != nil {
		add("token_hash", *patch.TokenHash)
	}
	if patch.TokenLookup != nil {
		add("token_lookup", *patch.TokenLookup)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Labels != nil {
		add("labels", *patch.Labels)
	}
	if patch.Notes != nil {
		add("notes", nullableString(*patch.Notes))
	}
	if patch.ExpiresAt != nil {
		add("expires_at", *patch.ExpiresAt)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := `UPDATE device_credentials SET ` + strings.Join(sets, ", ") +
		` WHERE id = $` + strconv.Itoa(len(args))

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if mapped := mapError(err); errors.Is(mapped, ErrAlreadyExists) {
			return mapped
		}
		return fmt.Errorf("failed to update device credential: %w", err)
	}
	return nil
}

func (s *PgDeviceStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM device_credentials WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete device credential: %w", err)
	}
	return nil
}

func (s *PgDeviceStore) List(ctx context.Context, tenantID int64, opts ListOptions) ([]DeviceCredential, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = DefaultListOffset
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+deviceColumns+` FROM device_credentials
		 WHERE tenant_id = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list device credentials: %w", err)
	}
	defer rows.Close()

	var creds []DeviceCredential
	for rows.Next() {
		cred, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device credential: %w", err)
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device credentials: %w", err)
	}
	return creds, nil
}

func (s *PgDeviceStore) Count(ctx context.Context, tenantID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM device_credentials WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count device credentials: %w", err)
	}
	return n, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
