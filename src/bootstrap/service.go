// Package bootstrap implements the tenant bootstrap protocol: a
// time-limited peppered token gates tenant creation and yields the tenant's
// long-lived API key.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandrolain/tenant-broker/src/store"
	"github.com/sandrolain/tenant-broker/src/tokenhash"
)

// Failure taxonomy surfaced distinctly to the HTTP caller.
var (
	ErrMalformed     = errors.New("malformed input")
	ErrUnauthorized  = errors.New("bootstrap token not authorized")
	ErrAlreadyExists = errors.New("tenant already exists")
	ErrRateLimited   = errors.New("rate limited")
)

// Rate limit defaults: successful creations per client key per window.
const (
	DefaultRateLimit  = 5
	DefaultRateWindow = time.Minute
)

// TenantCreator is the slice of the tenant store the service needs.
type TenantCreator interface {
	Create(ctx context.Context, name, apiKey string) (*store.Tenant, error)
	FindByName(ctx context.Context, name string) (*store.Tenant, error)
}

// Options configures the bootstrap service.
type Options struct {
	Tenants TenantCreator
	Pepper  string

	// RateLimit / RateWindow bound successful creations per client key.
	// Zero values take the defaults.
	RateLimit  int
	RateWindow time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service validates bootstrap requests and creates tenants.
type Service struct {
	tenants TenantCreator
	pepper  string
	limiter *rateLimiter
	now     func() time.Time
	log     *slog.Logger
}

func NewService(opts Options) (*Service, error) {
	if opts.Tenants == nil {
		return nil, fmt.Errorf("tenant store is required")
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = DefaultRateWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		tenants: opts.Tenants,
		pepper:  opts.Pepper,
		limiter: newRateLimiter(opts.RateLimit, opts.RateWindow),
		now:     opts.Now,
		log:     slog.Default().With("context", "Bootstrap"),
	}, nil
}

// CreateTenant validates the name grammar and the bootstrap token, then
// inserts the tenant with a fresh API key. clientKey identifies the caller
// for rate limiting, typically the remote IP.
func (s *Service) CreateTenant(ctx context.Context, name, token, clientKey string) (*store.Tenant, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	now := s.now()
	if err := verifyToken(name, s.pepper, token, now); err != nil {
		return nil, err
	}

	if !s.limiter.allow(clientKey, now) {
		return nil, fmt.Errorf("%w: too many tenants created by %s", ErrRateLimited, clientKey)
	}

	// Early duplicate check for a friendly error; the unique index still
	// decides races.
	existing, err := s.tenants.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check tenant name: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	apiKey, err := tokenhash.NewAPIKey()
	if err != nil {
		return nil, err
	}

	tenant, err := s.tenants.Create(ctx, name, apiKey)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	s.limiter.record(clientKey, now)
	s.log.Info("tenant created", "tenant", tenant.ID, "name", tenant.Name)
	return tenant, nil
}
