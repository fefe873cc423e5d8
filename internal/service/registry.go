package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"payments-service/internal/config"
	"payments-service/internal/model"
)

const (
	credentialBytes   = 32
	maxDisplayNameLen = 100
)

// Registry resolves API credentials to active tenants and owns the default
// intake bucket.
type Registry struct {
	tenants TenantStore
	cache   TenantCache
	cfg     config.Intake
	logger  *slog.Logger

	mu     sync.Mutex
	bucket *model.Tenant
}

func NewRegistry(tenants TenantStore, cache TenantCache, cfg config.Intake, logger *slog.Logger) *Registry {
	if cache == nil {
		cache = noCache{}
	}
	return &Registry{tenants: tenants, cache: cache, cfg: cfg, logger: logger}
}

// Resolve returns the active tenant holding credential. Unknown, inactive and
// empty credentials all yield model.ErrUnauthorized.
func (r *Registry) Resolve(ctx context.Context, credential string) (*model.Tenant, error) {
	if credential == "" {
		return nil, errors.Wrap(model.ErrUnauthorized, "missing credential")
	}
	if t, ok := r.cache.Get(ctx, credential); ok {
		return t, nil
	}

	t, err := r.tenants.GetActiveByCredential(ctx, credential)
	if errors.Is(err, model.ErrNotFound) {
		return nil, errors.Wrap(model.ErrUnauthorized, "unknown or inactive credential")
	}
	if err != nil {
		return nil, errors.Wrap(err, "resolve tenant")
	}

	r.cache.Set(ctx, credential, t)
	return t, nil
}

// EnsureDefaultBucket creates the default intake bucket if it does not exist
// yet and returns it. The result is memoized after the first success.
func (r *Registry) EnsureDefaultBucket(ctx context.Context) (*model.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bucket != nil {
		return r.bucket, nil
	}

	credential := r.cfg.DefaultBucketCredential
	if credential == "" {
		generated, err := NewCredential()
		if err != nil {
			return nil, err
		}
		credential = generated
	}

	bucket, err := r.tenants.EnsureTenant(ctx, &model.Tenant{
		ID:          model.DefaultBucketID,
		DisplayName: r.cfg.DefaultBucketName,
		Credential:  credential,
		Active:      true,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "ensure default bucket")
	}

	r.logger.InfoContext(ctx, "Default intake bucket ready", "tenantId", bucket.ID, "name", bucket.DisplayName)
	r.bucket = bucket
	return bucket, nil
}

// CreateTenant registers a new active tenant. An empty credential is replaced
// by a generated one.
func (r *Registry) CreateTenant(ctx context.Context, displayName, credential string) (*model.Tenant, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || len([]rune(displayName)) > maxDisplayNameLen {
		return nil, errors.Wrapf(model.ErrValidation, "display name must be 1-%d characters", maxDisplayNameLen)
	}
	if credential == "" {
		generated, err := NewCredential()
		if err != nil {
			return nil, err
		}
		credential = generated
	}

	t := &model.Tenant{
		ID:          uuid.New(),
		DisplayName: displayName,
		Credential:  credential,
		Active:      true,
		CreatedAt:   time.Now(),
	}
	if err := r.tenants.Create(ctx, t); err != nil {
		return nil, errors.Wrap(err, "create tenant")
	}

	r.logger.InfoContext(ctx, "Tenant created", "tenantId", t.ID, "name", t.DisplayName)
	return t, nil
}

func (r *Registry) DeactivateTenant(ctx context.Context, displayName string) (*model.Tenant, error) {
	t, err := r.tenants.Deactivate(ctx, displayName)
	if err != nil {
		return nil, errors.Wrapf(err, "deactivate tenant %q", displayName)
	}
	r.cache.Delete(ctx, t.Credential)

	r.logger.InfoContext(ctx, "Tenant deactivated", "tenantId", t.ID, "name", t.DisplayName)
	return t, nil
}

// NewCredential returns a random 32-byte hex token.
func NewCredential() (string, error) {
	b := make([]byte, credentialBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generate credential")
	}
	return hex.EncodeToString(b), nil
}
