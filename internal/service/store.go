package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"payments-service/internal/gateway"
	"payments-service/internal/message"
	"payments-service/internal/model"
)

// PaymentStore is the payment ledger. Settle and Claim must be single atomic
// conditional writes and receipt uniqueness must be enforced by the store.
type PaymentStore interface {
	Create(ctx context.Context, p *model.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	GetByCheckoutID(ctx context.Context, checkoutID string) (*model.Payment, error)
	GetByReceipt(ctx context.Context, receipt string) (*model.Payment, error)
	Settle(ctx context.Context, checkoutID string, s model.Settlement) (*model.Payment, error)
	Find(ctx context.Context, filter model.PaymentFilter) (*model.Payment, error)
	Claim(ctx context.Context, id, tenantID, bucketID uuid.UUID, at time.Time) (*model.Payment, error)
}

type TenantStore interface {
	Create(ctx context.Context, t *model.Tenant) error
	EnsureTenant(ctx context.Context, t *model.Tenant) (*model.Tenant, error)
	GetActiveByCredential(ctx context.Context, credential string) (*model.Tenant, error)
	Deactivate(ctx context.Context, displayName string) (*model.Tenant, error)
}

type OrphanStore interface {
	Park(ctx context.Context, orphan model.OrphanCallback) error
	Take(ctx context.Context, checkoutID string) (*model.OrphanCallback, error)
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

type Gateway interface {
	StartPush(ctx context.Context, req gateway.PushRequest) (gateway.PushResult, error)
}

type AlertPublisher interface {
	Publish(ctx context.Context, alert message.IntegrityAlert) error
}

// TenantCache is a read-through cache of active tenants keyed by credential.
// Misses and cache failures both fall through to the store.
type TenantCache interface {
	Get(ctx context.Context, credential string) (*model.Tenant, bool)
	Set(ctx context.Context, credential string, t *model.Tenant)
	Delete(ctx context.Context, credential string)
}

type noCache struct{}

func (noCache) Get(context.Context, string) (*model.Tenant, bool) { return nil, false }

func (noCache) Set(context.Context, string, *model.Tenant) {}

func (noCache) Delete(context.Context, string) {}
