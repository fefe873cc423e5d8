package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"payments-service/internal/logcontext"
	"payments-service/internal/model"
)

var (
	claimSuccessCounter  = metrics.GetOrCreateCounter(`claim_total{result="success"}`)
	claimNotFoundCounter = metrics.GetOrCreateCounter(`claim_total{result="not_found"}`)
	claimRejectedCounter = metrics.GetOrCreateCounter(`claim_total{result="already_claimed"}`)
	claimErrorCounter    = metrics.GetOrCreateCounter(`claim_total{result="error"}`)
)

type ClaimRequest struct {
	Receipt   string
	Reference string
}

// Claimer hands successful payments to exactly one tenant. A tenant sees its
// own payments and whatever still sits in the default bucket.
type Claimer struct {
	registry *Registry
	payments PaymentStore
	logger   *slog.Logger
}

func NewClaimer(registry *Registry, payments PaymentStore, logger *slog.Logger) *Claimer {
	return &Claimer{registry: registry, payments: payments, logger: logger}
}

// Claim marks the matching payment claimed by tenant. The receipt wins over
// the reference when both are given; a reference resolves to the oldest
// unclaimed match, and only when every match is claimed does it fail with
// model.ErrAlreadyClaimed. Payments taken from the default bucket change owner
// to tenant.
func (s *Claimer) Claim(ctx context.Context, tenant *model.Tenant, req ClaimRequest) (*model.Payment, error) {
	lookup := model.Lookup{Receipt: strings.TrimSpace(req.Receipt)}
	if lookup.Receipt == "" {
		lookup.Reference = strings.TrimSpace(req.Reference)
	}
	if lookup.Empty() {
		return nil, errors.Wrap(model.ErrValidation, "receipt or reference is required")
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("tenantId", tenant.ID.String()))

	bucket, err := s.registry.EnsureDefaultBucket(ctx)
	if err != nil {
		claimErrorCounter.Inc()
		return nil, err
	}

	candidate, err := s.payments.Find(ctx, model.PaymentFilter{
		Owners:         []uuid.UUID{tenant.ID, bucket.ID},
		Status:         model.StatusSuccess,
		Lookup:         lookup,
		UnclaimedFirst: true,
	})
	if errors.Is(err, model.ErrNotFound) {
		return nil, s.notClaimable(ctx, lookup)
	}
	if err != nil {
		claimErrorCounter.Inc()
		return nil, errors.Wrap(err, "find claim candidate")
	}
	if candidate.Claimed {
		claimRejectedCounter.Inc()
		return nil, errors.WithStack(model.ErrAlreadyClaimed)
	}

	claimed, err := s.payments.Claim(ctx, candidate.ID, tenant.ID, bucket.ID, time.Now())
	switch {
	case errors.Is(err, model.ErrAlreadyClaimed):
		claimRejectedCounter.Inc()
		return nil, err
	case errors.Is(err, model.ErrNotFound):
		claimNotFoundCounter.Inc()
		return nil, err
	case err != nil:
		claimErrorCounter.Inc()
		return nil, errors.Wrap(err, "claim payment")
	}

	s.logger.InfoContext(ctx, "Payment claimed",
		"paymentId", claimed.ID,
		"receipt", claimed.GatewayReceipt,
		"transferred", candidate.OwnedBy(bucket.ID) && !tenant.IsDefaultBucket(),
	)
	claimSuccessCounter.Inc()
	return claimed, nil
}

// notClaimable reports a receipt that some tenant has already claimed as
// model.ErrAlreadyClaimed, since receipts are globally unique. Everything else
// outside the tenant's visibility is model.ErrNotFound.
func (s *Claimer) notClaimable(ctx context.Context, lookup model.Lookup) error {
	if lookup.Receipt != "" {
		existing, err := s.payments.GetByReceipt(ctx, lookup.Receipt)
		if err == nil && existing.Claimed {
			claimRejectedCounter.Inc()
			return errors.WithStack(model.ErrAlreadyClaimed)
		}
	}
	claimNotFoundCounter.Inc()
	return errors.Wrap(model.ErrNotFound, "no claimable payment matches")
}
