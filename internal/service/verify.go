package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"payments-service/internal/model"
)

// Verification is the tri-state answer to "has this payment settled". A
// pending or unknown payment is neither paid nor failed.
type Verification struct {
	Paid    bool
	Failed  bool
	Payment *model.Payment
}

type Verifier struct {
	payments PaymentStore
	logger   *slog.Logger
}

func NewVerifier(payments PaymentStore, logger *slog.Logger) *Verifier {
	return &Verifier{payments: payments, logger: logger}
}

// Verify looks the payment up among those owned by tenant, by checkout id,
// then receipt, then reference. It never mutates the ledger.
func (s *Verifier) Verify(ctx context.Context, tenant *model.Tenant, lookup model.Lookup) (Verification, error) {
	if lookup.Empty() {
		return Verification{}, errors.Wrap(model.ErrValidation, "checkout id, receipt or reference is required")
	}

	payment, err := s.payments.Find(ctx, model.PaymentFilter{
		Owners: []uuid.UUID{tenant.ID},
		Lookup: lookup,
	})
	if errors.Is(err, model.ErrNotFound) {
		s.logger.DebugContext(ctx, "Verification found no payment", "tenantId", tenant.ID)
		return Verification{}, nil
	}
	if err != nil {
		return Verification{}, errors.Wrap(err, "verify payment")
	}

	switch payment.Status {
	case model.StatusSuccess:
		return Verification{Paid: true, Payment: payment}, nil
	case model.StatusFailed:
		return Verification{Failed: true, Payment: payment}, nil
	default:
		return Verification{Payment: payment}, nil
	}
}
