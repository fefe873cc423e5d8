package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payments-service/internal/gateway"
	"payments-service/internal/logcontext"
	"payments-service/internal/model"
)

const (
	maxReferenceLen   = 100
	maxDescriptionLen = 255
)

var (
	initiationSuccessCounter  = metrics.GetOrCreateCounter(`initiation_total{result="success"}`)
	initiationInvalidCounter  = metrics.GetOrCreateCounter(`initiation_total{result="invalid"}`)
	initiationRejectedCounter = metrics.GetOrCreateCounter(`initiation_total{result="rejected"}`)
	initiationFailedCounter   = metrics.GetOrCreateCounter(`initiation_total{result="gateway_error"}`)
	initiationStoreCounter    = metrics.GetOrCreateCounter(`initiation_total{result="store_error"}`)

	phonePattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)
	maxAmount    = decimal.RequireFromString("9999999999.99")
)

type InitiateRequest struct {
	PhoneNumber string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

// Validate trims the text fields and checks every precondition of a push.
func (r *InitiateRequest) Validate() error {
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	r.Reference = strings.TrimSpace(r.Reference)
	r.Description = strings.TrimSpace(r.Description)

	switch {
	case !phonePattern.MatchString(r.PhoneNumber):
		return errors.Wrap(model.ErrValidation, "phone number must be 9-15 digits")
	case !validAmount(r.Amount):
		return errors.Wrap(model.ErrValidation, "amount must be positive with at most two decimal places")
	case r.Reference == "" || len([]rune(r.Reference)) > maxReferenceLen:
		return errors.Wrapf(model.ErrValidation, "reference must be 1-%d characters", maxReferenceLen)
	case r.Description == "" || len([]rune(r.Description)) > maxDescriptionLen:
		return errors.Wrapf(model.ErrValidation, "description must be 1-%d characters", maxDescriptionLen)
	}
	return nil
}

// validAmount accepts positive amounts with at most two decimal places that fit
// the ledger column.
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2)) && !amount.GreaterThan(maxAmount)
}

// Initiator starts push prompts and records the accepted ones as PENDING
// solicited payments.
type Initiator struct {
	payments   PaymentStore
	gateway    Gateway
	reconciler *Reconciler
	timeout    time.Duration
	logger     *slog.Logger
}

func NewInitiator(payments PaymentStore, gw Gateway, reconciler *Reconciler, timeout time.Duration, logger *slog.Logger) *Initiator {
	return &Initiator{
		payments:   payments,
		gateway:    gw,
		reconciler: reconciler,
		timeout:    timeout,
		logger:     logger,
	}
}

// Initiate makes exactly one gateway call. A payment is persisted only when the
// gateway accepts the push; rejections, timeouts and transport failures return
// model.ErrGateway and leave the ledger untouched.
func (s *Initiator) Initiate(ctx context.Context, tenant *model.Tenant, req InitiateRequest) (*model.Payment, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("tenantId", tenant.ID.String()), slog.String("reference", req.Reference))

	if err := req.Validate(); err != nil {
		initiationInvalidCounter.Inc()
		return nil, err
	}

	result, err := s.startPush(ctx, req)
	if errors.Is(err, model.ErrValidation) {
		s.logger.WarnContext(ctx, "Push request refused by gateway client", "error", err)
		initiationInvalidCounter.Inc()
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Push request failed", "error", err)
		initiationFailedCounter.Inc()
		return nil, errors.Wrap(model.ErrGateway, err.Error())
	}
	if !result.Accepted || result.CheckoutID == "" {
		reason := result.Error
		if reason == "" {
			reason = "push not accepted"
		}
		s.logger.WarnContext(ctx, "Push request rejected", "reason", reason)
		initiationRejectedCounter.Inc()
		return nil, errors.Wrap(model.ErrGateway, reason)
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("checkoutId", result.CheckoutID))

	now := time.Now()
	tenantID := tenant.ID
	payment := &model.Payment{
		ID:                uuid.New(),
		ExternalReference: req.Reference,
		TenantID:          &tenantID,
		PhoneNumber:       req.PhoneNumber,
		Amount:            req.Amount,
		Kind:              model.KindSolicited,
		CheckoutID:        result.CheckoutID,
		MerchantID:        result.MerchantID,
		Status:            model.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		s.logger.ErrorContext(ctx, "Error persisting accepted push", "error", err)
		initiationStoreCounter.Inc()
		return nil, errors.Wrap(err, "persist payment")
	}

	s.logger.InfoContext(ctx, "Payment initiated", "paymentId", payment.ID)
	initiationSuccessCounter.Inc()

	if s.reconciler != nil && s.reconciler.ReplayOrphan(ctx, payment.CheckoutID) {
		if settled, err := s.payments.GetByID(ctx, payment.ID); err == nil {
			payment = settled
		}
	}
	return payment, nil
}

func (s *Initiator) startPush(ctx context.Context, req InitiateRequest) (gateway.PushResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.gateway.StartPush(ctx, gateway.PushRequest{
		PhoneNumber: req.PhoneNumber,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
	})
}
