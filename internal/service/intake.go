package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payments-service/internal/logcontext"
	"payments-service/internal/message"
	"payments-service/internal/model"
	"payments-service/internal/payload"
)

var (
	intakeValidatedCounter = metrics.GetOrCreateCounter(`intake_total{result="validated"}`)
	intakeCreatedCounter   = metrics.GetOrCreateCounter(`intake_total{result="created"}`)
	intakeConflictCounter  = metrics.GetOrCreateCounter(`intake_total{result="receipt_conflict"}`)
	intakeMalformedCounter = metrics.GetOrCreateCounter(`intake_total{result="malformed"}`)
	intakeErrorCounter     = metrics.GetOrCreateCounter(`intake_total{result="error"}`)
)

// Intake records unsolicited payments reported by the gateway. They land in
// the default bucket until a tenant claims them.
type Intake struct {
	registry *Registry
	payments PaymentStore
	alerts   AlertPublisher
	logger   *slog.Logger
}

func NewIntake(registry *Registry, payments PaymentStore, alerts AlertPublisher, logger *slog.Logger) *Intake {
	return &Intake{registry: registry, payments: payments, alerts: alerts, logger: logger}
}

// Validate is the gateway's pre-payment check. Every notification is
// accepted and nothing is stored.
func (s *Intake) Validate(ctx context.Context, raw []byte) payload.Ack {
	var notification payload.C2BNotification
	if err := json.Unmarshal(raw, &notification); err != nil {
		s.logger.WarnContext(ctx, "Malformed validation request", "error", err)
	} else {
		s.logger.InfoContext(ctx, "Validation request accepted",
			"transId", notification.TransID, "billRef", notification.BillRefNumber)
	}
	intakeValidatedCounter.Inc()
	return payload.AcceptedAck
}

// Confirm persists a settled unsolicited payment owned by the default bucket.
// A receipt that is already recorded is not persisted; the conflict goes to
// the alert channel and model.ErrIntegrity is returned.
func (s *Intake) Confirm(ctx context.Context, raw []byte) (*model.Payment, error) {
	var notification payload.C2BNotification
	if err := json.Unmarshal(raw, &notification); err != nil {
		intakeMalformedCounter.Inc()
		return nil, errors.Wrap(model.ErrValidation, err.Error())
	}

	receipt := strings.TrimSpace(notification.TransID)
	ctx = logcontext.AppendCtx(ctx, slog.String("receipt", receipt))

	amount, err := decimal.NewFromString(strings.TrimSpace(notification.TransAmount))
	if err != nil || !validAmount(amount) || receipt == "" {
		s.logger.WarnContext(ctx, "Malformed confirmation", "amount", notification.TransAmount)
		intakeMalformedCounter.Inc()
		return nil, errors.Wrap(model.ErrValidation, "confirmation needs a transaction id and a positive two-decimal amount")
	}

	bucket, err := s.registry.EnsureDefaultBucket(ctx)
	if err != nil {
		intakeErrorCounter.Inc()
		return nil, err
	}

	now := time.Now()
	bucketID := bucket.ID
	payment := &model.Payment{
		ID:                uuid.New(),
		ExternalReference: strings.TrimSpace(notification.BillRefNumber),
		TenantID:          &bucketID,
		PhoneNumber:       notification.MSISDN,
		Amount:            amount,
		Kind:              model.KindUnsolicited,
		GatewayReceipt:    receipt,
		Status:            model.StatusSuccess,
		RawNotification:   json.RawMessage(raw),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.payments.Create(ctx, payment)
	if errors.Is(err, model.ErrReceiptConflict) {
		s.logger.ErrorContext(ctx, "Confirmation receipt already recorded")
		intakeConflictCounter.Inc()
		alert := message.IntegrityAlert{
			ID:         uuid.New(),
			Source:     message.SourceIntake,
			Receipt:    receipt,
			Reason:     "receipt already recorded on another payment",
			Payload:    string(raw),
			DetectedAt: now,
		}
		if err := s.alerts.Publish(ctx, alert); err != nil {
			s.logger.ErrorContext(ctx, "Error publishing integrity alert", "alertId", alert.ID, "error", err)
		}
		return nil, errors.Wrapf(model.ErrIntegrity, "receipt %s", receipt)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error persisting confirmation", "error", err)
		intakeErrorCounter.Inc()
		return nil, errors.Wrap(err, "persist confirmation")
	}

	s.logger.InfoContext(ctx, "Unsolicited payment recorded", "paymentId", payment.ID, "amount", payment.Amount.StringFixed(2))
	intakeCreatedCounter.Inc()
	return payment, nil
}
