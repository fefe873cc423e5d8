package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"payments-service/internal/logcontext"
	"payments-service/internal/message"
	"payments-service/internal/model"
	"payments-service/internal/payload"
)

type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeUnmatched       Outcome = "unmatched"
	OutcomeReceiptConflict Outcome = "receipt_conflict"
	OutcomeMalformed       Outcome = "malformed"
	OutcomeError           Outcome = "error"
)

var reconcileCounters = map[Outcome]*metrics.Counter{
	OutcomeApplied:         metrics.GetOrCreateCounter(`reconcile_total{result="applied"}`),
	OutcomeDuplicate:       metrics.GetOrCreateCounter(`reconcile_total{result="duplicate"}`),
	OutcomeUnmatched:       metrics.GetOrCreateCounter(`reconcile_total{result="unmatched"}`),
	OutcomeReceiptConflict: metrics.GetOrCreateCounter(`reconcile_total{result="receipt_conflict"}`),
	OutcomeMalformed:       metrics.GetOrCreateCounter(`reconcile_total{result="malformed"}`),
	OutcomeError:           metrics.GetOrCreateCounter(`reconcile_total{result="error"}`),
}

var reconcileReplayedCounter = metrics.GetOrCreateCounter(`reconcile_total{result="replayed"}`)

// maxOrphanBytes bounds what an unmatched notification may occupy in the
// orphan store. Gateway result notifications are a few hundred bytes.
const maxOrphanBytes = 16 << 10

// Reconciler finalizes PENDING solicited payments from the gateway's
// asynchronous result notifications. Whatever happens internally, the gateway
// is always acknowledged.
type Reconciler struct {
	payments PaymentStore
	orphans  OrphanStore
	alerts   AlertPublisher
	logger   *slog.Logger
}

func NewReconciler(payments PaymentStore, orphans OrphanStore, alerts AlertPublisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{payments: payments, orphans: orphans, alerts: alerts, logger: logger}
}

// Reconcile applies one raw notification and returns the acknowledgment to
// send back together with what happened to the ledger.
func (r *Reconciler) Reconcile(ctx context.Context, raw []byte) (payload.Ack, Outcome) {
	outcome := r.reconcile(ctx, raw, true)
	reconcileCounters[outcome].Inc()
	return payload.AcceptedAck, outcome
}

// ReplayOrphan applies a notification parked for checkoutID, if any. It
// reports whether one was found.
func (r *Reconciler) ReplayOrphan(ctx context.Context, checkoutID string) bool {
	if r.orphans == nil {
		return false
	}

	orphan, err := r.orphans.Take(ctx, checkoutID)
	if errors.Is(err, model.ErrNotFound) {
		return false
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "Error taking parked callback", "checkoutId", checkoutID, "error", err)
		return false
	}

	r.logger.InfoContext(ctx, "Replaying parked callback", "checkoutId", checkoutID, "receivedAt", orphan.ReceivedAt)
	outcome := r.reconcile(ctx, orphan.Payload, false)
	reconcileCounters[outcome].Inc()
	reconcileReplayedCounter.Inc()
	return true
}

func (r *Reconciler) reconcile(ctx context.Context, raw []byte, park bool) Outcome {
	var notification payload.StkNotification
	if err := json.Unmarshal(raw, &notification); err != nil {
		r.logger.WarnContext(ctx, "Malformed callback", "error", err)
		return OutcomeMalformed
	}
	callback := notification.Body.StkCallback
	if callback.CheckoutRequestID == "" {
		r.logger.WarnContext(ctx, "Callback without checkout id")
		return OutcomeMalformed
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("checkoutId", callback.CheckoutRequestID))
	if callback.ResultCode == nil {
		r.logger.WarnContext(ctx, "Callback without result code", "payload", string(raw))
		return OutcomeMalformed
	}
	r.logger.DebugContext(ctx, "Callback received", "resultCode", *callback.ResultCode, "payload", string(raw))

	settlement := model.Settlement{RawNotification: json.RawMessage(raw)}
	if callback.Succeeded() {
		settlement.Status = model.StatusSuccess
		settlement.Receipt = callback.Receipt()
		if settlement.Receipt == "" {
			r.logger.WarnContext(ctx, "Successful callback without receipt")
		}
	} else {
		settlement.Status = model.StatusFailed
		settlement.FailureReason = callback.ResultDesc
	}

	payment, err := r.payments.Settle(ctx, callback.CheckoutRequestID, settlement)
	switch {
	case err == nil:
		r.logger.InfoContext(ctx, "Payment settled", "paymentId", payment.ID, "status", payment.Status)
		return OutcomeApplied

	case errors.Is(err, model.ErrAlreadyFinal):
		r.logger.InfoContext(ctx, "Duplicate callback ignored", "paymentId", payment.ID, "status", payment.Status)
		return OutcomeDuplicate

	case errors.Is(err, model.ErrNotFound):
		r.logger.ErrorContext(ctx, "Callback matches no payment")
		if park {
			r.park(ctx, callback.CheckoutRequestID, raw)
		}
		return OutcomeUnmatched

	case errors.Is(err, model.ErrReceiptConflict):
		return r.settleConflict(ctx, callback.CheckoutRequestID, settlement, raw)

	default:
		r.logger.ErrorContext(ctx, "Error settling payment", "error", err)
		return OutcomeError
	}
}

// settleConflict finalizes the payment as SUCCESS without the receipt that is
// already held by another payment, and raises an integrity alert.
func (r *Reconciler) settleConflict(ctx context.Context, checkoutID string, settlement model.Settlement, raw []byte) Outcome {
	receipt := settlement.Receipt
	settlement.ConflictReceipt = receipt
	settlement.Receipt = ""

	payment, err := r.payments.Settle(ctx, checkoutID, settlement)
	if errors.Is(err, model.ErrAlreadyFinal) {
		r.logger.InfoContext(ctx, "Duplicate callback ignored", "paymentId", payment.ID, "status", payment.Status)
		return OutcomeDuplicate
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "Error settling payment with conflicting receipt", "receipt", receipt, "error", err)
		return OutcomeError
	}

	paymentID := payment.ID
	r.publish(ctx, message.IntegrityAlert{
		ID:         uuid.New(),
		Source:     message.SourceCallback,
		Receipt:    receipt,
		CheckoutID: checkoutID,
		PaymentID:  &paymentID,
		Reason:     "receipt already recorded on another payment",
		Payload:    string(raw),
		DetectedAt: time.Now(),
	})
	return OutcomeReceiptConflict
}

// park keeps the notification until the payment it belongs to is persisted.
// The re-check after parking covers a payment created between the failed
// settle and the park.
func (r *Reconciler) park(ctx context.Context, checkoutID string, raw []byte) {
	if r.orphans == nil {
		return
	}
	if len(raw) > maxOrphanBytes {
		r.logger.WarnContext(ctx, "Callback too large to park", "bytes", len(raw))
		return
	}
	err := r.orphans.Park(ctx, model.OrphanCallback{
		CheckoutID: checkoutID,
		Payload:    json.RawMessage(raw),
		ReceivedAt: time.Now(),
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Error parking callback", "error", err)
		return
	}
	if _, err := r.payments.GetByCheckoutID(ctx, checkoutID); err == nil {
		r.ReplayOrphan(ctx, checkoutID)
	}
}

func (r *Reconciler) publish(ctx context.Context, alert message.IntegrityAlert) {
	if err := r.alerts.Publish(ctx, alert); err != nil {
		r.logger.ErrorContext(ctx, "Error publishing integrity alert", "alertId", alert.ID, "error", err)
	}
}
