package db

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payments-service/internal/model"
)

const paymentColumns = `id, external_reference, tenant_id, phone_number, amount::text, kind, gateway_receipt,
	checkout_id, merchant_id, status, failure_reason, conflict_receipt, claimed, claimed_at, raw_notification,
	created_at, updated_at`

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create inserts p. Receipt and checkout id uniqueness are enforced by the
// table constraints and surface as model.ErrReceiptConflict and
// model.ErrDuplicateCorrelation.
func (r *PaymentRepository) Create(ctx context.Context, p *model.Payment) error {
	query := `INSERT INTO payment (id, external_reference, tenant_id, phone_number, amount, kind, gateway_receipt,
	              checkout_id, merchant_id, status, raw_notification, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.pool.Exec(ctx, query,
		p.ID, nullable(p.ExternalReference), p.TenantID, p.PhoneNumber, p.Amount.StringFixed(2), string(p.Kind),
		nullable(p.GatewayReceipt), nullable(p.CheckoutID), nullable(p.MerchantID), string(p.Status),
		nullableJSON(p.RawNotification), p.CreatedAt, p.UpdatedAt)
	return translateError(err)
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, id))
}

func (r *PaymentRepository) GetByCheckoutID(ctx context.Context, checkoutID string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment WHERE checkout_id = $1 AND kind = 'SOLICITED'`
	return scanPayment(r.pool.QueryRow(ctx, query, checkoutID))
}

func (r *PaymentRepository) GetByReceipt(ctx context.Context, receipt string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment WHERE gateway_receipt = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, receipt))
}

// Settle moves the solicited payment correlated by checkoutID out of PENDING in a
// single conditional update. When the payment has already left PENDING the
// stored row is returned together with model.ErrAlreadyFinal.
func (r *PaymentRepository) Settle(ctx context.Context, checkoutID string, s model.Settlement) (*model.Payment, error) {
	query := `UPDATE payment
	          SET status = $2, gateway_receipt = $3, conflict_receipt = $4, failure_reason = $5,
	              raw_notification = $6, updated_at = now()
	          WHERE checkout_id = $1 AND kind = 'SOLICITED' AND status = 'PENDING'
	          RETURNING ` + paymentColumns
	p, err := scanPayment(r.pool.QueryRow(ctx, query, checkoutID, string(s.Status), nullable(s.Receipt),
		nullable(s.ConflictReceipt), nullable(s.FailureReason), nullableJSON(s.RawNotification)))
	if errors.Is(err, model.ErrNotFound) {
		existing, lookupErr := r.GetByCheckoutID(ctx, checkoutID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return unsettled(existing)
	}
	if err != nil {
		return nil, translateError(err)
	}
	return p, nil
}

// unsettled explains why the conditional update in Settle matched no row. A
// row that is still PENDING was committed after the update ran, so the payment
// is reported as not found and the caller treats the notification as early.
func unsettled(existing *model.Payment) (*model.Payment, error) {
	if !existing.Status.Terminal() {
		return nil, errors.Wrap(model.ErrNotFound, "payment committed after settle")
	}
	return existing, model.ErrAlreadyFinal
}

func (r *PaymentRepository) Find(ctx context.Context, filter model.PaymentFilter) (*model.Payment, error) {
	args := []any{filter.Owners}
	where := []string{`tenant_id = ANY($1::uuid[])`}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, `status = $`+strconv.Itoa(len(args)))
	}

	switch {
	case filter.Lookup.CheckoutID != "":
		args = append(args, filter.Lookup.CheckoutID)
		where = append(where, `checkout_id = $`+strconv.Itoa(len(args)))
	case filter.Lookup.Receipt != "":
		args = append(args, filter.Lookup.Receipt)
		where = append(where, `gateway_receipt = $`+strconv.Itoa(len(args)))
	case filter.Lookup.Reference != "":
		args = append(args, filter.Lookup.Reference)
		where = append(where, `external_reference = $`+strconv.Itoa(len(args)))
	default:
		return nil, errors.Wrap(model.ErrValidation, "empty lookup")
	}

	order := `created_at, id`
	if filter.UnclaimedFirst {
		order = `claimed, ` + order
	}
	query := `SELECT ` + paymentColumns + ` FROM payment WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + order + ` LIMIT 1`
	return scanPayment(r.pool.QueryRow(ctx, query, args...))
}

// Claim marks the payment claimed by tenantID if it is still an unclaimed
// success owned by tenantID or bucketID, moving ownership off the bucket. The
// check and the write are one statement so concurrent claims serialize on the row.
func (r *PaymentRepository) Claim(ctx context.Context, id, tenantID, bucketID uuid.UUID, at time.Time) (*model.Payment, error) {
	query := `UPDATE payment
	          SET claimed = TRUE, claimed_at = $3,
	              tenant_id = CASE WHEN tenant_id = $4::uuid THEN $2::uuid ELSE tenant_id END,
	              updated_at = now()
	          WHERE id = $1 AND status = 'SUCCESS' AND NOT claimed AND tenant_id IN ($2::uuid, $4::uuid)
	          RETURNING ` + paymentColumns
	p, err := scanPayment(r.pool.QueryRow(ctx, query, id, tenantID, at, bucketID))
	if errors.Is(err, model.ErrNotFound) {
		existing, lookupErr := r.GetByID(ctx, id)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing.Claimed {
			return nil, model.ErrAlreadyClaimed
		}
		return nil, model.ErrNotFound
	}
	return p, err
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p                                          model.Payment
		reference, receipt, checkoutID, merchantID *string
		failureReason, conflictReceipt             *string
		amount, kind, status                       string
	)

	err := row.Scan(&p.ID, &reference, &p.TenantID, &p.PhoneNumber, &amount, &kind, &receipt,
		&checkoutID, &merchantID, &status, &failureReason, &conflictReceipt, &p.Claimed, &p.ClaimedAt,
		&p.RawNotification, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Wrapf(err, "parse amount %q", amount)
	}
	p.ExternalReference = value(reference)
	p.GatewayReceipt = value(receipt)
	p.CheckoutID = value(checkoutID)
	p.MerchantID = value(merchantID)
	p.FailureReason = value(failureReason)
	p.ConflictReceipt = value(conflictReceipt)
	p.Kind = model.Kind(kind)
	p.Status = model.Status(status)

	return &p, nil
}
