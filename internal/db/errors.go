package db

import (
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"payments-service/internal/model"
)

const uniqueViolation = "23505"

// translateError maps unique violations on known constraints to model sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}

	switch pgErr.ConstraintName {
	case "payment_gateway_receipt_key":
		return errors.Wrap(model.ErrReceiptConflict, pgErr.Detail)
	case "payment_checkout_id_key":
		return errors.Wrap(model.ErrDuplicateCorrelation, pgErr.Detail)
	default:
		return errors.Wrap(model.ErrConflict, pgErr.Detail)
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
