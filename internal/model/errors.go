package model

import "github.com/pkg/errors"

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")

	ErrAlreadyClaimed = errors.New("payment already claimed")
	// ErrReceiptConflict is returned by stores when a gateway receipt is already
	// recorded on another payment.
	ErrReceiptConflict      = errors.New("gateway receipt already recorded")
	ErrDuplicateCorrelation = errors.New("checkout correlation id already recorded")
	// ErrAlreadyFinal is returned when a settlement targets a payment that has
	// already left PENDING.
	ErrAlreadyFinal = errors.New("payment already in a terminal state")

	ErrGateway   = errors.New("gateway rejected or unreachable")
	ErrIntegrity = errors.New("data integrity violation")
)

// ErrConflict is the generic uniqueness failure for administrative writes.
var ErrConflict = errors.New("conflict")
