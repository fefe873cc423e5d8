package message

import (
	"time"

	"github.com/google/uuid"
)

const (
	SourceCallback = "stk_callback"
	SourceIntake   = "c2b_confirmation"
)

// IntegrityAlert reports a gateway notification that could not be applied
// without breaking a store invariant. The gateway has already been acknowledged.
type IntegrityAlert struct {
	ID         uuid.UUID  `json:"id"`
	Source     string     `json:"source"`
	Receipt    string     `json:"receipt"`
	CheckoutID string     `json:"checkoutId,omitempty"`
	PaymentID  *uuid.UUID `json:"paymentId,omitempty"`
	Reason     string     `json:"reason"`
	Payload    string     `json:"payload"`
	DetectedAt time.Time  `json:"detectedAt"`
}
