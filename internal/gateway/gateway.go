// Package gateway holds the outbound push-prompt contract and its Daraja
// implementation.
package gateway

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type PushRequest struct {
	PhoneNumber string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

// PushResult carries the correlation ids of an accepted push. A rejected push
// has Accepted false and Error set; transport failures are returned as errors
// instead.
type PushResult struct {
	CheckoutID string
	MerchantID string
	Accepted   bool
	Error      string
	Raw        json.RawMessage
}
