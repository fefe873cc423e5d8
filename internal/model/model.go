package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether no further transition is defined out of s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type Kind string

const (
	KindSolicited   Kind = "SOLICITED"
	KindUnsolicited Kind = "UNSOLICITED"
)

// DefaultBucketID is the well-known id of the tenant that provisionally owns
// unsolicited payments until one of the real tenants claims them.
var DefaultBucketID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type Tenant struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	Credential  string    `json:"credential"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (t Tenant) IsDefaultBucket() bool {
	return t.ID == DefaultBucketID
}

type Payment struct {
	ID                uuid.UUID       `json:"id"`
	ExternalReference string          `json:"externalReference,omitempty"`
	TenantID          *uuid.UUID      `json:"tenantId,omitempty"`
	PhoneNumber       string          `json:"phoneNumber"`
	Amount            decimal.Decimal `json:"amount"`
	Kind              Kind            `json:"kind"`
	GatewayReceipt    string          `json:"gatewayReceipt,omitempty"`
	CheckoutID        string          `json:"checkoutId,omitempty"`
	MerchantID        string          `json:"merchantId,omitempty"`
	Status            Status          `json:"status"`
	FailureReason     string          `json:"failureReason,omitempty"`
	ConflictReceipt   string          `json:"conflictReceipt,omitempty"`
	Claimed           bool            `json:"claimed"`
	ClaimedAt         *time.Time      `json:"claimedAt,omitempty"`
	RawNotification   json.RawMessage `json:"rawNotification,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (p *Payment) OwnedBy(tenantID uuid.UUID) bool {
	return p.TenantID != nil && *p.TenantID == tenantID
}

// Settlement is the terminal outcome applied to a PENDING payment.
type Settlement struct {
	Status          Status
	Receipt         string
	ConflictReceipt string
	FailureReason   string
	RawNotification json.RawMessage
}

// Lookup selects a payment by the first non-empty key, in field order.
type Lookup struct {
	CheckoutID string
	Receipt    string
	Reference  string
}

func (l Lookup) Empty() bool {
	return l.CheckoutID == "" && l.Receipt == "" && l.Reference == ""
}

// OrphanCallback is a gateway notification whose checkout id matched no payment
// at the time it was delivered.
type OrphanCallback struct {
	CheckoutID string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// PaymentFilter restricts a lookup to payments owned by one of Owners and, when
// Status is set, in that status. The first match by creation order wins; with
// UnclaimedFirst an unclaimed match wins over any claimed one.
type PaymentFilter struct {
	Owners         []uuid.UUID
	Status         Status
	Lookup         Lookup
	UnclaimedFirst bool
}
