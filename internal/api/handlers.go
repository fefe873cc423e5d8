package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payments-service/internal/model"
	"payments-service/internal/payload"
	"payments-service/internal/service"
)

const maxBodyBytes = 1 << 20

type stkPushRequest struct {
	PhoneNumber string          `json:"phone_number"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
}

type stkPushResponse struct {
	Message           string    `json:"message"`
	PaymentID         uuid.UUID `json:"payment_id"`
	Status            string    `json:"status"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	MerchantRequestID string    `json:"merchant_request_id"`
}

type verifyRequest struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	Receipt           string `json:"receipt"`
	Reference         string `json:"reference"`
}

type verifyResponse struct {
	Paid          bool       `json:"paid"`
	Failed        bool       `json:"failed"`
	Status        string     `json:"status,omitempty"`
	Amount        string     `json:"amount,omitempty"`
	PhoneNumber   string     `json:"phone_number,omitempty"`
	Receipt       string     `json:"receipt,omitempty"`
	Reference     string     `json:"reference,omitempty"`
	Claimed       bool       `json:"claimed"`
	Date          *time.Time `json:"date,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

type claimRequest struct {
	Receipt   string `json:"receipt"`
	Reference string `json:"reference"`
}

type claimResponse struct {
	Message   string    `json:"message"`
	PaymentID uuid.UUID `json:"payment_id"`
	Receipt   string    `json:"receipt"`
	Amount    string    `json:"amount"`
	Reference string    `json:"reference,omitempty"`
}

func (h *Handler) stkPush(w http.ResponseWriter, r *http.Request) {
	var req stkPushRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	payment, err := h.initiator.Initiate(r.Context(), tenantFromContext(r.Context()), service.InitiateRequest{
		PhoneNumber: req.PhoneNumber,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
	})
	if err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, stkPushResponse{
		Message:           "STK initiated",
		PaymentID:         payment.ID,
		Status:            string(payment.Status),
		CheckoutRequestID: payment.CheckoutID,
		MerchantRequestID: payment.MerchantID,
	})
}

// stkCallback always answers with the acceptance ack so the gateway stops
// redelivering.
func (h *Handler) stkCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Error reading callback body", "error", err)
		writeJSON(w, http.StatusOK, payload.AcceptedAck)
		return
	}
	ack, _ := h.reconciler.Reconcile(r.Context(), raw)
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handler) c2bValidation(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Error reading validation body", "error", err)
		writeJSON(w, http.StatusOK, payload.AcceptedAck)
		return
	}
	writeJSON(w, http.StatusOK, h.intake.Validate(r.Context(), raw))
}

// c2bConfirmation acknowledges with the success ack whatever the persistence
// outcome; integrity failures have already been routed to the alert channel.
func (h *Handler) c2bConfirmation(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Error reading confirmation body", "error", err)
		writeJSON(w, http.StatusOK, payload.SuccessAck)
		return
	}
	if _, err := h.intake.Confirm(r.Context(), raw); err != nil {
		h.logger.WarnContext(r.Context(), "Confirmation not recorded", "error", err)
	}
	writeJSON(w, http.StatusOK, payload.SuccessAck)
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	verification, err := h.verifier.Verify(r.Context(), tenantFromContext(r.Context()), model.Lookup{
		CheckoutID: req.CheckoutRequestID,
		Receipt:    req.Receipt,
		Reference:  req.Reference,
	})
	if err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, toVerifyResponse(verification))
}

func (h *Handler) claimPayment(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	payment, err := h.claimer.Claim(r.Context(), tenantFromContext(r.Context()), service.ClaimRequest{
		Receipt:   req.Receipt,
		Reference: req.Reference,
	})
	if err != nil {
		h.writeMappedError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		Message:   "Payment claimed",
		PaymentID: payment.ID,
		Receipt:   payment.GatewayReceipt,
		Amount:    payment.Amount.StringFixed(2),
		Reference: payment.ExternalReference,
	})
}

func toVerifyResponse(v service.Verification) verifyResponse {
	resp := verifyResponse{Paid: v.Paid, Failed: v.Failed}
	p := v.Payment
	if p == nil {
		return resp
	}
	resp.Status = string(p.Status)
	switch {
	case v.Paid:
		createdAt := p.CreatedAt
		resp.Amount = p.Amount.StringFixed(2)
		resp.PhoneNumber = p.PhoneNumber
		resp.Receipt = p.GatewayReceipt
		resp.Reference = p.ExternalReference
		resp.Claimed = p.Claimed
		resp.Date = &createdAt
	case v.Failed:
		resp.FailureReason = p.FailureReason
	}
	return resp
}

func decodeBody(r *http.Request, dst any) error {
	raw, err := readBody(r)
	if err != nil {
		return errors.Wrap(model.ErrValidation, err.Error())
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrap(model.ErrValidation, "malformed JSON body")
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}
