// Command daraja-mock imitates the gateway for local runs: it issues tokens,
// accepts push requests and posts the result callback shortly afterwards.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"payments-service/internal/callback"
	"payments-service/internal/payload"
)

const (
	contentType = "application/json"
	// AccountReference prefix that makes the mock report a cancelled payment.
	failPrefix = "FAIL"
)

type mock struct {
	sender          *callback.Sender
	delay           time.Duration
	confirmationURL string
	logger          *slog.Logger
}

func main() {
	var (
		addr            string
		delay           time.Duration
		confirmationURL string
	)

	cmd := &cobra.Command{
		Use:   "daraja-mock",
		Short: "Local stand-in for the mobile-money gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
			m := &mock{
				sender:          callback.NewSender(10*time.Second, logger),
				delay:           delay,
				confirmationURL: confirmationURL,
				logger:          logger,
			}
			logger.Info("Starting gateway mock", "addr", addr)
			return http.ListenAndServe(addr, m.router())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8085", "listen address")
	cmd.Flags().DurationVar(&delay, "callback-delay", 2*time.Second, "delay before the result callback is posted")
	cmd.Flags().StringVar(&confirmationURL, "confirmation-url", "http://localhost:8080/api/mpesa/c2b/confirmation/",
		"where simulated C2B confirmations are posted")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (m *mock) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/oauth/v1/generate", m.token)
	r.Post("/mpesa/stkpush/v1/processrequest", m.stkPush)
	r.Post("/mock/c2b/simulate", m.simulateC2B)
	return r
}

func (m *mock) token(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := r.BasicAuth(); !ok {
		writeJSON(w, http.StatusBadRequest, payload.StkPushResponse{ErrorCode: "400.008.01", ErrorMessage: "Invalid Authentication passed"})
		return
	}
	writeJSON(w, http.StatusOK, payload.TokenResponse{AccessToken: uuid.NewString(), ExpiresIn: "3599"})
}

func (m *mock) stkPush(w http.ResponseWriter, r *http.Request) {
	var req payload.StkPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, payload.StkPushResponse{ErrorCode: "400.002.02", ErrorMessage: "Bad Request - Invalid Body"})
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, payload.StkPushResponse{ErrorCode: "404.001.03", ErrorMessage: "Invalid Access Token"})
		return
	}
	if req.CallBackURL == "" || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, payload.StkPushResponse{ErrorCode: "400.002.02", ErrorMessage: "Bad Request - Invalid Request"})
		return
	}

	resp := payload.StkPushResponse{
		MerchantRequestID:   fmt.Sprintf("%d-%d-1", rand.IntN(99999), rand.IntN(99999999)),
		CheckoutRequestID:   "ws_CO_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}
	writeJSON(w, http.StatusOK, resp)

	go m.deliverResult(req, resp)
}

func (m *mock) deliverResult(req payload.StkPushRequest, resp payload.StkPushResponse) {
	time.Sleep(m.delay)

	resultCode := 0
	result := payload.StkCallback{
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		ResultCode:        &resultCode,
		ResultDesc:        "The service request is processed successfully.",
		CallbackMetadata: &payload.CallbackMetadata{Item: []payload.MetadataItem{
			{Name: "Amount", Value: req.Amount},
			{Name: payload.ReceiptItemName, Value: receipt()},
			{Name: "TransactionDate", Value: time.Now().Format("20060102150405")},
			{Name: "PhoneNumber", Value: req.PhoneNumber},
		}},
	}
	if strings.HasPrefix(req.AccountReference, failPrefix) {
		resultCode = 1032
		result.ResultDesc = "Request cancelled by user"
		result.CallbackMetadata = nil
	}

	body, _ := json.Marshal(payload.StkNotification{Body: payload.StkCallbackBody{StkCallback: result}})
	if err := m.sender.Send(context.Background(), req.CallBackURL, body); err != nil {
		m.logger.Error("Error delivering result callback", "checkoutId", resp.CheckoutRequestID, "error", err)
	}
}

type simulateRequest struct {
	Amount        string `json:"amount"`
	BillRefNumber string `json:"bill_ref_number"`
	MSISDN        string `json:"msisdn"`
}

// simulateC2B posts an unsolicited confirmation as if a customer had paid to
// the short code directly.
func (m *mock) simulateC2B(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, payload.StkPushResponse{ErrorMessage: "invalid body"})
		return
	}

	notification := payload.C2BNotification{
		TransactionType:   "Pay Bill",
		TransID:           receipt(),
		TransTime:         time.Now().Format("20060102150405"),
		TransAmount:       req.Amount,
		BusinessShortCode: "600000",
		BillRefNumber:     req.BillRefNumber,
		MSISDN:            req.MSISDN,
	}
	body, _ := json.Marshal(notification)
	if err := m.sender.Send(r.Context(), m.confirmationURL, body); err != nil {
		writeJSON(w, http.StatusBadGateway, payload.StkPushResponse{ErrorMessage: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, notification)
}

func receipt() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
