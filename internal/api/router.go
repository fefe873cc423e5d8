// Package api exposes the payment operations over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payments-service/internal/service"
)

// CredentialHeader carries the tenant API key on protected routes.
const CredentialHeader = "X-API-KEY"

type Handler struct {
	registry   *service.Registry
	initiator  *service.Initiator
	reconciler *service.Reconciler
	intake     *service.Intake
	verifier   *service.Verifier
	claimer    *service.Claimer
	logger     *slog.Logger
}

func NewHandler(
	registry *service.Registry,
	initiator *service.Initiator,
	reconciler *service.Reconciler,
	intake *service.Intake,
	verifier *service.Verifier,
	claimer *service.Claimer,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		registry:   registry,
		initiator:  initiator,
		reconciler: reconciler,
		intake:     intake,
		verifier:   verifier,
		claimer:    claimer,
		logger:     logger,
	}
}

// NewRouter registers the gateway-facing and tenant-facing routes. metricsHandler
// may be nil.
func NewRouter(h *Handler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestIDMiddleware)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)

	r.Get("/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/mpesa/stk-callback/", h.stkCallback)
		r.Post("/mpesa/c2b/validation/", h.c2bValidation)
		r.Post("/mpesa/c2b/confirmation/", h.c2bConfirmation)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware)
			r.Post("/stk-push/", h.stkPush)
			r.Post("/payments/verify/", h.verifyPayment)
			r.Post("/payments/claim/", h.claimPayment)
		})
	})

	return r
}
