package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"payments-service/internal/model"
)

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing API key"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "payment not found"
	case errors.Is(err, model.ErrAlreadyClaimed):
		return http.StatusConflict, "ALREADY_CLAIMED", "payment already claimed"
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrReceiptConflict),
		errors.Is(err, model.ErrDuplicateCorrelation):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, model.ErrGateway):
		return http.StatusBadGateway, "GATEWAY_ERROR", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

func (h *Handler) writeMappedError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code, msg := mapDomainError(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "Request failed", "code", code, "error", err)
	} else {
		h.logger.WarnContext(ctx, "Request rejected", "code", code, "error", err)
	}
	writeError(w, status, code, msg)
}
