package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"payments-service/internal/logcontext"
	"payments-service/internal/model"
)

type ctxKey string

const ctxKeyTenant ctxKey = "tenant"

func (h *Handler) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := logcontext.AppendCtx(r.Context(), slog.String("requestId", reqID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "Panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"statusCode", recorder.statusCode,
			"durationMs", time.Since(start).Milliseconds(),
		}
		switch {
		case recorder.statusCode >= 500:
			h.logger.ErrorContext(r.Context(), "HTTP request completed", fields...)
		case recorder.statusCode >= 400:
			h.logger.WarnContext(r.Context(), "HTTP request completed", fields...)
		default:
			h.logger.InfoContext(r.Context(), "HTTP request completed", fields...)
		}
	})
}

// authMiddleware resolves the API key to an active tenant and stores it in the
// request context.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := h.registry.Resolve(r.Context(), r.Header.Get(CredentialHeader))
		if err != nil {
			h.writeMappedError(r.Context(), w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyTenant, tenant)
		ctx = logcontext.AppendCtx(ctx, slog.String("tenantId", tenant.ID.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFromContext(ctx context.Context) *model.Tenant {
	tenant, _ := ctx.Value(ctxKeyTenant).(*model.Tenant)
	return tenant
}
