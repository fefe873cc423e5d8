package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-service/internal/alert"
	"payments-service/internal/config"
	"payments-service/internal/gateway"
	"payments-service/internal/memstore"
	"payments-service/internal/metrics"
	"payments-service/internal/model"
	"payments-service/internal/service"
)

type stubGateway struct {
	result gateway.PushResult
}

func (g stubGateway) StartPush(context.Context, gateway.PushRequest) (gateway.PushResult, error) {
	return g.result, nil
}

type testServer struct {
	router  http.Handler
	store   *memstore.Store
	tenantX *model.Tenant
	tenantZ *model.Tenant
}

func newTestServer(t *testing.T, push gateway.PushResult) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.Default()
	store := memstore.New()
	alerts := alert.NewLogPublisher(logger)

	registry := service.NewRegistry(store.Tenants(), nil, config.Intake{DefaultBucketName: "ADMIN_SHOP"}, logger)
	_, err := registry.EnsureDefaultBucket(ctx)
	require.NoError(t, err)
	tenantX, err := registry.CreateTenant(ctx, "shop-x", "x-key")
	require.NoError(t, err)
	tenantZ, err := registry.CreateTenant(ctx, "shop-z", "z-key")
	require.NoError(t, err)

	reconciler := service.NewReconciler(store.Payments(), store.Orphans(), alerts, logger)
	handler := NewHandler(
		registry,
		service.NewInitiator(store.Payments(), stubGateway{result: push}, reconciler, 0, logger),
		reconciler,
		service.NewIntake(registry, store.Payments(), alerts, logger),
		service.NewVerifier(store.Payments(), logger),
		service.NewClaimer(registry, store.Payments(), logger),
		logger,
	)

	return &testServer{
		router:  NewRouter(handler, metrics.Handler()),
		store:   store,
		tenantX: tenantX,
		tenantZ: tenantZ,
	}
}

func (s *testServer) do(t *testing.T, path, credential string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set(CredentialHeader, credential)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const successCallback = `{"Body":{"stkCallback":{"MerchantRequestID":"m_1","CheckoutRequestID":"ws_1","ResultCode":0,
"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[
{"Name":"Amount","Value":100.00},{"Name":"MpesaReceiptNumber","Value":"RCX1"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`

func TestRouter_PushCallbackVerifyClaim(t *testing.T) {
	s := newTestServer(t, gateway.PushResult{CheckoutID: "ws_1", MerchantID: "m_1", Accepted: true})

	rec := s.do(t, "/api/stk-push/", "x-key", map[string]any{
		"phone_number": "0712345678",
		"amount":       "100.00",
		"reference":    "ORDER1",
		"description":  "desc",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pushed := decode(t, rec)
	assert.Equal(t, "ws_1", pushed["checkout_request_id"])
	assert.Equal(t, "m_1", pushed["merchant_request_id"])
	assert.Equal(t, "PENDING", pushed["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = s.do(t, "/api/payments/verify/", "x-key", map[string]string{"checkout_request_id": "ws_1"})
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode(t, rec)
	assert.Equal(t, false, pending["paid"])
	assert.Equal(t, false, pending["failed"])

	for i := 0; i < 2; i++ {
		rec = s.do(t, "/api/mpesa/stk-callback/", "", successCallback)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())
	}

	rec = s.do(t, "/api/payments/verify/", "x-key", map[string]string{"checkout_request_id": "ws_1"})
	require.Equal(t, http.StatusOK, rec.Code)
	paid := decode(t, rec)
	assert.Equal(t, true, paid["paid"])
	assert.Equal(t, "100.00", paid["amount"])
	assert.Equal(t, "RCX1", paid["receipt"])
	assert.Equal(t, "ORDER1", paid["reference"])

	rec = s.do(t, "/api/payments/claim/", "z-key", map[string]string{"receipt": "RCX1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, "/api/payments/claim/", "x-key", map[string]string{"receipt": "RCX1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RCX1", decode(t, rec)["receipt"])

	rec = s.do(t, "/api/payments/claim/", "x-key", map[string]string{"receipt": "RCX1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_CLAIMED", decode(t, rec)["code"])
}

func TestRouter_ConfirmationAlwaysAcks(t *testing.T) {
	s := newTestServer(t, gateway.PushResult{})
	confirmation := map[string]string{
		"TransID":       "RCY1",
		"TransAmount":   "50.00",
		"BillRefNumber": "BILL1",
		"MSISDN":        "254712345678",
	}

	for i := 0; i < 2; i++ {
		rec := s.do(t, "/api/mpesa/c2b/confirmation/", "", confirmation)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Success"}`, rec.Body.String())
	}

	rec := s.do(t, "/api/mpesa/c2b/confirmation/", "", "not json")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, "/api/mpesa/c2b/validation/", "", confirmation)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())

	rec = s.do(t, "/api/payments/claim/", "z-key", map[string]string{"reference": "BILL1"})
	require.Equal(t, http.StatusOK, rec.Code)

	claimed, err := s.store.Payments().GetByReceipt(context.Background(), "RCY1")
	require.NoError(t, err)
	assert.True(t, claimed.OwnedBy(s.tenantZ.ID))
}

func TestRouter_UnknownCallbackIsAcknowledged(t *testing.T) {
	s := newTestServer(t, gateway.PushResult{})

	rec := s.do(t, "/api/mpesa/stk-callback/", "", successCallback)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())

	rec = s.do(t, "/api/mpesa/stk-callback/", "", "{broken")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())
}

func TestRouter_Errors(t *testing.T) {
	tests := []struct {
		name         string
		push         gateway.PushResult
		path         string
		credential   string
		body         any
		expectedCode int
		expectedErr  string
	}{
		{
			name:         "missing credential",
			path:         "/api/stk-push/",
			body:         map[string]string{},
			expectedCode: http.StatusUnauthorized,
			expectedErr:  "UNAUTHORIZED",
		},
		{
			name:         "unknown credential",
			path:         "/api/payments/verify/",
			credential:   "nope",
			body:         map[string]string{"checkout_request_id": "ws_1"},
			expectedCode: http.StatusUnauthorized,
			expectedErr:  "UNAUTHORIZED",
		},
		{
			name:         "invalid push",
			path:         "/api/stk-push/",
			credential:   "x-key",
			body:         map[string]any{"phone_number": "abc", "amount": "1", "reference": "R", "description": "D"},
			expectedCode: http.StatusBadRequest,
			expectedErr:  "VALIDATION_ERROR",
		},
		{
			name:         "malformed body",
			path:         "/api/payments/claim/",
			credential:   "x-key",
			body:         "{",
			expectedCode: http.StatusBadRequest,
			expectedErr:  "VALIDATION_ERROR",
		},
		{
			name:         "gateway rejection",
			push:         gateway.PushResult{Accepted: false, Error: "Invalid Access Token"},
			path:         "/api/stk-push/",
			credential:   "x-key",
			body:         map[string]any{"phone_number": "0712345678", "amount": 10, "reference": "R", "description": "D"},
			expectedCode: http.StatusBadGateway,
			expectedErr:  "GATEWAY_ERROR",
		},
		{
			name:         "claim without keys",
			path:         "/api/payments/claim/",
			credential:   "x-key",
			body:         map[string]string{},
			expectedCode: http.StatusBadRequest,
			expectedErr:  "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.push)
			rec := s.do(t, tt.path, tt.credential, tt.body)
			assert.Equal(t, tt.expectedCode, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, tt.expectedErr, body["code"])
		})
	}
}

func TestRouter_LivenessAndMetrics(t *testing.T) {
	s := newTestServer(t, gateway.PushResult{})

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liveness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.do(t, "/api/mpesa/stk-callback/", "", successCallback)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `reconcile_total{result="unmatched"}`)
}
