package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-service/internal/callback"
	"payments-service/internal/payload"
)

func TestMock_PushPostsCallback(t *testing.T) {
	received := make(chan payload.StkNotification, 1)
	listener := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var n payload.StkNotification
		_ = json.Unmarshal(body, &n)
		received <- n
		w.WriteHeader(http.StatusOK)
	}))
	defer listener.Close()

	m := &mock{sender: callback.NewSender(time.Second, slog.Default()), logger: slog.Default()}
	reqBody, _ := json.Marshal(payload.StkPushRequest{
		Amount:           100,
		PhoneNumber:      "254712345678",
		CallBackURL:      listener.URL,
		AccountReference: "FAIL-ORDER1",
	})
	req := httptest.NewRequest(http.MethodPost, "/mpesa/stkpush/v1/processrequest", bytes.NewReader(reqBody))
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	m.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp payload.StkPushResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0", resp.ResponseCode)

	select {
	case n := <-received:
		assert.Equal(t, resp.CheckoutRequestID, n.Body.StkCallback.CheckoutRequestID)
		require.NotNil(t, n.Body.StkCallback.ResultCode)
		assert.Equal(t, 1032, *n.Body.StkCallback.ResultCode)
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not delivered")
	}
}

func TestMock_TokenRequiresBasicAuth(t *testing.T) {
	m := &mock{logger: slog.Default()}

	rec := httptest.NewRecorder()
	m.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/v1/generate?grant_type=client_credentials", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/oauth/v1/generate?grant_type=client_credentials", nil)
	req.SetBasicAuth("key", "secret")
	rec = httptest.NewRecorder()
	m.router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token")
}

func TestReceipt(t *testing.T) {
	assert.Len(t, receipt(), 10)
	assert.NotEqual(t, receipt(), receipt())
}
