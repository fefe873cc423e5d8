package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"

	"payments-service/internal/config"
	"payments-service/internal/model"
	"payments-service/internal/payload"
)

const (
	sandboxURL = "https://sandbox.safaricom.co.ke"
	liveURL    = "https://api.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	timestampLayout = "20060102150405"
	tokenRefreshGap = 60 * time.Second
)

var eat = time.FixedZone("EAT", 3*60*60)

var (
	gatewayAcceptedCounter  = metrics.GetOrCreateCounter(`gateway_requests_total{result="accepted"}`)
	gatewayRejectedCounter  = metrics.GetOrCreateCounter(`gateway_requests_total{result="rejected"}`)
	gatewayTransportCounter = metrics.GetOrCreateCounter(`gateway_requests_total{result="transport_error"}`)
	gatewayTokenCounter     = metrics.GetOrCreateCounter(`gateway_requests_total{result="token_error"}`)

	gatewayDurationHistogram = metrics.GetOrCreateHistogram(`gateway_request_duration_milliseconds`)
)

type Daraja struct {
	cfg     config.Gateway
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewDaraja(cfg config.Gateway, logger *slog.Logger) *Daraja {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sandboxURL
		if cfg.Environment == "live" {
			baseURL = liveURL
		}
	}

	return &Daraja{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout()},
		logger:  logger,
		now:     time.Now,
	}
}

func (d *Daraja) StartPush(ctx context.Context, req PushRequest) (PushResult, error) {
	startTime := time.Now()
	defer func() {
		gatewayDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	if !req.Amount.Equal(req.Amount.Truncate(0)) {
		return PushResult{}, errors.Wrapf(model.ErrValidation, "gateway charges whole units only, got %s", req.Amount)
	}

	token, err := d.accessToken(ctx)
	if err != nil {
		gatewayTokenCounter.Inc()
		return PushResult{}, err
	}

	timestamp := d.now().In(eat).Format(timestampLayout)
	phone := NormalizePhone(req.PhoneNumber)
	body := payload.StkPushRequest{
		BusinessShortCode: d.cfg.ShortCode,
		Password:          d.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   d.cfg.TransactionType,
		Amount:            req.Amount.IntPart(),
		PartyA:            phone,
		PartyB:            d.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       d.cfg.CallbackURL,
		AccountReference:  req.Reference,
		TransactionDesc:   req.Description,
	}

	requestBytes, err := json.Marshal(body)
	if err != nil {
		return PushResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+pushPath, bytes.NewReader(requestBytes))
	if err != nil {
		return PushResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	d.logger.InfoContext(ctx, "Initiating STK push", "phone", phone, "amount", body.Amount)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		gatewayTransportCounter.Inc()
		return PushResult{}, errors.Wrap(err, "send push request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		gatewayTransportCounter.Inc()
		return PushResult{}, errors.Wrap(err, "read push response")
	}
	d.logger.DebugContext(ctx, "Gateway push response", "status", resp.Status, "body", string(respBody))

	var pushResp payload.StkPushResponse
	if err := json.Unmarshal(respBody, &pushResp); err != nil {
		gatewayRejectedCounter.Inc()
		return PushResult{
			Error: fmt.Sprintf("invalid response from gateway (%s)", resp.Status),
		}, nil
	}

	result := PushResult{
		CheckoutID: pushResp.CheckoutRequestID,
		MerchantID: pushResp.MerchantRequestID,
		Raw:        respBody,
	}

	if resp.StatusCode < 300 && pushResp.ResponseCode == "0" && pushResp.CheckoutRequestID != "" {
		result.Accepted = true
		gatewayAcceptedCounter.Inc()
		return result, nil
	}

	result.Error = rejectionReason(resp, pushResp)
	gatewayRejectedCounter.Inc()
	return result, nil
}

func rejectionReason(resp *http.Response, pushResp payload.StkPushResponse) string {
	switch {
	case pushResp.ErrorMessage != "":
		return pushResp.ErrorMessage
	case pushResp.ResponseDescription != "":
		return pushResp.ResponseDescription
	default:
		return resp.Status
	}
}

// accessToken returns the cached OAuth token, fetching a new one when it is
// within tokenRefreshGap of expiring.
func (d *Daraja) accessToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.token != "" && d.now().Add(tokenRefreshGap).Before(d.tokenExpiry) {
		return d.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(d.cfg.ConsumerKey, d.cfg.ConsumerSecret)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "fetch access token")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", errors.Errorf("fetch access token: %s", resp.Status)
	}

	var tokenResp payload.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", errors.Wrap(err, "decode access token")
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("fetch access token: empty token")
	}

	expiresIn, err := strconv.Atoi(tokenResp.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = int(tokenRefreshGap / time.Second)
	}

	d.token = tokenResp.AccessToken
	d.tokenExpiry = d.now().Add(time.Duration(expiresIn) * time.Second)
	return d.token, nil
}

func (d *Daraja) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(d.cfg.ShortCode + d.cfg.PassKey + timestamp))
}

// NormalizePhone converts local 0XXXXXXXXX and +254 forms to the 254XXXXXXXXX
// form the gateway expects. Other inputs are returned without the leading plus.
func NormalizePhone(phone string) string {
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if strings.HasPrefix(phone, "0") && len(phone) == 10 {
		return "254" + phone[1:]
	}
	return phone
}
