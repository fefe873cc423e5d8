// Package callback delivers gateway-style notifications to a listener URL.
package callback

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

type Sender struct {
	client *http.Client
	logger *slog.Logger
}

func NewSender(timeout time.Duration, logger *slog.Logger) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Send POSTs body to url and fails on transport errors and 4xx/5xx replies.
func (s *Sender) Send(ctx context.Context, url string, body []byte) error {
	s.logger.DebugContext(ctx, "Sending callback", "url", url, "payload", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create callback request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send callback")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read callback response")
	}

	if resp.StatusCode >= 400 {
		return errors.Errorf("callback rejected: %s", resp.Status)
	}

	s.logger.InfoContext(ctx, "Callback delivered", "url", url, "status", resp.StatusCode, "response", string(respBody))
	return nil
}
