// Package alert routes integrity conflicts to operators. Gateway-facing
// handlers never see these failures.
package alert

import (
	"context"
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"

	"payments-service/internal/message"
)

var (
	alertsLoggedCounter = metrics.GetOrCreateCounter(`integrity_alerts_total{sink="log"}`)
	alertsFailedCounter = metrics.GetOrCreateCounter(`integrity_alerts_total{sink="failed"}`)
)

type Publisher interface {
	Publish(ctx context.Context, alert message.IntegrityAlert) error
}

// LogPublisher writes alerts to the error log. It is always part of the chain
// so an alert survives a broker outage.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, alert message.IntegrityAlert) error {
	p.logger.ErrorContext(ctx, "Integrity alert",
		"alertId", alert.ID,
		"source", alert.Source,
		"receipt", alert.Receipt,
		"checkoutId", alert.CheckoutID,
		"reason", alert.Reason,
	)
	alertsLoggedCounter.Inc()
	return nil
}

// Chain publishes to every publisher and joins their errors.
type Chain []Publisher

func (c Chain) Publish(ctx context.Context, alert message.IntegrityAlert) error {
	var failed error
	for _, publisher := range c {
		if err := publisher.Publish(ctx, alert); err != nil {
			alertsFailedCounter.Inc()
			if failed == nil {
				failed = err
			} else {
				failed = errors.WithMessage(failed, err.Error())
			}
		}
	}
	return failed
}
