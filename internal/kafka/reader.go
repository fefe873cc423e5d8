package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"payments-service/internal/config"
	"payments-service/internal/message"
)

var (
	readErrorCounter      = metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="integrity_alert"}`)
	unmarshalErrorCounter = metrics.GetOrCreateCounter(`kafka_reader_total{result="unmarshal_error",type="integrity_alert"}`)
	processErrorCounter   = metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="integrity_alert"}`)
	readSuccessCounter    = metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="integrity_alert"}`)
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func NewReader(cfg config.Kafka) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(cfg.Broker.URL, ","),
		GroupID: cfg.Reader.GroupID,
		Topic:   cfg.Topic.IntegrityAlerts,
	})
}

// ReadIntegrityAlerts hands every alert on the topic to handle until ctx is
// done. Undecodable messages and handler failures are logged and skipped.
func ReadIntegrityAlerts(ctx context.Context, reader messageReader, logger *slog.Logger, handle func(context.Context, message.IntegrityAlert) error) error {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return err
			}
			logger.ErrorContext(ctx, "Error reading message", "error", err)
			readErrorCounter.Inc()
			continue
		}

		var alert message.IntegrityAlert
		if err := json.Unmarshal(m.Value, &alert); err != nil {
			logger.ErrorContext(ctx, "Error unmarshalling message", "offset", m.Offset, "error", err)
			unmarshalErrorCounter.Inc()
			continue
		}

		if err := handle(ctx, alert); err != nil {
			logger.ErrorContext(ctx, "Error processing message", "alertId", alert.ID, "error", err)
			processErrorCounter.Inc()
			continue
		}
		readSuccessCounter.Inc()
	}
}
