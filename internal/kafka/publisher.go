package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"payments-service/internal/message"
)

const sourceHeader = "source"

var (
	publishSuccessCounter = metrics.GetOrCreateCounter(`kafka_writer_total{result="success",type="integrity_alert"}`)
	publishErrorCounter   = metrics.GetOrCreateCounter(`kafka_writer_total{result="publish_error",type="integrity_alert"}`)
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// AlertPublisher sends integrity alerts to the operators' topic, keyed by
// receipt so alerts for one receipt stay ordered.
type AlertPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewAlertPublisher(writer messageWriter, logger *slog.Logger) *AlertPublisher {
	return &AlertPublisher{writer: writer, logger: logger}
}

func (p *AlertPublisher) Publish(ctx context.Context, alert message.IntegrityAlert) error {
	msg, err := toKafkaMessage(alert)
	if err != nil {
		publishErrorCounter.Inc()
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "Error writing alert to Kafka", "alertId", alert.ID, "error", err)
		publishErrorCounter.Inc()
		return errors.Wrap(err, "write integrity alert")
	}

	p.logger.InfoContext(ctx, "Integrity alert published", "alertId", alert.ID)
	publishSuccessCounter.Inc()
	return nil
}

func toKafkaMessage(alert message.IntegrityAlert) (kafka.Message, error) {
	value, err := json.Marshal(alert)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshal integrity alert")
	}
	return kafka.Message{
		Key:     []byte(alert.Receipt),
		Value:   value,
		Headers: []kafka.Header{{Key: sourceHeader, Value: []byte(alert.Source)}},
		Time:    alert.DetectedAt,
	}, nil
}
