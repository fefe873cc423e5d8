package kafka

import (
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"payments-service/internal/config"
)

func NewWriter(cfg config.Kafka) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Broker.URL, ",")...),
		Topic:                  cfg.Topic.IntegrityAlerts,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              cfg.Writer.BatchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           time.Duration(cfg.Writer.BatchTimeoutMs) * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}
