package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"

	"payments-service/internal/alert"
	"payments-service/internal/cache"
	"payments-service/internal/config"
	"payments-service/internal/db"
	"payments-service/internal/kafka"
	"payments-service/internal/logging"
	"payments-service/internal/memstore"
	"payments-service/internal/service"
)

// stores is the storage backend selected by database.driver.
type stores struct {
	tenants  service.TenantStore
	payments service.PaymentStore
	orphans  service.OrphanStore
	close    func()
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load config")
	}
	logger := logging.GetLogger(cfg.Logs)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStores(ctx context.Context, cfg config.Database, logger *slog.Logger) (*stores, error) {
	if cfg.Driver == "memory" {
		logger.WarnContext(ctx, "Using in-memory store, data is lost on exit")
		store := memstore.New()
		return &stores{
			tenants:  store.Tenants(),
			payments: store.Payments(),
			orphans:  store.Orphans(),
			close:    func() {},
		}, nil
	}

	if err := db.RunMigrations(cfg.ConnString()); err != nil {
		return nil, err
	}
	pool, err := db.GetPool(ctx, cfg.ConnString(), cfg.MaxConns)
	if err != nil {
		return nil, err
	}
	return &stores{
		tenants:  db.NewTenantRepository(pool),
		payments: db.NewPaymentRepository(pool),
		orphans:  db.NewOrphanRepository(pool),
		close:    pool.Close,
	}, nil
}

// openTenantCache returns nil when no Redis is configured.
func openTenantCache(ctx context.Context, cfg config.Cache, logger *slog.Logger) (service.TenantCache, func(), error) {
	if cfg.RedisURL == "" {
		return nil, func() {}, nil
	}
	client, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	ttl := time.Duration(cfg.TenantTTLSeconds) * time.Second
	return cache.NewTenantCache(client, ttl, logger), func() { _ = client.Close() }, nil
}

// openAlerts always logs alerts and also publishes them to Kafka when a broker
// is configured.
func openAlerts(cfg config.Kafka, logger *slog.Logger) (alert.Publisher, func()) {
	chain := alert.Chain{alert.NewLogPublisher(logger)}
	if cfg.Broker.URL == "" {
		return chain, func() {}
	}

	writer := kafka.NewWriter(cfg)
	chain = append(chain, kafka.NewAlertPublisher(writer, logger))
	return chain, func() { closeWriter(writer, logger) }
}

func closeWriter(writer *kafkago.Writer, logger *slog.Logger) {
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", "error", err)
	}
}
