package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"payments-service/internal/api"
	"payments-service/internal/gateway"
	"payments-service/internal/metrics"
	"payments-service/internal/service"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	metrics.Setup(cfg.Metrics, logger)

	st, err := openStores(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.close()

	tenantCache, closeCache, err := openTenantCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	alerts, closeAlerts := openAlerts(cfg.Kafka, logger)
	defer closeAlerts()

	registry := service.NewRegistry(st.tenants, tenantCache, cfg.Intake, logger)
	if _, err := registry.EnsureDefaultBucket(ctx); err != nil {
		return errors.Wrap(err, "default intake bucket unavailable")
	}

	reconciler := service.NewReconciler(st.payments, st.orphans, alerts, logger)
	service.NewOrphanSweeper(st.orphans, cfg.Intake.OrphanSweepInterval(), cfg.Intake.OrphanRetention(), logger).Start(ctx)
	handler := api.NewHandler(
		registry,
		service.NewInitiator(st.payments, gateway.NewDaraja(cfg.Gateway, logger), reconciler, cfg.Gateway.Timeout(), logger),
		reconciler,
		service.NewIntake(registry, st.payments, alerts, logger),
		service.NewVerifier(st.payments, logger),
		service.NewClaimer(registry, st.payments, logger),
		logger,
	)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(handler, metrics.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
