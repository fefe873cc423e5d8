package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"payments-service/internal/kafka"
	"payments-service/internal/message"
)

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect integrity alerts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "tail",
		Short: "Print integrity alerts from Kafka as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.Kafka.Broker.URL == "" {
				return errors.New("kafka.broker.url is not configured")
			}

			reader := kafka.NewReader(cfg.Kafka)
			defer reader.Close()

			out := json.NewEncoder(cmd.OutOrStdout())
			return kafka.ReadIntegrityAlerts(ctx, reader, logger, func(_ context.Context, alert message.IntegrityAlert) error {
				return out.Encode(alert)
			})
		},
	})
	return cmd
}
