package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"payments-service/internal/service"
)

func tenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage tenant applications",
	}
	cmd.AddCommand(tenantsCreateCmd())
	cmd.AddCommand(tenantsDeactivateCmd())
	return cmd
}

func tenantsCreateCmd() *cobra.Command {
	var credential string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Register a tenant and print its API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, registry *service.Registry) error {
				tenant, err := registry.CreateTenant(ctx, args[0], credential)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "id:         %s\nname:       %s\ncredential: %s\n",
					tenant.ID, tenant.DisplayName, tenant.Credential)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&credential, "credential", "", "API key to assign (generated when empty)")
	return cmd
}

func tenantsDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate NAME",
		Short: "Revoke a tenant's API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, registry *service.Registry) error {
				tenant, err := registry.DeactivateTenant(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s (%s)\n", tenant.DisplayName, tenant.ID)
				return nil
			})
		},
	}
}

func withRegistry(ctx context.Context, fn func(context.Context, *service.Registry) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

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

	return fn(ctx, service.NewRegistry(st.tenants, tenantCache, cfg.Intake, logger))
}
