package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/possync/internal/config"
	"github.com/smallbiznis/possync/internal/scheduler"
	"github.com/smallbiznis/possync/internal/seed"
	"github.com/smallbiznis/possync/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type seedDeps struct {
	fx.In

	Seeder *seed.Seeder
}

type serveDeps struct {
	fx.In

	Config config.Config
	Server *server.Server
}

var paramsInitCmd = &cobra.Command{
	Use:   "params-init",
	Short: "Insert missing default system parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, func(ctx context.Context, deps seedDeps) error {
			inserted, err := deps.Seeder.EnsureParameters(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{"inserted": inserted})
			}
			if len(inserted) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "All parameters already present")
				return nil
			}
			for _, code := range inserted {
				fmt.Fprintf(cmd.OutOrStdout(), "Inserted %s\n", code)
			}
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, func(ctx context.Context, deps struct{ fx.In }) error {
			fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date")
			return nil
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync API (admin node) or the POS API (location node)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, func(ctx context.Context, deps serveDeps) error {
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s node on %s\n", deps.Config.Node, deps.Config.HTTPAddr)
			<-ctx.Done()
			return nil
		}, server.Module, scheduler.Module)
	},
}
