package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/client"
	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/config"
	"github.com/smallbiznis/possync/internal/contingency"
	"github.com/smallbiznis/possync/internal/ingestion"
	"github.com/smallbiznis/possync/internal/migration"
	"github.com/smallbiznis/possync/internal/observability"
	"github.com/smallbiznis/possync/internal/pullsync"
	"github.com/smallbiznis/possync/internal/pushsync"
	"github.com/smallbiznis/possync/internal/ratelimit"
	"github.com/smallbiznis/possync/internal/reference"
	"github.com/smallbiznis/possync/internal/remote"
	"github.com/smallbiznis/possync/internal/sales"
	"github.com/smallbiznis/possync/internal/seed"
	"github.com/smallbiznis/possync/internal/syncevent"
	"github.com/smallbiznis/possync/pkg/db"
	"github.com/smallbiznis/possync/pkg/telemetry"
	"github.com/smallbiznis/possync/pkg/telemetry/correlation"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const stopTimeout = 15 * time.Second

func baseOptions() []fx.Option {
	return []fx.Option{
		// Core Infrastructure
		config.Module,
		observability.Module,
		telemetry.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		// Functional Domains
		syncevent.Module,
		reference.Module,
		client.Module,
		contingency.Module,
		sales.Module,
		remote.Module,
		pullsync.Module,
		pushsync.Module,
		ingestion.Module,
		seed.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
	}
}

func newSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}

// runCommand boots the application, fills deps from the container and runs fn
// until it returns or the process is interrupted. T is a struct embedding fx.In.
func runCommand[T any](cmd *cobra.Command, fn func(ctx context.Context, deps T) error, extra ...fx.Option) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, _ = correlation.EnsureCorrelationID(ctx)

	var deps T
	opts := append(baseOptions(), extra...)
	opts = append(opts, fx.Populate(&deps))

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	runErr := fn(ctx, deps)

	stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer stop()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
