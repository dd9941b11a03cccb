package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/possync/internal/config"
	"github.com/smallbiznis/possync/internal/observability/logger"
	"github.com/smallbiznis/possync/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideLoggerConfig,
		logger.New,
		provideMetricsConfig,
		provideSyncMetrics,
	),
)

func provideLoggerConfig(cfg config.Config) logger.Config {
	return logger.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
		Version:     cfg.AppVersion,
		Node:        cfg.Node,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	}
}

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
		Node:        cfg.Node,
	}
}

func provideSyncMetrics(cfg metrics.Config) *metrics.SyncMetrics {
	return metrics.NewSyncMetrics(prometheus.DefaultRegisterer, cfg)
}
