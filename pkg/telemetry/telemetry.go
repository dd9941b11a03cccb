package telemetry

import (
	"context"
	"time"

	"github.com/smallbiznis/possync/internal/config"
	"github.com/smallbiznis/possync/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires telemetry components via Fx.
var Module = fx.Module("telemetry",
	fx.Provide(NewTracerProvider),
	fx.Invoke(func(*trace.TracerProvider) {}),
)

// NewTracerProvider configures the OTLP exporter. Tracing stays on the global
// no-op provider when no endpoint is configured, and the result is nil.
func NewTracerProvider(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*trace.TracerProvider, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	cancel()
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.AppName),
			attribute.String("service.version", cfg.AppVersion),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("possync.node", cfg.Node),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSpanProcessor(&correlationSpanProcessor{}),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("telemetry.shutdown")
			return tp.Shutdown(ctx)
		},
	})

	logger.Info("telemetry.initialized", zap.String("endpoint", cfg.OTLPEndpoint))
	return tp, nil
}

// correlationSpanProcessor stamps every span with the run's correlation id.
type correlationSpanProcessor struct{}

func (p *correlationSpanProcessor) OnStart(ctx context.Context, s trace.ReadWriteSpan) {
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		s.SetAttributes(attribute.String("correlation_id", cid))
	}
}

func (p *correlationSpanProcessor) OnEnd(trace.ReadOnlySpan) {}

func (p *correlationSpanProcessor) Shutdown(context.Context) error { return nil }

func (p *correlationSpanProcessor) ForceFlush(context.Context) error { return nil }
