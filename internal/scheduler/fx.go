package scheduler

import (
	"context"

	"github.com/smallbiznis/possync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

// NewScheduler runs the jobs in the background on the admin node.
func NewScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler, log *zap.Logger) {
	if !cfg.IsAdmin() || sched.cfg.RunInterval <= 0 {
		log.Info("scheduler.disabled", zap.String("node", cfg.Node))
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})

			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})

			return nil
		},
	})
}
