package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/ingestion"
	obsmetrics "github.com/smallbiznis/possync/internal/observability/metrics"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobRecoverySweep = "recovery_sweep"
	JobIngestion     = "ingestion"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Ingester processes uploaded pushes.
type Ingester interface {
	ProcessPending(ctx context.Context) ([]ingestion.EventResult, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Ledger    syncdomain.Service
	Ingestion *ingestion.Service
	Config    Config                  `optional:"true"`
	Metrics   *obsmetrics.SyncMetrics `optional:"true"`
}

// Scheduler runs the admin node's periodic work: failing abandoned sync events
// and ingesting uploaded pushes.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	ledger    syncdomain.Service
	ingestion Ingester
	metrics   *obsmetrics.SyncMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Ledger == nil || p.Ingestion == nil {
		return nil, ErrInvalidConfig
	}
	return newScheduler(p, p.Ingestion), nil
}

func newScheduler(p Params, ingester Ingester) *Scheduler {
	return &Scheduler{
		log:       p.Log.Named("scheduler"),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		ledger:    p.Ledger,
		ingestion: ingester,
		metrics:   p.Metrics,
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)

	err := fn(ctx, run)
	s.metrics.ObserveJob(name, s.clock.Now().Sub(start), err)
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout; the next tick picks up the remaining work.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("scheduler.job.timed_out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context, *jobRun) error
	}{
		{JobRecoverySweep, s.RecoverySweepJob},
		{JobIngestion, s.IngestionJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler.run_failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// RecoverySweepJob fails sync events stuck in progress past the recovery
// threshold so their locations can sync again.
func (s *Scheduler) RecoverySweepJob(ctx context.Context, run *jobRun) error {
	recovered, err := s.ledger.RecoverStale(ctx)
	if err != nil {
		return err
	}
	run.AddProcessed(int(recovered))
	return nil
}

// IngestionJob ingests the latest uploaded push of every location. Another
// worker holding the ingestion lock is not an error.
func (s *Scheduler) IngestionJob(ctx context.Context, run *jobRun) error {
	results, err := s.ingestion.ProcessPending(ctx)
	if errors.Is(err, ingestion.ErrIngestionRunning) {
		s.logger(ctx).Info("scheduler.ingestion.skipped", zap.String("reason", "running elsewhere"))
		return nil
	}
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Status == "" && result.Err == nil {
			continue
		}
		if result.Status == syncdomain.StatusFailed || result.Err != nil {
			s.logJobError(ctx, run, JobIngestion, result)
			continue
		}
		run.AddProcessed(1)
	}
	return nil
}
