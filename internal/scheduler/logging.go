package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/possync/internal/ingestion"
	obslogger "github.com/smallbiznis/possync/internal/observability/logger"
	"github.com/smallbiznis/possync/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	startedAt      time.Time
	processedCount int
	errorCount     int
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

// startJobRun tags ctx with a fresh correlation id so every sync event touched
// by the run logs under it.
func (s *Scheduler) startJobRun(ctx context.Context, job string) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	ctx = correlation.ContextWithCorrelationID(ctx, correlation.NewID())
	return ctx, run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Debug("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logJobError(ctx context.Context, run *jobRun, job string, result ingestion.EventResult) {
	run.IncError()
	fields := []zap.Field{
		zap.String("job", job),
		zap.String("run_id", run.runID),
		zap.String("sync_event_id", result.SyncEventID.String()),
		zap.String("location_code", result.LocationCode),
	}
	if result.Err != nil {
		fields = append(fields, zap.Error(result.Err))
	}
	s.logger(ctx).Error("scheduler.ingestion.location_failed", fields...)
}
