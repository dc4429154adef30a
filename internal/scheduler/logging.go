package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/observability/logger"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a job. Methods tolerate a nil receiver.
type jobRun struct {
	job       string
	runID     string
	startedAt time.Time
	processed int
	failed    int
}

func (r *jobRun) AddProcessed(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.failed++
	}
}

func (r *jobRun) fields() []zap.Field {
	return []zap.Field{zap.String("job", r.job), zap.String("run_id", r.runID)}
}

// withLogContext runs background work as the system actor, scoped to
// businessID when one is given.
func (s *Scheduler) withLogContext(ctx context.Context, businessID snowflake.ID) context.Context {
	ctx = orgcontext.WithActor(ctx, orgcontext.SystemActor)
	if businessID != 0 {
		ctx = orgcontext.WithBusinessID(ctx, businessID)
	}
	return ctx
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return logger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start", run.fields()...)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := append(run.fields(),
		zap.Duration("elapsed", s.clock.Now().Sub(run.startedAt)),
		zap.Int("processed", run.processed),
		zap.Int("failed", run.failed),
	)
	if run.failed > 0 {
		s.logger(ctx).Warn("scheduler.job.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}

// logTenantError records a per-tenant failure without aborting the batch.
func (s *Scheduler) logTenantError(ctx context.Context, run *jobRun, msg string, businessID snowflake.ID, err error) {
	run.IncError()
	s.logger(s.withLogContext(ctx, businessID)).Error(msg, append(run.fields(), zap.Error(err))...)
}
