package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/seatledger/internal/clock"
	invoicedomain "github.com/smallbiznis/seatledger/internal/invoice/domain"
	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	seatdomain "github.com/smallbiznis/seatledger/internal/seat/domain"
	tenantdomain "github.com/smallbiznis/seatledger/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobOverdueSweep = "invoice_overdue_sweep"
	JobSeatRepair   = "seat_repair"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	InvoiceSvc invoicedomain.Service
	SeatSvc    seatdomain.Service
	Tenants    tenantdomain.Repository
	Config     Config
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	metrics    *metrics.Metrics
	invoiceSvc invoicedomain.Service
	seatSvc    seatdomain.Service
	tenants    tenantdomain.Repository
	cron       *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.InvoiceSvc == nil || p.SeatSvc == nil || p.Tenants == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		metrics:    p.Metrics,
		invoiceSvc: p.InvoiceSvc,
		seatSvc:    p.SeatSvc,
		tenants:    p.Tenants,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}, nil
}

// Start registers both jobs on their cron specs and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{JobOverdueSweep, s.cfg.OverdueSchedule, s.SweepOverdue},
		{JobSeatRepair, s.cfg.SeatRepairSchedule, s.RepairSeats},
	}
	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() {
			_ = s.runJob(ctx, job.name, job.fn)
		}); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.name, job.spec, err)
		}
	}
	s.cron.Start()
	s.log.Info("scheduler started",
		zap.String("overdue_schedule", s.cfg.OverdueSchedule),
		zap.String("seat_repair_schedule", s.cfg.SeatRepairSchedule),
	)
	return nil
}

// Stop waits for running jobs to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx = s.withLogContext(ctx, 0)
	run := &jobRun{job: name, runID: s.genID.Generate().String(), startedAt: s.clock.Now()}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
			s.logger(ctx).Error("scheduler.job.panic",
				zap.String("job", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		if err != nil {
			if run.failed == 0 {
				run.IncError()
			}
			s.metrics.IncJobError(name)
		}
		s.logJobFinish(ctx, run)
	}()

	return fn(ctx)
}

type jobRunKey struct{}

func jobRunFromContext(ctx context.Context) *jobRun {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return &jobRun{}
}

// SweepOverdue flips past-due invoices across every business.
func (s *Scheduler) SweepOverdue(ctx context.Context) error {
	n, err := s.invoiceSvc.SweepOverdue(ctx)
	jobRunFromContext(ctx).AddProcessed(int(n))
	return err
}

// RepairSeats reconciles every tenant with a live subscription. Failures are
// logged per tenant and do not stop the batch.
func (s *Scheduler) RepairSeats(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		states, err := s.tenants.ListWithSubscription(ctx, s.db, afterID, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, state := range states {
			afterID = state.BusinessID
			tenantCtx := s.withLogContext(ctx, state.BusinessID)
			if _, err := s.seatSvc.ReconcileSeats(tenantCtx, state.BusinessID); err != nil {
				s.logTenantError(ctx, run, "scheduler.seat_repair.failed", state.BusinessID, err)
				continue
			}
			run.AddProcessed(1)
		}
		if len(states) < s.cfg.BatchSize {
			return nil
		}
	}
}
