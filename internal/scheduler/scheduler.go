package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/billing/internal/config"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/service"
	"github.com/flexprice/billing/internal/types"
	"github.com/robfig/cron/v3"
)

// Scheduler runs the billing sweeps in-process on their cron schedules. It
// is the scheduler for deployments without Temporal.
type Scheduler struct {
	cfg          config.SchedulerConfig
	sweepService service.BillingSweepService
	logger       *logger.Logger
	timeout      time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[types.BillingSweep]cron.EntryID
}

func NewScheduler(cfg *config.Configuration, sweepService service.BillingSweepService, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cfg:          cfg.Scheduler,
		sweepService: sweepService,
		logger:       log,
		timeout:      30 * time.Minute,
		entries:      make(map[types.BillingSweep]cron.EntryID),
	}
}

// Start registers every sweep that has a schedule and starts the cron loop.
// A sweep still running when its next tick fires is skipped for that tick.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	cronLogger := s.logger.GetCronLogger()
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	schedules := s.cfg.Schedules()
	for _, sweep := range types.AllBillingSweeps {
		spec := schedules[sweep]
		if spec == "" {
			continue
		}

		sweep := sweep
		id, err := c.AddFunc(spec, func() { s.runSweep(sweep) })
		if err != nil {
			return ierr.WithError(err).
				WithHintf("Invalid cron schedule %q for sweep %s", spec, sweep).
				Mark(ierr.ErrValidation)
		}
		s.entries[sweep] = id
	}

	c.Start()
	s.cron = c
	s.logger.Infow("billing sweep scheduler started", "sweeps", len(s.entries))
	return nil
}

// Stop stops scheduling and waits for running sweeps until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.entries = make(map[types.BillingSweep]cron.EntryID)
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next time sweep is due, or false when it is not scheduled.
func (s *Scheduler) Next(sweep types.BillingSweep) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[sweep]
	if !ok || s.cron == nil {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) runSweep(sweep types.BillingSweep) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx = types.WithJobName(ctx, sweep.String())

	start := time.Now()
	result, err := s.sweepService.RunSweep(ctx, sweep)
	if err != nil {
		s.logger.Errorw("scheduled billing sweep failed", "sweep", sweep, "error", err)
		return
	}

	s.logger.Infow("scheduled billing sweep finished",
		"sweep", sweep,
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"took_ms", time.Since(start).Milliseconds())
}
