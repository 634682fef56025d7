package service

import (
	"context"
	"errors"
	"sync"

	"github.com/flexprice/billing/internal/config"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/sentry"
	billingService "github.com/flexprice/billing/internal/service"
	temporalClient "github.com/flexprice/billing/internal/temporal/client"
	"github.com/flexprice/billing/internal/temporal/activities"
	"github.com/flexprice/billing/internal/temporal/interceptor"
	"github.com/flexprice/billing/internal/temporal/models"
	temporalWorker "github.com/flexprice/billing/internal/temporal/worker"
	"github.com/flexprice/billing/internal/temporal/workflows"
	"github.com/flexprice/billing/internal/types"
	"github.com/samber/lo"
	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	sdkinterceptor "go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"go.temporal.io/sdk/worker"
)

// TemporalService runs the billing sweeps on Temporal: it hosts the worker,
// keeps one schedule per sweep and lets callers trigger a sweep on demand.
type TemporalService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsHealthy(ctx context.Context) bool
	EnsureSchedules(ctx context.Context) error
	TriggerSweep(ctx context.Context, sweep types.BillingSweep) (*types.BatchResult, error)
}

type temporalService struct {
	cfg          *config.Configuration
	logger       *logger.Logger
	sentry       *sentry.Service
	sweepService billingService.BillingSweepService
	client       temporalClient.TemporalClient
	workers      temporalWorker.TemporalWorkerManager

	mu      sync.Mutex
	started bool
}

func NewTemporalService(
	cfg *config.Configuration,
	log *logger.Logger,
	sentryService *sentry.Service,
	sweepService billingService.BillingSweepService,
) TemporalService {
	c := temporalClient.NewTemporalClient(cfg, log)
	return &temporalService{
		cfg:          cfg,
		logger:       log,
		sentry:       sentryService,
		sweepService: sweepService,
		client:       c,
		workers:      temporalWorker.NewTemporalWorkerManager(c.Client, log),
	}
}

func (s *temporalService) taskQueue() types.TemporalTaskQueue {
	return types.TemporalTaskQueue(lo.Ternary(s.cfg.Temporal.TaskQueue != "",
		s.cfg.Temporal.TaskQueue, types.TemporalTaskQueueBilling.String()))
}

func (s *temporalService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if err := s.client.Start(ctx); err != nil {
		return err
	}

	w, err := s.workers.GetOrCreateWorker(s.taskQueue(), worker.Options{
		Interceptors: []sdkinterceptor.WorkerInterceptor{
			interceptor.NewSentryInterceptor(s.sentry),
		},
	})
	if err != nil {
		return err
	}

	w.RegisterWorkflowWithOptions(workflows.BillingSweepWorkflow, workflow.RegisterOptions{
		Name: workflows.WorkflowBillingSweep,
	})
	w.RegisterActivity(activities.NewBillingSweepActivities(s.sweepService))

	if err := s.workers.StartWorker(s.taskQueue()); err != nil {
		return err
	}

	if s.cfg.Scheduler.Mode == config.SchedulerModeTemporal {
		if err := s.ensureSchedules(ctx); err != nil {
			return err
		}
	}

	s.started = true
	return nil
}

func (s *temporalService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	if err := s.workers.StopAllWorkers(); err != nil {
		s.logger.Errorw("failed to stop temporal workers", "error", err)
	}
	s.started = false
	return s.client.Stop(ctx)
}

func (s *temporalService) IsHealthy(ctx context.Context) bool {
	return s.client.IsHealthy(ctx)
}

func (s *temporalService) EnsureSchedules(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureSchedules(ctx)
}

func (s *temporalService) ensureSchedules(ctx context.Context) error {
	c := s.client.Client()
	if c == nil {
		return ierr.NewError("temporal client is not connected").
			WithHint("Start the Temporal service before creating schedules").
			Mark(ierr.ErrInternal)
	}

	for _, sweep := range types.AllBillingSweeps {
		cron := s.cfg.Scheduler.Schedules()[sweep]
		if cron == "" {
			s.logger.Infow("no schedule configured for sweep", "sweep", sweep)
			continue
		}
		if err := s.upsertSchedule(ctx, c, sweep, cron); err != nil {
			return err
		}
	}
	return nil
}

func (s *temporalService) upsertSchedule(ctx context.Context, c client.Client, sweep types.BillingSweep, cron string) error {
	scheduleID := models.ScheduleID(sweep)
	spec := client.ScheduleSpec{CronExpressions: []string{cron}}
	action := &client.ScheduleWorkflowAction{
		ID:        scheduleID,
		Workflow:  workflows.WorkflowBillingSweep,
		Args:      []interface{}{models.BillingSweepWorkflowInput{Sweep: sweep}},
		TaskQueue: s.taskQueue().String(),
	}

	_, err := c.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID:      scheduleID,
		Spec:    spec,
		Action:  action,
		Overlap: enums.SCHEDULE_OVERLAP_POLICY_SKIP,
	})
	if err == nil {
		s.logger.Infow("created billing sweep schedule", "sweep", sweep, "cron", cron)
		return nil
	}
	if !errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		return ierr.WithError(err).
			WithHintf("Failed to create schedule for sweep %s", sweep).
			WithReportableDetails(map[string]interface{}{
				"schedule_id": scheduleID,
				"cron":        cron,
			}).
			Mark(ierr.ErrSystem)
	}

	handle := c.ScheduleClient().GetHandle(ctx, scheduleID)
	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			schedule := input.Description.Schedule
			schedule.Spec = &spec
			schedule.Action = action
			return &client.ScheduleUpdate{Schedule: &schedule}, nil
		},
	})
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to update schedule for sweep %s", sweep).
			Mark(ierr.ErrSystem)
	}

	s.logger.Infow("updated billing sweep schedule", "sweep", sweep, "cron", cron)
	return nil
}

func (s *temporalService) TriggerSweep(ctx context.Context, sweep types.BillingSweep) (*types.BatchResult, error) {
	if err := sweep.Validate(); err != nil {
		return nil, err
	}

	c := s.client.Client()
	if c == nil {
		return nil, ierr.NewError("temporal client is not connected").
			WithHint("Temporal is not available").
			Mark(ierr.ErrSystem)
	}

	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        models.WorkflowID(sweep),
		TaskQueue: s.taskQueue().String(),
	}, workflows.WorkflowBillingSweep, models.BillingSweepWorkflowInput{Sweep: sweep})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Failed to start sweep %s", sweep).
			Mark(ierr.ErrSystem)
	}

	s.logger.Infow("started billing sweep workflow",
		"sweep", sweep,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID())

	var result types.BatchResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Sweep %s failed", sweep).
			Mark(ierr.ErrSystem)
	}
	return &result, nil
}
