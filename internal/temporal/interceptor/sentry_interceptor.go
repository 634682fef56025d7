package interceptor

import (
	"context"
	"fmt"

	"github.com/flexprice/billing/internal/sentry"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/workflow"
)

// SentryInterceptor reports failed billing workflows and activities to Sentry.
type SentryInterceptor struct {
	interceptor.InterceptorBase
	sentry *sentry.Service
}

func NewSentryInterceptor(sentryService *sentry.Service) *SentryInterceptor {
	return &SentryInterceptor{
		sentry: sentryService,
	}
}

func (s *SentryInterceptor) InterceptWorkflow(ctx workflow.Context, next interceptor.WorkflowInboundInterceptor) interceptor.WorkflowInboundInterceptor {
	return &workflowInboundInterceptor{
		WorkflowInboundInterceptorBase: interceptor.WorkflowInboundInterceptorBase{Next: next},
		sentry:                         s.sentry,
	}
}

func (s *SentryInterceptor) InterceptActivity(ctx context.Context, next interceptor.ActivityInboundInterceptor) interceptor.ActivityInboundInterceptor {
	return &activityInboundInterceptor{
		ActivityInboundInterceptorBase: interceptor.ActivityInboundInterceptorBase{Next: next},
		sentry:                         s.sentry,
	}
}

type workflowInboundInterceptor struct {
	interceptor.WorkflowInboundInterceptorBase
	sentry *sentry.Service
}

func (w *workflowInboundInterceptor) ExecuteWorkflow(ctx workflow.Context, in *interceptor.ExecuteWorkflowInput) (interface{}, error) {
	result, err := w.Next.ExecuteWorkflow(ctx, in)

	// replays must not report twice
	if err == nil || !w.sentry.IsEnabled() || workflow.IsReplaying(ctx) {
		return result, err
	}

	info := workflow.GetInfo(ctx)
	workflow.GetLogger(ctx).Error("Billing workflow failed",
		"workflow_type", info.WorkflowType.Name,
		"workflow_id", info.WorkflowExecution.ID,
		"run_id", info.WorkflowExecution.RunID,
		"error", err)

	w.sentry.CaptureExceptionWithTags(
		fmt.Errorf("temporal workflow failed: %s: %w", info.WorkflowType.Name, err),
		map[string]string{
			"workflow_type": info.WorkflowType.Name,
			"workflow_id":   info.WorkflowExecution.ID,
			"task_queue":    info.TaskQueueName,
		})
	return result, err
}

type activityInboundInterceptor struct {
	interceptor.ActivityInboundInterceptorBase
	sentry *sentry.Service
}

func (a *activityInboundInterceptor) ExecuteActivity(ctx context.Context, in *interceptor.ExecuteActivityInput) (interface{}, error) {
	if !a.sentry.IsEnabled() {
		return a.Next.ExecuteActivity(ctx, in)
	}

	info := activity.GetInfo(ctx)
	span, spanCtx := a.sentry.StartMonitoringSpan(ctx, fmt.Sprintf("temporal.activity.%s", info.ActivityType.Name), map[string]interface{}{
		"activity_type": info.ActivityType.Name,
		"workflow_type": info.WorkflowType.Name,
		"workflow_id":   info.WorkflowExecution.ID,
		"task_queue":    info.TaskQueue,
		"attempt":       info.Attempt,
	})

	result, err := a.Next.ExecuteActivity(spanCtx, in)

	if span != nil {
		if err != nil {
			span.SetData("error", err.Error())
		}
		span.Finish()
	}

	if err != nil {
		a.sentry.CaptureExceptionWithTags(
			fmt.Errorf("temporal activity failed: %s: %w", info.ActivityType.Name, err),
			map[string]string{
				"activity_type": info.ActivityType.Name,
				"workflow_id":   info.WorkflowExecution.ID,
			})
	}
	return result, err
}
