package sentry

import (
	"context"
	"time"

	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/logger"
	"github.com/getsentry/sentry-go"
)

// Service reports failures of sweeps, the retry processor and event
// handlers. Every method is a no-op when Sentry is disabled.
type Service struct {
	cfg     *config.Configuration
	logger  *logger.Logger
	enabled bool
}

// NewSentryService initialises the global Sentry client when enabled.
func NewSentryService(cfg *config.Configuration, log *logger.Logger) *Service {
	s := &Service{cfg: cfg, logger: log}
	if !cfg.Sentry.Enabled || cfg.Sentry.DSN == "" {
		return s
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.Sentry.Environment,
		SampleRate:       cfg.Sentry.SampleRate,
		EnableTracing:    true,
		TracesSampleRate: cfg.Sentry.SampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		log.Errorw("failed to initialize sentry", "error", err)
		return s
	}

	s.enabled = true
	log.Infow("sentry initialized", "environment", cfg.Sentry.Environment)
	return s
}

func (s *Service) IsEnabled() bool {
	return s != nil && s.enabled
}

func (s *Service) CaptureException(err error) {
	if !s.IsEnabled() || err == nil {
		return
	}
	sentry.CaptureException(err)
}

// CaptureExceptionWithTags reports err with searchable tags such as the
// sweep or the payment retry id.
func (s *Service) CaptureExceptionWithTags(err error, tags map[string]string) {
	if !s.IsEnabled() || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// StartMonitoringSpan starts a transaction-bound span. Returns a nil span
// and the unchanged ctx when disabled.
func (s *Service) StartMonitoringSpan(ctx context.Context, operation string, data map[string]interface{}) (*sentry.Span, context.Context) {
	if !s.IsEnabled() {
		return nil, ctx
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
		ctx = sentry.SetHubOnContext(ctx, hub)
	}

	span := sentry.StartSpan(ctx, operation)
	for k, v := range data {
		span.SetData(k, v)
	}
	return span, span.Context()
}

func (s *Service) Flush(timeout time.Duration) bool {
	if !s.IsEnabled() {
		return true
	}
	return sentry.Flush(timeout)
}
