package service

import (
	"time"

	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/domain/customer"
	"github.com/flexprice/billing/internal/domain/events"
	"github.com/flexprice/billing/internal/domain/payment"
	"github.com/flexprice/billing/internal/domain/paymentretry"
	"github.com/flexprice/billing/internal/domain/plan"
	"github.com/flexprice/billing/internal/domain/subscription"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/metrics"
	"github.com/flexprice/billing/internal/postgres"
	"github.com/flexprice/billing/internal/pubsub"
	"github.com/flexprice/billing/internal/sentry"
	"github.com/flexprice/billing/internal/types"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger  *logger.Logger
	Config  *config.Configuration
	DB      postgres.IClient
	Clock   types.Clock
	Metrics *metrics.Metrics
	Sentry  *sentry.Service

	// Repositories
	SubRepo          subscription.Repository
	SubHistoryRepo   subscription.HistoryRepository
	PaymentRetryRepo paymentretry.Repository
	OutboxRepo       events.OutboxRepository

	// Collaborators
	Catalogue      plan.Catalogue
	CustomerLookup customer.Lookup
	PaymentGateway payment.Gateway

	// Publishers
	EventPublisher pubsub.PubSub
}

// NewServiceParams creates a new service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	clock types.Clock,
	metrics *metrics.Metrics,
	sentry *sentry.Service,
	subRepo subscription.Repository,
	subHistoryRepo subscription.HistoryRepository,
	paymentRetryRepo paymentretry.Repository,
	outboxRepo events.OutboxRepository,
	catalogue plan.Catalogue,
	customerLookup customer.Lookup,
	paymentGateway payment.Gateway,
	eventPublisher pubsub.PubSub,
) ServiceParams {
	return ServiceParams{
		Logger:           logger,
		Config:           config,
		DB:               db,
		Clock:            clock,
		Metrics:          metrics,
		Sentry:           sentry,
		SubRepo:          subRepo,
		SubHistoryRepo:   subHistoryRepo,
		PaymentRetryRepo: paymentRetryRepo,
		OutboxRepo:       outboxRepo,
		Catalogue:        catalogue,
		CustomerLookup:   customerLookup,
		PaymentGateway:   paymentGateway,
		EventPublisher:   eventPublisher,
	}
}

func (p ServiceParams) now() time.Time {
	if p.Clock == nil {
		return time.Now().UTC()
	}
	return p.Clock.Now()
}

func (p ServiceParams) retryPolicy() paymentretry.Policy {
	return paymentretry.NewPolicy(p.Config.PaymentRetry)
}
