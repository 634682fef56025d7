package testutil

import (
	"context"
	"time"

	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/domain/plan"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/metrics"
	"github.com/flexprice/billing/internal/pubsub"
	"github.com/flexprice/billing/internal/pubsub/memory"
	"github.com/flexprice/billing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// Stores holds all in-memory repositories and collaborator fakes.
type Stores struct {
	SubscriptionRepo        *InMemorySubscriptionStore
	SubscriptionHistoryRepo *InMemorySubscriptionHistoryStore
	PaymentRetryRepo        *InMemoryPaymentRetryStore
	OutboxRepo              *InMemoryOutboxStore
	Catalogue               *InMemoryCatalogue
	CustomerLookup          *InMemoryCustomerLookup
	PaymentGateway          *MockPaymentGateway
}

// BaseServiceTestSuite provides common functionality for service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	stores    Stores
	db        *MockPostgresClient
	logger    *logger.Logger
	config    *config.Configuration
	clock     *FakeClock
	metrics   *metrics.Metrics
	publisher pubsub.PubSub
	now       time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	s.config = config.GetDefaultConfig()
	s.logger = logger.NewNopLogger()
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	if s.config == nil {
		s.SetupSuite()
	}
	s.ctx = context.Background()
	s.now = time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)
	s.clock = NewFakeClock(s.now)
	s.db = NewMockPostgresClient()
	s.metrics = metrics.NewNopMetrics()
	s.publisher = memory.NewPubSub(s.logger)
	s.setupStores()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.ClearStores()
	if s.publisher != nil {
		_ = s.publisher.Close()
	}
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		SubscriptionRepo:        NewInMemorySubscriptionStore(),
		SubscriptionHistoryRepo: NewInMemorySubscriptionHistoryStore(),
		PaymentRetryRepo:        NewInMemoryPaymentRetryStore(),
		OutboxRepo:              NewInMemoryOutboxStore(),
		Catalogue:               NewInMemoryCatalogue(),
		CustomerLookup:          NewInMemoryCustomerLookup(),
		PaymentGateway:          new(MockPaymentGateway),
	}
}

// ClearStores empties every in-memory repository.
func (s *BaseServiceTestSuite) ClearStores() {
	s.stores.SubscriptionRepo.Clear()
	s.stores.SubscriptionHistoryRepo.Clear()
	s.stores.PaymentRetryRepo.Clear()
	s.stores.OutboxRepo.Clear()
}

func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

func (s *BaseServiceTestSuite) GetDB() *MockPostgresClient {
	return s.db
}

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

func (s *BaseServiceTestSuite) GetClock() *FakeClock {
	return s.clock
}

func (s *BaseServiceTestSuite) GetMetrics() *metrics.Metrics {
	return s.metrics
}

func (s *BaseServiceTestSuite) GetPublisher() pubsub.PubSub {
	return s.publisher
}

// GetNow returns the instant the clock was set to for this test.
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now
}

// AddPlan registers a plan in the fake catalogue and returns it.
func (s *BaseServiceTestSuite) AddPlan(id string, price string, cycle types.BillingCycle, trialDays int) *plan.Plan {
	p := &plan.Plan{
		ID:           id,
		Name:         id,
		Price:        decimal.RequireFromString(price),
		BillingCycle: cycle,
		TrialEnabled: trialDays > 0,
		TrialDays:    trialDays,
	}
	s.stores.Catalogue.AddPlan(p)
	return p
}
