package testutil

import (
	"context"
	"sync"

	"github.com/flexprice/billing/internal/domain/customer"
	"github.com/flexprice/billing/internal/domain/payment"
	"github.com/flexprice/billing/internal/domain/plan"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/stretchr/testify/mock"
)

// InMemoryCatalogue implements plan.Catalogue
type InMemoryCatalogue struct {
	mu    sync.RWMutex
	plans map[string]*plan.Plan
	// Err, when set, is returned by every lookup.
	Err   error
	calls int
}

func NewInMemoryCatalogue() *InMemoryCatalogue {
	return &InMemoryCatalogue{plans: make(map[string]*plan.Plan)}
}

func (c *InMemoryCatalogue) AddPlan(p *plan.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *p
	c.plans[p.ID] = &cp
}

func (c *InMemoryCatalogue) GetPlanByID(_ context.Context, planID string) (*plan.Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++

	if c.Err != nil {
		return nil, c.Err
	}
	p, ok := c.plans[planID]
	if !ok {
		return nil, ierr.NewErrorf("plan %s not found", planID).
			WithHintf("Plan %s does not exist", planID).
			Mark(ierr.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// Calls returns how many lookups were made.
func (c *InMemoryCatalogue) Calls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls
}

// InMemoryCustomerLookup implements customer.Lookup
type InMemoryCustomerLookup struct {
	mu        sync.RWMutex
	customers map[string]bool
	Err       error
}

func NewInMemoryCustomerLookup(ids ...string) *InMemoryCustomerLookup {
	l := &InMemoryCustomerLookup{customers: make(map[string]bool)}
	for _, id := range ids {
		l.customers[id] = true
	}
	return l
}

func (l *InMemoryCustomerLookup) AddCustomer(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.customers[id] = true
}

func (l *InMemoryCustomerLookup) GetCustomerByID(_ context.Context, customerID string) (*customer.Customer, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.Err != nil {
		return nil, l.Err
	}
	if !l.customers[customerID] {
		return nil, ierr.NewErrorf("customer %s not found", customerID).
			WithHintf("Customer %s does not exist", customerID).
			Mark(ierr.ErrNotFound)
	}
	return &customer.Customer{ID: customerID}, nil
}

// MockPaymentGateway is a testify mock of payment.Gateway
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) RetryPayment(ctx context.Context, req *payment.RetryRequest) (*payment.RetryResult, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*payment.RetryResult), args.Error(1)
	}
	return nil, args.Error(1)
}
