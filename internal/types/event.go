package types

// EventType names a domain event on the billing bus.
type EventType string

const (
	// outbound
	EventSubscriptionCreated      EventType = "SUBSCRIPTION_CREATED"
	EventSubscriptionTrialStarted EventType = "SUBSCRIPTION_TRIAL_STARTED"
	EventSubscriptionActivated    EventType = "SUBSCRIPTION_ACTIVATED"
	EventSubscriptionCancelled    EventType = "SUBSCRIPTION_CANCELLED"
	EventSubscriptionRenewed      EventType = "SUBSCRIPTION_RENEWED"
	EventSubscriptionPlanChanged  EventType = "SUBSCRIPTION_PLAN_CHANGED"
	EventSubscriptionUpdated      EventType = "SUBSCRIPTION_UPDATED"
	EventSubscriptionTrialEnded   EventType = "SUBSCRIPTION_TRIAL_ENDED"
	EventInvoiceCreated           EventType = "INVOICE_CREATED"
	EventBillingCreditApplied     EventType = "BILLING_CREDIT_APPLIED"

	// inbound
	EventPaymentSuccess EventType = "PAYMENT_SUCCESS"
	EventPaymentFailed  EventType = "PAYMENT_FAILED"
)

func (e EventType) String() string {
	return string(e)
}

// OutboxStatus tracks relay progress of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	// OutboxStatusFailed rows gave up after the relay attempt limit and are
	// no longer picked up.
	OutboxStatusFailed    OutboxStatus = "failed"
)
