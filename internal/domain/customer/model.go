package customer

import "context"

type Customer struct {
	ID string `json:"id"`
}

// Lookup checks customers in the customer service.
type Lookup interface {
	// GetCustomerByID returns ErrNotFound when the customer does not exist.
	GetCustomerByID(ctx context.Context, customerID string) (*Customer, error)
}
