package types

const (
	HeaderRequestID      = "X-Request-ID"
	HeaderAPIKey         = "X-Api-Key"
	HeaderIdempotencyKey = "Idempotency-Key"
)
