package types

import "time"

// Clock supplies the current instant to services and sweeps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns a Clock reading the wall clock in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}
