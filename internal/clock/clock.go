package clock

import "time"

// Clock is the time source used for issuance dates and expiry sweeps.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}
