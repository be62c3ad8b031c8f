package promise

import "time"

// Clock is the single time source for deadline logic, injectable so
// expiry behaviour is deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func NewSystemClock() Clock { return systemClock{} }
