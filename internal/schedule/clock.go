package schedule

import "time"

// Clock abstracts the time source so trigger arithmetic and waits are
// testable without real sleeps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall-clock implementation used in production.
var SystemClock Clock = systemClock{}
