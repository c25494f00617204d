package monotonic

import (
	"time"

	"github.com/btorressz/micro-batch-amm/domain"
)

// Clock derives slots from the process monotonic clock: slot n begins
// n*slotDuration after the clock was created. Never wall-clock.
type Clock struct {
	start        time.Time
	slotDuration time.Duration
}

func CreateClock(slotDuration time.Duration) *Clock {
	return &Clock{
		start:        time.Now(),
		slotDuration: slotDuration,
	}
}

var _ domain.Clock = (*Clock)(nil)

func (c *Clock) Now() uint64 {
	return uint64(time.Since(c.start) / c.slotDuration)
}
