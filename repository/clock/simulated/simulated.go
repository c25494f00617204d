package simulated

import (
	"sync/atomic"

	"github.com/btorressz/micro-batch-amm/domain"
)

// Clock is a manually advanced slot counter for tests and local runs.
type Clock struct {
	slot atomic.Uint64
}

func CreateClock(startSlot uint64) *Clock {
	c := new(Clock)
	c.slot.Store(startSlot)
	return c
}

var _ domain.Clock = (*Clock)(nil)

func (c *Clock) Now() uint64 {
	return c.slot.Load()
}

func (c *Clock) Advance(slots uint64) {
	c.slot.Add(slots)
}

func (c *Clock) Set(slot uint64) {
	c.slot.Store(slot)
}
