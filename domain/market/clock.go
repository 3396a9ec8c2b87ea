package market

import (
	"sync/atomic"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/cockroachdb/errors"
)

// Clock is the simulation's virtual time in nanoseconds. Only the
// simulator loop advances it; everything else reads.
type Clock struct {
	now atomic.Int64
}

func NewClock(start int64) *Clock {
	c := &Clock{}
	c.now.Store(start)
	return c
}

func (c *Clock) Now() int64 {
	return c.now.Load()
}

// AdvanceTo moves the clock to t. Equal timestamps are allowed.
func (c *Clock) AdvanceTo(t int64) error {
	cur := c.now.Load()
	if t < cur {
		return errors.Wrapf(errs.ErrNonMonotonicEvent, "event at %d behind clock %d", t, cur)
	}
	c.now.Store(t)
	return nil
}
