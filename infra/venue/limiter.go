package venue

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Limiter is a token bucket: rate tokens per second, at most burst held.
type Limiter struct {
	mu     sync.Mutex
	rate   decimal.Decimal
	burst  decimal.Decimal
	tokens decimal.Decimal
	last   time.Time
	now    func() time.Time
}

var one = decimal.NewFromInt(1)

func NewLimiter(perSecond float64, burst int) *Limiter {
	l := &Limiter{
		rate:  decimal.NewFromFloat(perSecond),
		burst: decimal.NewFromInt(int64(burst)),
		now:   time.Now,
	}
	l.tokens = l.burst
	l.last = l.now()
	return l
}

// Allow takes a token if one is available. It never waits.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := decimal.NewFromFloat(now.Sub(l.last).Seconds())
	l.last = now

	l.tokens = decimal.Min(l.burst, l.tokens.Add(elapsed.Mul(l.rate)))
	if l.tokens.LessThan(one) {
		return false
	}
	l.tokens = l.tokens.Sub(one)
	return true
}
