package venue

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// Breaker stops calls to a failing venue for Cooldown after
// FailureThreshold consecutive failures. Safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	log *zap.Logger
	now func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

func NewBreaker(cfg BreakerConfig, log *zap.Logger) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Breaker{cfg: cfg, log: log, now: time.Now}
}

func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
			b.state = StateHalfOpen
			b.successes = 0
			b.log.Info("breaker half-open", zap.String("name", b.cfg.Name))
			return true
		}
	}
	return false
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.log.Info("breaker closed", zap.String("name", b.cfg.Name))
		}
	}
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.log.Warn("breaker open",
				zap.String("name", b.cfg.Name),
				zap.Int("failures", b.failures))
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.log.Warn("breaker reopened", zap.String("name", b.cfg.Name))
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
