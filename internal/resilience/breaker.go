package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the current mode of a Breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets a single probe through to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when a call is rejected during cooldown.
var ErrBreakerOpen = eris.New("breaker is open")

// BreakerConfig controls when the breaker trips and how long it rests. The
// render tier uses this so a dead or wedged Chrome does not stall every
// remaining row at the full render timeout.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures before opening.
	// Default: 3.
	Threshold int

	// Cooldown is how long the breaker stays open before allowing a probe.
	// Default: 2m.
	Cooldown time.Duration

	// OnStateChange is called on every transition.
	OnStateChange func(from, to BreakerState)
}

// Breaker is a consecutive-failure circuit breaker for a single downstream.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time

	nowFunc func() time.Time
}

// NewBreaker creates a Breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Minute
	}
	return &Breaker{
		cfg:     cfg,
		state:   BreakerClosed,
		nowFunc: time.Now,
	}
}

// Allow reports whether a call may proceed, returning ErrBreakerOpen during
// cooldown. After the cooldown elapses the breaker moves to half-open and
// lets a probe through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.nowFunc().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrBreakerOpen
		}
		b.transition(BreakerHalfOpen)
		return nil
	default:
		return nil
	}
}

// Record feeds a call outcome back into the breaker. A success closes it and
// clears the failure count; a failure increments the count and opens the
// breaker at the threshold. A failed half-open probe reopens immediately.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != BreakerClosed {
			b.transition(BreakerClosed)
		}
		b.failures = 0
		return
	}

	b.failures++
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.cfg.Threshold {
			b.openedAt = b.nowFunc()
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.openedAt = b.nowFunc()
		b.transition(BreakerOpen)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count for observability.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// ExecuteVal runs fn through the breaker, preserving its return value.
func ExecuteVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.Record(err)
	return val, err
}
