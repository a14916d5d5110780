// Package circuitbreaker stops calling a failing provider for a cool-down
// period instead of letting every research step wait on it.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of a Breaker.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	}
	return "unknown"
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes a Breaker.
type Config struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
	MaxHalfOpen      uint32
	OnStateChange    func(name string, from, to State)
}

// DefaultConfig returns the thresholds used for research providers.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 1, Timeout: 30 * time.Second, MaxHalfOpen: 1}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxHalfOpen == 0 {
		c.MaxHalfOpen = c.SuccessThreshold
	}
	return c
}

// Breaker is a closed/open/half-open circuit breaker.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	generation  uint64
	failures    uint32
	successes   uint32
	inFlight    uint32
	openedUntil time.Time
}

// New returns a closed breaker. A nil logger is replaced by a no-op one.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{name: name, config: cfg.normalize(), logger: logger, now: time.Now}
}

// Execute runs fn unless the breaker is open. Context cancellation by the
// caller is not counted as a provider failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := b.before()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			b.after(gen, false)
			panic(r)
		}
	}()
	err = fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.release(gen)
		return err
	}
	b.after(gen, err == nil)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current(b.now())
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.current(b.now()) {
	case Open:
		return b.generation, ErrOpen
	case HalfOpen:
		if b.inFlight >= b.config.MaxHalfOpen {
			return b.generation, ErrTooManyRequests
		}
	}
	b.inFlight++
	return b.generation, nil
}

func (b *Breaker) release(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen == b.generation && b.inFlight > 0 {
		b.inFlight--
	}
}

func (b *Breaker) after(gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	state := b.current(now)
	if gen != b.generation {
		return
	}
	if b.inFlight > 0 {
		b.inFlight--
	}
	switch {
	case ok && state == Closed:
		b.failures = 0
	case ok && state == HalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(Closed, now)
		}
	case !ok && state == Closed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transition(Open, now)
		}
	case !ok && state == HalfOpen:
		b.transition(Open, now)
	}
}

func (b *Breaker) current(now time.Time) State {
	if b.state == Open && !now.Before(b.openedUntil) {
		b.transition(HalfOpen, now)
	}
	return b.state
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.generation++
	b.failures, b.successes, b.inFlight = 0, 0, 0
	if to == Open {
		b.openedUntil = now.Add(b.config.Timeout)
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
	b.logger.Info("circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
