package budget

import (
	"fmt"
	"sync"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
)

// Controller tracks spent tokens, loop steps and rejected answers for one
// session. Executors receive it explicitly and charge it directly.
type Controller struct {
	mu     sync.Mutex
	config Config
	usage  Usage
	steps  int
	bad    int
}

// NewController starts tracking against cfg. A zero MaxSteps falls back to
// DefaultMaxSteps so every session is bounded.
func NewController(cfg Config) *Controller {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.ReserveTokens > cfg.TokenLimit {
		cfg.ReserveTokens = cfg.TokenLimit
	}
	return &Controller{config: cfg}
}

// Charge adds u to the tally. Charges are never rolled back.
func (c *Controller) Charge(u Usage) {
	c.mu.Lock()
	c.usage = c.usage.Add(u)
	c.mu.Unlock()
}

// ChargeUnits charges n tokens of one category.
func (c *Controller) ChargeUnits(n int64, cat Category) { c.Charge(Units(n, cat)) }

func (c *Controller) spent() int64 { return c.usage.TotalTokens() }

// Spent returns prompt plus completion tokens consumed so far.
func (c *Controller) Spent() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spent()
}

// Remaining returns the tokens left before the limit, never negative.
func (c *Controller) Remaining() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.config.TokenLimit - c.spent(); r > 0 {
		return r
	}
	return 0
}

// Usage returns the categorised tally.
func (c *Controller) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// RecordStep counts one DECIDE/EXECUTE cycle and returns the new count.
func (c *Controller) RecordStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps++
	return c.steps
}

// RecordBadAttempt counts one rejected answer and returns the new count.
func (c *Controller) RecordBadAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bad++
	return c.bad
}

// Exceeded returns the first ceiling that has been reached, or nil.
func (c *Controller) Exceeded() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exceeded()
}

func (c *Controller) exceeded() error {
	if spent := c.spent(); spent >= c.config.TokenLimit {
		return ErrExceeded{
			Kind:  KindTokens,
			Usage: fmt.Sprintf("%d tokens", spent),
			Limit: fmt.Sprintf("%d tokens", c.config.TokenLimit),
		}
	}
	if c.bad >= c.config.MaxBadAttempts {
		return ErrExceeded{
			Kind:  KindBadAttempts,
			Usage: fmt.Sprintf("%d", c.bad),
			Limit: fmt.Sprintf("%d", c.config.MaxBadAttempts),
		}
	}
	if c.steps >= c.config.MaxSteps {
		return ErrExceeded{
			Kind:  KindSteps,
			Usage: fmt.Sprintf("%d", c.steps),
			Limit: fmt.Sprintf("%d", c.config.MaxSteps),
		}
	}
	return nil
}

// MustForceAnswer is true once tokens, bad attempts or steps are exhausted.
func (c *Controller) MustForceAnswer() bool { return c.Exceeded() != nil }

// CanContinue reports whether another planning step may run.
func (c *Controller) CanContinue() bool { return !c.MustForceAnswer() }

// AdmissibleActions narrows base to what the remaining budget allows. Once
// the remaining tokens fall below the reserve only answer stays offered;
// answer is always admissible.
func (c *Controller) AdmissibleActions(base action.Set) action.Set {
	c.mu.Lock()
	remaining := c.config.TokenLimit - c.spent()
	reserve := c.config.ReserveTokens
	c.mu.Unlock()
	if remaining < reserve {
		return action.NewSet(action.Answer)
	}
	return base.With(action.Answer)
}

// Snapshot is a point-in-time view for logs, prompts and responses.
type Snapshot struct {
	Limit          int64 `json:"limit"`
	Spent          int64 `json:"spent"`
	Reserve        int64 `json:"reserve"`
	Steps          int   `json:"steps"`
	MaxSteps       int   `json:"max_steps"`
	BadAttempts    int   `json:"bad_attempts"`
	MaxBadAttempts int   `json:"max_bad_attempts"`
	Usage          Usage `json:"usage"`
}

// Snapshot copies the current counters.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Limit:          c.config.TokenLimit,
		Spent:          c.spent(),
		Reserve:        c.config.ReserveTokens,
		Steps:          c.steps,
		MaxSteps:       c.config.MaxSteps,
		BadAttempts:    c.bad,
		MaxBadAttempts: c.config.MaxBadAttempts,
		Usage:          c.usage,
	}
}
