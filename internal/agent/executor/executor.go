// Package executor implements one executor per action kind. Executors read
// and extend the session's knowledge store, charge the session budget for
// every external call they make and never fail a whole step because one
// sub-call failed.
package executor

import (
	"context"
	"sync"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

// Env is the session state an executor works against.
type Env struct {
	Question core.Question
	// Focus is the question the current step works on: the original or an
	// open knowledge gap.
	Focus  string
	Step   int
	Store  *knowledge.Store
	Budget *budget.Controller
	Trace  *core.Trace
}

// Executor performs one action kind.
type Executor interface {
	Kind() action.Kind
	Execute(ctx context.Context, d action.Decision, env Env) (core.Outcome, error)
}

// tally charges the session budget and remembers what this step spent.
type tally struct {
	mu     sync.Mutex
	budget *budget.Controller
	spent  budget.Usage
}

func newTally(b *budget.Controller) *tally { return &tally{budget: b} }

func (t *tally) Charge(u budget.Usage) {
	if t.budget != nil {
		t.budget.Charge(u)
	}
	t.mu.Lock()
	t.spent = t.spent.Add(u)
	t.mu.Unlock()
}

func (t *tally) total() budget.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent
}
