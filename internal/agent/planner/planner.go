// Package planner asks the generator to pick the next action from the set
// the session currently allows.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

// ErrInadmissibleAction is returned when the generator picks an action that
// was not offered. It is a schema violation.
var ErrInadmissibleAction = fmt.Errorf("%w: inadmissible action", llm.ErrSchemaViolation)

// ErrNoAction is returned when the allowed set is empty.
var ErrNoAction = errors.New("no admissible action")

// attempts is the planning call plus one local retry.
const attempts = 2

// Input is everything one planning call sees.
type Input struct {
	Question   core.Question
	Focus      string
	Allowed    action.Set
	Knowledge  []knowledge.Item
	Candidates []knowledge.RankedURL
	Queries    []string
	BadQueries []string
	Diary      []string
	Analyses   []core.Analysis
	Budget     budget.Snapshot
}

type Planner struct {
	llm    llm.Generator
	limits action.Limits
	logger *zap.Logger
	now    func() time.Time
}

func New(gen llm.Generator, limits action.Limits, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{llm: gen, limits: limits.Normalize(), logger: logger.Named("planner"), now: time.Now}
}

// Limits returns the per-step caps decisions are checked against.
func (p *Planner) Limits() action.Limits { return p.limits }

// Decide returns exactly one admissible, validated decision. An invalid
// output is retried once with the problem described; a second failure is
// returned to the caller.
func (p *Planner) Decide(ctx context.Context, in Input, meter llm.Meter) (action.Decision, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "Planner.Decide")
	defer span.End()
	span.SetAttributes(attribute.String("allowed", in.Allowed.String()))

	if in.Allowed.Empty() {
		span.SetStatus(codes.Error, ErrNoAction.Error())
		return action.Decision{}, ErrNoAction
	}

	req := llm.Request{
		System: plannerSystem,
		Prompt: buildPrompt(in, p.now()),
		Schema: decisionSchema(in.Allowed, p.limits),
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr != nil {
			req.Prompt = buildPrompt(in, p.now()) + fmt.Sprintf("\n\nYOUR PREVIOUS OUTPUT WAS REJECTED: %v\nChoose one of: %s.", lastErr, in.Allowed)
		}
		d, err := p.decideOnce(ctx, req, in.Allowed, meter)
		if err == nil {
			span.SetAttributes(attribute.String("action", string(d.Action)), attribute.Int("attempt", attempt))
			return d, nil
		}
		lastErr = err
		p.logger.Warn("planning attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return action.Decision{}, fmt.Errorf("plan: %w", lastErr)
}

func (p *Planner) decideOnce(ctx context.Context, req llm.Request, allowed action.Set, meter llm.Meter) (action.Decision, error) {
	raw, resp, err := llm.Object[rawDecision](ctx, p.llm, meter, req)
	if err != nil {
		return action.Decision{}, err
	}
	kind, ok := action.ParseKind(raw.Action)
	if !ok || !allowed.Has(kind) {
		return action.Decision{}, fmt.Errorf("%w: %q not in %s", ErrInadmissibleAction, raw.Action, allowed)
	}
	d := raw.decision(kind)
	if d.Think == "" {
		d.Think = resp.Think
	}
	return p.limits.Apply(d)
}
