package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/evaluator"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/executor"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/finalizer"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/planner"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

// State names the loop phase.
type State string

const (
	StateInit        State = "INIT"
	StateDecide      State = "DECIDE"
	StateExecute     State = "EXECUTE"
	StateEvaluate    State = "EVALUATE"
	StateForceAnswer State = "FORCE_ANSWER"
	StateFinalize    State = "FINALIZE"
)

// errPanic marks an executor panic.
var errPanic = errors.New("executor panicked")

// session is the per-question state. It is driven by a single goroutine;
// only executors fan out internally.
type session struct {
	o      *Orchestrator
	req    Request
	q      core.Question
	store  *knowledge.Store
	ctrl   *budget.Controller
	trace  *core.Trace
	logger *zap.Logger

	state        State
	prev         action.Kind
	analyses     []core.Analysis
	improvements []string
	attemptFrom  int
	started      time.Time
}

func (o *Orchestrator) newSession(req Request) *session {
	return &session{
		o:      o,
		req:    req,
		store:  knowledge.NewStore(),
		ctrl:   budget.NewController(budget.Merge(o.cfg.Budget, req.Budget)),
		trace:  &core.Trace{},
		logger: o.logger.With(zap.String("session_id", req.ID)),
		state:  StateInit,
	}
}

func (s *session) run(ctx context.Context) (res Result) {
	ctx, span := telemetry.Tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", s.req.ID))
	s.started = time.Now()

	s.q = s.detect(ctx)
	s.logger.Info("session started",
		zap.String("question", s.q.Text),
		zap.Any("criteria", s.q.Criteria),
		zap.Int64("token_limit", s.ctrl.Snapshot().Limit),
	)

	var draft *core.AnswerDraft
	forced, reason := false, ""
	for draft == nil {
		if ctx.Err() != nil {
			draft, reason = s.force(ctx, ReasonCancelled), ReasonCancelled
			forced = true
			break
		}
		if err := s.ctrl.Exceeded(); err != nil {
			reason = forceReason(err)
			draft, forced = s.force(ctx, reason), true
			break
		}

		s.state = StateDecide
		step := s.ctrl.RecordStep()
		focus := s.focus(step)
		d, err := s.decide(ctx, step, focus)
		if err != nil {
			s.trace.Fail(step, core.EntryFatal, "planning", err)
			draft, forced, reason = s.force(ctx, ReasonPlanner), true, ReasonPlanner
			break
		}
		if s.req.Observer != nil {
			s.req.Observer(Event{SessionID: s.req.ID, Step: step, Action: d.Action, Think: d.Think})
		}

		s.state = StateExecute
		env := s.env(step, focus)
		out, err := s.execute(ctx, d, env)
		ref := core.RefOf(d)
		if errors.Is(err, errPanic) {
			s.trace.Add(core.Entry{Step: step, Kind: core.EntryFatal, Decision: &ref, Error: err.Error()})
			draft, forced, reason = s.force(ctx, ReasonFatal), true, ReasonFatal
			break
		}
		if err != nil {
			s.trace.Add(core.Entry{Step: step, Kind: core.EntryExecError, Decision: &ref, Error: err.Error()})
			s.prev = d.Action
			continue
		}
		s.trace.Add(core.Entry{Step: step, Kind: core.EntryStep, Decision: &ref, Outcome: out.Summary})
		s.prev = d.Action

		if out.Draft != nil {
			draft, forced, reason = s.handleDraft(ctx, step, focus, out.Draft)
		}
		if draft == nil && s.o.cfg.StepSleep > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.o.cfg.StepSleep):
			}
		}
	}

	s.state = StateFinalize
	final := finalizer.Finalize(*draft, s.store)
	snap := s.ctrl.Snapshot()
	res = Result{
		SessionID:   s.req.ID,
		Question:    s.q.Text,
		Answer:      final.Text,
		References:  final.References,
		Usage:       snap.Usage,
		Trace:       s.trace.Entries(),
		VisitedURLs: s.store.Visited(),
		ReadURLs:    s.store.ReadURLs(),
		Criteria:    s.q.Criteria,
		Steps:       snap.Steps,
		Forced:      forced,
		ForceReason: reason,
		Duration:    time.Since(s.started),
	}
	telemetry.SessionSteps.Observe(float64(res.Steps))
	telemetry.SessionTokens.Observe(float64(res.Usage.TotalTokens()))
	span.SetAttributes(
		attribute.Int("steps", res.Steps),
		attribute.Int64("tokens", res.Usage.TotalTokens()),
		attribute.Bool("forced", forced),
	)
	s.logger.Info("session finished",
		zap.Int("steps", res.Steps),
		zap.Int64("tokens", res.Usage.TotalTokens()),
		zap.Bool("forced", forced),
		zap.String("reason", reason),
		zap.Int("references", len(res.References)),
		zap.Duration("duration", res.Duration),
	)
	return res
}

func (s *session) detect(ctx context.Context) core.Question {
	q, err := evaluator.DetectCriteria(ctx, s.o.llm, s.ctrl, s.req.Question)
	if err != nil {
		s.logger.Warn("criteria detection failed, checking definitiveness only", zap.Error(err))
	}
	return evaluator.WithCriteria(q, s.req.Criteria...)
}

// focus rotates over the original question and the open gaps.
func (s *session) focus(step int) string {
	questions := append([]string{s.q.Text}, s.store.OpenGaps()...)
	return questions[(step-1)%len(questions)]
}

// mask is the orchestrator's own per-step restriction, before the budget
// narrows it further.
func (s *session) mask(step int) action.Set {
	m := action.AllSet()
	if s.prev != "" {
		m = m.Without(s.prev)
	}
	if _, ok := s.o.executors[action.Coding]; !ok {
		m = m.Without(action.Coding)
	}
	if len(s.store.Unvisited()) == 0 {
		m = m.Without(action.Visit)
	}
	if step == 1 && s.q.Has(core.Freshness) {
		m = m.Without(action.Answer).Without(action.Reflect)
	}
	return m
}

func (s *session) allowed(step int) action.Set {
	allowed := s.mask(step).Intersect(s.ctrl.AdmissibleActions(action.AllSet()))
	if allowed.Empty() {
		allowed = action.NewSet(action.Answer)
	}
	return allowed
}

func (s *session) decide(ctx context.Context, step int, focus string) (action.Decision, error) {
	allowed := s.allowed(step)
	var candidates []knowledge.RankedURL
	if allowed.Has(action.Visit) {
		ranked, err := knowledge.Rank(focus, s.store.Unvisited(), s.o.cfg.MaxCandidates)
		if err != nil {
			s.logger.Warn("ranking failed", zap.Error(err))
		}
		candidates = ranked
	}
	return s.o.planner.Decide(ctx, planner.Input{
		Question:   s.q,
		Focus:      focus,
		Allowed:    allowed,
		Knowledge:  s.store.AsContext(),
		Candidates: candidates,
		Queries:    s.store.Queries(),
		BadQueries: s.store.BadQueries(),
		Diary:      s.diary(),
		Analyses:   s.analyses,
		Budget:     s.ctrl.Snapshot(),
	}, s.ctrl)
}

func (s *session) diary() []string {
	entries := s.trace.Entries()
	if n := s.o.cfg.DiaryLines; len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.String())
	}
	return lines
}

func (s *session) env(step int, focus string) executor.Env {
	return executor.Env{
		Question: s.q,
		Focus:    focus,
		Step:     step,
		Store:    s.store,
		Budget:   s.ctrl,
		Trace:    s.trace,
	}
}

// execute runs the executor for d, converting a panic into errPanic.
func (s *session) execute(ctx context.Context, d action.Decision, env executor.Env) (out core.Outcome, err error) {
	ex, ok := s.o.executors[d.Action]
	if !ok {
		return core.Outcome{}, fmt.Errorf("no executor for %q", d.Action)
	}
	ctx, span := telemetry.Tracer.Start(ctx, "Executor."+string(d.Action))
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.ActionDuration.WithLabelValues(string(d.Action)).Observe(time.Since(start).Seconds())
		outcome := telemetry.OutcomeOK
		if r := recover(); r != nil {
			s.logger.Error("executor panic", zap.String("action", string(d.Action)), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", errPanic, r)
			outcome = telemetry.OutcomePanic
		} else if err != nil {
			outcome = telemetry.OutcomeError
		} else if len(out.Items) == 0 && out.Draft == nil {
			outcome = telemetry.OutcomeEmpty
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		telemetry.ActionsTotal.WithLabelValues(string(d.Action), outcome).Inc()
	}()
	out, err = ex.Execute(ctx, d, env)
	return out, err
}

// directAnswerAllowed reports whether a step-1 answer may skip the gate. Only
// a purely definitive question qualifies; any other active criterion must be
// evaluated.
func (s *session) directAnswerAllowed() bool {
	if !s.o.cfg.AllowDirectAnswer || s.req.NoDirectAnswer {
		return false
	}
	return len(s.q.Criteria) == 1 && s.q.Criteria[0] == core.Definitive
}

// handleDraft runs the EVALUATE phase. It returns the draft to finalize, or
// nil to keep looping.
func (s *session) handleDraft(ctx context.Context, step int, focus string, draft *core.AnswerDraft) (*core.AnswerDraft, bool, string) {
	if focus != s.q.Text {
		s.store.Append(knowledge.Item{
			Kind:       knowledge.KindQA,
			Question:   focus,
			Answer:     draft.Text,
			References: draft.References,
		})
		s.trace.Add(core.Entry{Step: step, Kind: core.EntryStep, Outcome: fmt.Sprintf("closed gap %q", focus)})
		return nil, false, ""
	}

	if step == 1 && len(draft.References) == 0 && s.directAnswerAllowed() {
		s.trace.Add(core.Entry{Step: step, Kind: core.EntryEvaluation, Outcome: "trivial question answered directly"})
		return draft, false, ""
	}

	s.state = StateEvaluate
	verdicts, ok := s.o.gate.Evaluate(ctx, s.q, *draft, s.store.AsContext(), s.ctrl)
	outcome := "accepted"
	if !ok {
		outcome = "rejected"
	}
	s.trace.Add(core.Entry{Step: step, Kind: core.EntryEvaluation, Outcome: outcome, Verdicts: verdicts})
	if ok {
		return draft, false, ""
	}

	bad := s.ctrl.RecordBadAttempt()
	telemetry.BadAttempts.Inc()
	for _, v := range verdicts {
		if !v.Pass && v.Detail != nil && v.Detail.Improvement != "" {
			s.improvements = append(s.improvements, v.Detail.Improvement)
		}
	}
	s.logger.Info("answer rejected", zap.Int("step", step), zap.Int("bad_attempts", bad))

	if bad >= s.ctrl.Snapshot().MaxBadAttempts {
		telemetry.ForcedAnswers.WithLabelValues(ReasonBadAttempts).Inc()
		draft.Forced = true
		return draft, true, ReasonBadAttempts
	}

	a := s.o.analyzer.Analyze(ctx, s.q.Text, s.trace.Since(s.attemptFrom), s.ctrl)
	s.attemptFrom = s.trace.Len()
	if !a.Empty() {
		s.analyses = append(s.analyses, a)
		if a.Improvement != "" {
			s.improvements = append(s.improvements, a.Improvement)
		}
		s.trace.Add(core.Entry{Step: step, Kind: core.EntryAnalysis, Outcome: fmt.Sprintf("blame: %s; improvement: %s", a.Blame, a.Improvement)})
	}
	return nil, false, ""
}

// force produces the best-effort answer. Unless the session was cancelled
// or ran out of tokens, the answer is evaluated for the record; it is
// accepted either way.
func (s *session) force(ctx context.Context, reason string) *core.AnswerDraft {
	s.state = StateForceAnswer
	telemetry.ForcedAnswers.WithLabelValues(reason).Inc()
	step := s.ctrl.Snapshot().Steps
	s.logger.Info("forcing answer", zap.String("reason", reason), zap.Int("step", step))

	out := s.o.answer.ForceAnswer(ctx, s.env(step, s.q.Text), s.improvements)
	draft := out.Draft
	s.trace.Add(core.Entry{
		Step:     step,
		Kind:     core.EntryStep,
		Decision: &core.DecisionRef{Action: action.Answer, Think: draft.Think, Summary: "forced answer (" + reason + ")"},
		Outcome:  out.Summary,
	})

	if reason != ReasonCancelled && reason != ReasonTokens && ctx.Err() == nil {
		s.state = StateEvaluate
		verdicts, ok := s.o.gate.Evaluate(ctx, s.q, *draft, s.store.AsContext(), s.ctrl)
		outcome := "accepted without gate"
		if ok {
			outcome = "accepted"
		}
		s.trace.Add(core.Entry{Step: step, Kind: core.EntryEvaluation, Outcome: outcome, Verdicts: verdicts})
	}
	return draft
}

func forceReason(err error) string {
	var ex budget.ErrExceeded
	if errors.As(err, &ex) {
		return ex.Kind
	}
	return ReasonFatal
}
