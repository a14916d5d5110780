// Package orchestrator runs one research session: decide, execute, evaluate
// and finalize until an answer is accepted or the budget forces one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/analyzer"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/evaluator"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/executor"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/planner"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/sandbox"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search"
)

// Forced-answer reasons.
const (
	ReasonTokens      = budget.KindTokens
	ReasonBadAttempts = budget.KindBadAttempts
	ReasonSteps       = budget.KindSteps
	ReasonPlanner     = "planner"
	ReasonFatal       = "fatal"
	ReasonCancelled   = "cancelled"
)

// Config holds the loop tunables.
type Config struct {
	Budget            budget.Config
	Limits            action.Limits
	SearchTimeout     time.Duration
	VisitTimeout      time.Duration
	SearchResults     int
	AllowDirectAnswer bool
	StepSleep         time.Duration
	// MaxCandidates caps the ranked unvisited urls shown to the planner.
	MaxCandidates int
	// DiaryLines caps the previous steps shown to the planner.
	DiaryLines int
}

// ConfigFrom maps the file configuration onto the loop configuration.
func ConfigFrom(cfg *config.Config) Config {
	r := cfg.Research.Normalize()
	return Config{
		Budget: budget.Config{
			TokenLimit:     r.Budget.TokenLimit,
			ReserveTokens:  r.Budget.ReserveTokens,
			MaxSteps:       r.Budget.MaxSteps,
			MaxBadAttempts: r.Budget.MaxBadAttempts,
		},
		Limits: action.Limits{
			MaxQueries:     r.Limits.MaxQueriesPerStep,
			MaxURLs:        r.Limits.MaxURLsPerStep,
			MaxReflections: r.Limits.MaxReflectPerStep,
		},
		SearchTimeout:     r.SearchTimeout,
		VisitTimeout:      r.VisitTimeout,
		SearchResults:     cfg.Sources.WebSearch.MaxResults,
		AllowDirectAnswer: r.AllowDirectAnswer,
		StepSleep:         r.StepSleep,
	}
}

func (c Config) normalize() Config {
	c.Limits = c.Limits.Normalize()
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 20
	}
	if c.DiaryLines <= 0 {
		c.DiaryLines = 20
	}
	return c
}

// Deps are the collaborators a session needs. Runner may be nil, in which
// case coding is never offered.
type Deps struct {
	LLM      llm.Generator
	Searcher web_search.WebSearcher
	Fetcher  web_fetch.WebFetcher
	Runner   sandbox.Runner
}

// Event is emitted once per decided step.
type Event struct {
	SessionID string
	Step      int
	Action    action.Kind
	Think     string
}

// Observer receives step events. It is called from the session goroutine
// only.
type Observer func(Event)

// Request starts a session.
type Request struct {
	ID       string
	Question string
	Budget   budget.Override
	// Criteria are added to the detected ones.
	Criteria       []core.Criterion
	NoDirectAnswer bool
	Observer       Observer
}

// Result is the terminal state of a session. Answer is never empty.
type Result struct {
	SessionID   string
	Question    string
	Answer      string
	References  []knowledge.Reference
	Usage       budget.Usage
	Trace       []core.Entry
	VisitedURLs []string
	ReadURLs    []string
	Criteria    []core.Criterion
	Steps       int
	Forced      bool
	ForceReason string
	Duration    time.Duration
}

// Orchestrator runs research sessions. It holds only collaborators and
// configuration; all per-session state lives in the session, so one
// Orchestrator serves concurrent requests.
type Orchestrator struct {
	cfg       Config
	llm       llm.Generator
	planner   *planner.Planner
	gate      *evaluator.Gate
	analyzer  *analyzer.Analyzer
	answer    *executor.Answer
	executors map[action.Kind]executor.Executor
	logger    *zap.Logger
}

// New wires the executors, planner, gate and analyzer around deps. The
// logger should be the root logger; components name their own children.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.LLM == nil {
		return nil, errors.New("orchestrator: generator is required")
	}
	if deps.Searcher == nil || deps.Fetcher == nil {
		return nil, errors.New("orchestrator: searcher and fetcher are required")
	}
	if err := cfg.Budget.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	cfg = cfg.normalize()
	answer := executor.NewAnswer(deps.LLM, logger)
	execs := map[action.Kind]executor.Executor{
		action.Search:  executor.NewSearch(deps.Searcher, cfg.SearchResults, cfg.SearchTimeout, logger),
		action.Visit:   executor.NewVisit(deps.Fetcher, cfg.VisitTimeout, logger),
		action.Reflect: executor.NewReflect(),
		action.Answer:  answer,
	}
	if deps.Runner != nil {
		execs[action.Coding] = executor.NewCode(deps.LLM, deps.Runner, logger)
	}
	return &Orchestrator{
		cfg:       cfg,
		llm:       deps.LLM,
		planner:   planner.New(deps.LLM, cfg.Limits, logger),
		gate:      evaluator.NewGate(deps.LLM, logger),
		analyzer:  analyzer.New(deps.LLM, logger),
		answer:    answer,
		executors: execs,
		logger:    logger.Named("orchestrator"),
	}, nil
}

// Run executes one session. In-session failures never surface as errors;
// the result always carries a non-empty answer.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	s := o.newSession(req)
	return s.run(ctx)
}
