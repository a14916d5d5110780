package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/llm/llmtest"
)

func rejectedTrace() []core.Entry {
	return []core.Entry{
		{Step: 1, Kind: core.EntryStep, Decision: &core.DecisionRef{Action: action.Search, Summary: `search ["rivers"]`}, Outcome: "1 queries"},
		{Step: 2, Kind: core.EntryEvaluation, Verdicts: []core.Verdict{
			{Criterion: core.Definitive, Pass: true},
			{Criterion: core.Plurality, Pass: false, Think: "only one river listed",
				Detail: &core.VerdictDetail{Improvement: "list at least three rivers"}},
		}},
	}
}

func TestAnalyzeUsesGenerator(t *testing.T) {
	t.Parallel()
	var prompt string
	router := &llmtest.Router{Handlers: map[string]func(llm.Request) (any, error){
		"analysis": func(req llm.Request) (any, error) {
			prompt = req.Prompt
			return core.Analysis{Recap: "searched once", Blame: "answered too early", Improvement: "visit sources"}, nil
		},
	}}
	got := New(router, zap.NewNop()).Analyze(context.Background(), "Name three rivers", rejectedTrace(), nil)
	assert.Equal(t, "answered too early", got.Blame)
	assert.Contains(t, prompt, "only one river listed")
	assert.Contains(t, prompt, "rivers")
}

func TestAnalyzeFallsBackToVerdicts(t *testing.T) {
	t.Parallel()
	router := &llmtest.Router{Handlers: map[string]func(llm.Request) (any, error){
		"analysis": func(llm.Request) (any, error) { return nil, errors.New("boom") },
	}}
	got := New(router, zap.NewNop()).Analyze(context.Background(), "q", rejectedTrace(), nil)
	require.False(t, got.Empty())
	assert.Contains(t, got.Blame, "plurality")
	assert.Equal(t, "list at least three rivers", got.Improvement)
}

func TestAnalyzeEmptyTrace(t *testing.T) {
	t.Parallel()
	router := &llmtest.Router{}
	got := New(router, zap.NewNop()).Analyze(context.Background(), "q", nil, nil)
	assert.True(t, got.Empty())
	assert.Equal(t, 0, router.Calls("analysis"))
}
