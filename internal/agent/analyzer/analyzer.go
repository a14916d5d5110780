// Package analyzer summarises a rejected answer attempt so the next planning
// call does not repeat it.
package analyzer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

var analysisSchema = &llm.Schema{
	Name: "analysis",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recap":       map[string]any{"type": "string"},
			"blame":       map[string]any{"type": "string"},
			"improvement": map[string]any{"type": "string"},
		},
		"required": []string{"recap", "blame", "improvement"},
	},
}

// Analyzer turns the trace of a rejected attempt into recap, blame and
// improvement. It never touches the knowledge store.
type Analyzer struct {
	llm    llm.Generator
	logger *zap.Logger
}

func New(gen llm.Generator, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{llm: gen, logger: logger.Named("analyzer")}
}

// Analyze summarises entries. If generation fails the analysis is built
// from the failed verdicts alone.
func (a *Analyzer) Analyze(ctx context.Context, question string, entries []core.Entry, meter llm.Meter) core.Analysis {
	fallback := fromVerdicts(entries)
	if a.llm == nil || len(entries) == 0 {
		return fallback
	}
	out, _, err := llm.Object[core.Analysis](ctx, a.llm, meter, llm.Request{
		System: analyzerSystem,
		Prompt: analyzerPrompt(question, entries),
		Schema: analysisSchema,
	})
	if err != nil {
		a.logger.Warn("analysis failed", zap.Error(err))
		return fallback
	}
	if out.Empty() {
		return fallback
	}
	return out
}

func fromVerdicts(entries []core.Entry) core.Analysis {
	var failed []string
	var plans []string
	for _, e := range entries {
		for _, v := range e.Verdicts {
			if v.Pass {
				continue
			}
			failed = append(failed, fmt.Sprintf("%s: %s", v.Criterion, v.Think))
			if v.Detail != nil && v.Detail.Improvement != "" {
				plans = append(plans, v.Detail.Improvement)
			}
		}
	}
	if len(failed) == 0 {
		return core.Analysis{}
	}
	a := core.Analysis{
		Recap: fmt.Sprintf("%d steps led to an answer that was rejected.", len(entries)),
		Blame: strings.Join(failed, "; "),
	}
	if len(plans) > 0 {
		a.Improvement = strings.Join(plans, " ")
	} else {
		a.Improvement = "Gather more specific evidence addressing the failed checks before answering again."
	}
	return a
}

const analyzerSystem = `You review the steps of a research agent whose answer was just rejected.
recap: summarise the key actions in order and what they found.
blame: name the specific step or pattern that led to the bad answer.
improvement: give concrete, actionable advice for the next attempt.`

func analyzerPrompt(question string, entries []core.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION:\n%s\n\nSTEPS:\n", question)
	for _, e := range entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
