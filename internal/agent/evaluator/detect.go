// Package evaluator decides which criteria a question needs and checks
// candidate answers against them.
package evaluator

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

var detectSchema = &llm.Schema{
	Name: "criteria",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"think":             map[string]any{"type": "string"},
			"needsDefinitive":   map[string]any{"type": "boolean"},
			"needsFreshness":    map[string]any{"type": "boolean"},
			"needsPlurality":    map[string]any{"type": "boolean"},
			"needsCompleteness": map[string]any{"type": "boolean"},
			"language":          map[string]any{"type": "string"},
		},
		"required": []string{"think", "needsDefinitive", "needsFreshness", "needsPlurality", "needsCompleteness"},
	},
}

type detection struct {
	Think             string `json:"think"`
	NeedsDefinitive   bool   `json:"needsDefinitive"`
	NeedsFreshness    bool   `json:"needsFreshness"`
	NeedsPlurality    bool   `json:"needsPlurality"`
	NeedsCompleteness bool   `json:"needsCompleteness"`
	Language          string `json:"language"`
}

// DetectCriteria derives the question's active criteria once per session.
// definitive is always active. When detection fails the question is checked
// for definitiveness only and the error is returned for logging.
func DetectCriteria(ctx context.Context, gen llm.Generator, meter llm.Meter, question string) (core.Question, error) {
	q := core.Question{Text: question, Criteria: []core.Criterion{core.Definitive}}
	if gen == nil {
		return q, nil
	}
	d, _, err := llm.Object[detection](ctx, gen, meter, llm.Request{
		System: detectSystem,
		Prompt: fmt.Sprintf("QUESTION:\n%s", question),
		Schema: detectSchema,
	})
	if err != nil {
		return q, fmt.Errorf("detect criteria: %w", err)
	}
	if d.NeedsFreshness {
		q.Criteria = append(q.Criteria, core.Freshness)
	}
	if d.NeedsPlurality {
		q.Criteria = append(q.Criteria, core.Plurality)
	}
	if d.NeedsCompleteness {
		q.Criteria = append(q.Criteria, core.Completeness)
	}
	q.Language = d.Language
	return q, nil
}

// WithCriteria returns q with extra criteria appended, skipping duplicates.
func WithCriteria(q core.Question, extra ...core.Criterion) core.Question {
	out := q
	out.Criteria = append([]core.Criterion(nil), q.Criteria...)
	for _, c := range extra {
		if !out.Has(c) {
			out.Criteria = append(out.Criteria, c)
		}
	}
	return out
}

const detectSystem = `You decide which checks an answer to a question must pass.
- needsDefinitive: the question expects a direct, confident answer.
- needsFreshness: the answer depends on recent or time-sensitive information.
- needsPlurality: the question asks for several items (a list, "top N", examples).
- needsCompleteness: the question names several aspects that must all be covered.
Also report the language the question is written in.`
