package planner

import (
	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

// rawDecision is the flat wire form of a decision. Only the fields for the
// chosen action are expected to be filled.
type rawDecision struct {
	Think             string                `json:"think"`
	Action            string                `json:"action"`
	SearchRequests    []string              `json:"searchRequests,omitempty"`
	URLTargets        []string              `json:"URLTargets,omitempty"`
	QuestionsToAnswer []string              `json:"questionsToAnswer,omitempty"`
	CodingIssue       string                `json:"codingIssue,omitempty"`
	Answer            string                `json:"answer,omitempty"`
	References        []knowledge.Reference `json:"references,omitempty"`
}

func (r rawDecision) decision(kind action.Kind) action.Decision {
	d := action.Decision{Think: r.Think, Action: kind}
	switch kind {
	case action.Search:
		d.Search = &action.SearchParams{Queries: r.SearchRequests}
	case action.Visit:
		d.Visit = &action.VisitParams{URLs: r.URLTargets}
	case action.Reflect:
		d.Reflect = &action.ReflectParams{Questions: r.QuestionsToAnswer}
	case action.Coding:
		d.Coding = &action.CodingParams{Issue: r.CodingIssue}
	case action.Answer:
		d.Answer = &action.AnswerParams{Text: r.Answer, References: r.References}
	}
	return d
}

// decisionSchema offers only the allowed kinds: the action enum and the
// parameter properties are both built from allowed.
func decisionSchema(allowed action.Set, limits action.Limits) *llm.Schema {
	kinds := allowed.Kinds()
	enum := make([]string, 0, len(kinds))
	for _, k := range kinds {
		enum = append(enum, string(k))
	}
	props := map[string]any{
		"think":  map[string]any{"type": "string", "description": "Reasoning behind the chosen action."},
		"action": map[string]any{"type": "string", "enum": enum},
	}
	str := map[string]any{"type": "string"}
	if allowed.Has(action.Search) {
		props["searchRequests"] = map[string]any{
			"type": "array", "items": str, "maxItems": limits.MaxQueries,
			"description": "Orthogonal keyword queries, each targeting a different aspect.",
		}
	}
	if allowed.Has(action.Visit) {
		props["URLTargets"] = map[string]any{
			"type": "array", "items": str, "maxItems": limits.MaxURLs,
			"description": "URLs from the candidate list to read in full.",
		}
	}
	if allowed.Has(action.Reflect) {
		props["questionsToAnswer"] = map[string]any{
			"type": "array", "items": str, "maxItems": limits.MaxReflections,
			"description": "Sub-questions whose answers are needed first.",
		}
	}
	if allowed.Has(action.Coding) {
		props["codingIssue"] = map[string]any{
			"type": "string", "description": "A computation to solve with a short program.",
		}
	}
	if allowed.Has(action.Answer) {
		props["answer"] = map[string]any{"type": "string", "description": "The final answer in markdown, using [^n] citation markers."}
		props["references"] = map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"exactQuote": str,
					"url":        str,
					"dateTime":   str,
				},
				"required": []string{"exactQuote", "url"},
			},
		}
	}
	return &llm.Schema{
		Name: "decision",
		Definition: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   []string{"think", "action"},
		},
	}
}
