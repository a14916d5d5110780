// Package core holds the value types shared by the research loop components.
package core

import (
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

// Criterion is one independent acceptance test for an answer.
type Criterion string

const (
	Definitive   Criterion = "definitive"
	Freshness    Criterion = "freshness"
	Plurality    Criterion = "plurality"
	Completeness Criterion = "completeness"
	Attribution  Criterion = "attribution"
	Strict       Criterion = "strict"
)

// AllCriteria in evaluation order.
var AllCriteria = []Criterion{Definitive, Freshness, Plurality, Completeness, Attribution, Strict}

// ParseCriterion accepts a criterion name in any case.
func ParseCriterion(s string) (Criterion, bool) {
	c := Criterion(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCriteria {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Question is the immutable session input plus attributes derived once at
// session start.
type Question struct {
	Text     string
	Criteria []Criterion
	Language string
}

// Has reports whether c is active for the question.
func (q Question) Has(c Criterion) bool {
	for _, x := range q.Criteria {
		if x == c {
			return true
		}
	}
	return false
}

// AnswerDraft is a candidate answer awaiting evaluation or finalisation.
type AnswerDraft struct {
	Question string
	Text     string
	// References holds the cleaned list used for evaluation.
	References []knowledge.Reference
	// RawReferences is the list as generated. Citation markers in Text index
	// into it, so the finalizer maps markers against this list when set.
	RawReferences []knowledge.Reference
	Think         string
	Forced        bool
}

// Outcome is what an executor hands back to the orchestrator.
type Outcome struct {
	Items    []knowledge.Item
	Cost     budget.Usage
	Draft    *AnswerDraft
	Summary  string
	Failures int
}

// VerdictDetail carries criterion-specific analysis.
type VerdictDetail struct {
	DaysAgo       *int   `json:"days_ago,omitempty"`
	MaxAgeDays    *int   `json:"max_age_days,omitempty"`
	MinimumCount  *int   `json:"minimum_count_required,omitempty"`
	ActualCount   *int   `json:"actual_count_provided,omitempty"`
	MissingAspect string `json:"missing_aspects,omitempty"`
	Improvement   string `json:"improvement_plan,omitempty"`
}

// Verdict is the result of one criterion.
type Verdict struct {
	Criterion Criterion      `json:"criterion"`
	Pass      bool           `json:"pass"`
	Think     string         `json:"think"`
	Detail    *VerdictDetail `json:"detail,omitempty"`
}

// Analysis is the ErrorAnalyzer output for a rejected attempt.
type Analysis struct {
	Recap       string `json:"recap"`
	Blame       string `json:"blame"`
	Improvement string `json:"improvement"`
}

// Empty reports whether no analysis text is present.
func (a Analysis) Empty() bool {
	return a.Recap == "" && a.Blame == "" && a.Improvement == ""
}

// DecisionRef lets trace entries carry the chosen action without the payload.
type DecisionRef struct {
	Action  action.Kind `json:"action"`
	Think   string      `json:"think"`
	Summary string      `json:"summary"`
}

// RefOf summarises a decision for the trace.
func RefOf(d action.Decision) DecisionRef {
	return DecisionRef{Action: d.Action, Think: d.Think, Summary: d.Summary()}
}
