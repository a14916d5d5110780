// Package action defines the closed set of loop actions, the capability mask
// used to offer a subset of them per step, and the decision payloads.
package action

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

// Kind names one of the fixed action variants.
type Kind string

const (
	Search  Kind = "search"
	Visit   Kind = "visit"
	Reflect Kind = "reflect"
	Coding  Kind = "coding"
	Answer  Kind = "answer"
)

// All lists every kind in prompt order.
var All = []Kind{Search, Visit, Reflect, Coding, Answer}

func (k Kind) bit() Set {
	switch k {
	case Search:
		return 1 << 0
	case Visit:
		return 1 << 1
	case Reflect:
		return 1 << 2
	case Coding:
		return 1 << 3
	case Answer:
		return 1 << 4
	}
	return 0
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool { return k.bit() != 0 }

// ParseKind maps a loosely formatted name onto a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "read" {
		k = Visit
	}
	return k, k.Valid()
}

// Set is a capability mask over Kind.
type Set uint8

// NewSet builds a mask from kinds.
func NewSet(kinds ...Kind) Set {
	var s Set
	for _, k := range kinds {
		s |= k.bit()
	}
	return s
}

// AllSet contains every kind.
func AllSet() Set { return NewSet(All...) }

func (s Set) Has(k Kind) bool { return k.Valid() && s&k.bit() != 0 }
func (s Set) With(k Kind) Set { return s | k.bit() }
func (s Set) Without(k Kind) Set { return s &^ k.bit() }
func (s Set) Intersect(o Set) Set { return s & o }
func (s Set) Empty() bool { return s == 0 }

// Kinds returns the members in prompt order.
func (s Set) Kinds() []Kind {
	var out []Kind
	for _, k := range All {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s Set) String() string {
	kinds := s.Kinds()
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// SearchParams carries 1..N orthogonal queries.
type SearchParams struct {
	Queries []string `json:"searchRequests"`
}

// VisitParams carries the URLs to read.
type VisitParams struct {
	URLs []string `json:"URLTargets"`
}

// ReflectParams carries sub-questions that become knowledge gaps.
type ReflectParams struct {
	Questions []string `json:"questionsToAnswer"`
}

// CodingParams describes a computation in natural language.
type CodingParams struct {
	Issue string `json:"codingIssue"`
}

// AnswerParams is the candidate answer and the references it claims.
type AnswerParams struct {
	Text       string                `json:"answer"`
	References []knowledge.Reference `json:"references"`
}

// Decision is one planner output. Exactly the params field matching Action is set.
type Decision struct {
	Think   string
	Action  Kind
	Search  *SearchParams
	Visit   *VisitParams
	Reflect *ReflectParams
	Coding  *CodingParams
	Answer  *AnswerParams
}

// Summary renders the decision for traces and prompts.
func (d Decision) Summary() string {
	switch d.Action {
	case Search:
		if d.Search != nil {
			return fmt.Sprintf("search %q", d.Search.Queries)
		}
	case Visit:
		if d.Visit != nil {
			return fmt.Sprintf("visit %v", d.Visit.URLs)
		}
	case Reflect:
		if d.Reflect != nil {
			return fmt.Sprintf("reflect %q", d.Reflect.Questions)
		}
	case Coding:
		if d.Coding != nil {
			return fmt.Sprintf("coding %q", d.Coding.Issue)
		}
	case Answer:
		if d.Answer != nil {
			return fmt.Sprintf("answer (%d refs)", len(d.Answer.References))
		}
	}
	return string(d.Action)
}
