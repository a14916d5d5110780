package action

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidParams marks a decision whose payload cannot be dispatched.
var ErrInvalidParams = errors.New("invalid action params")

// Limits bounds the fan-out of a single step.
type Limits struct {
	MaxQueries     int
	MaxURLs        int
	MaxReflections int
}

// DefaultLimits are used when no configuration is supplied.
func DefaultLimits() Limits {
	return Limits{MaxQueries: 5, MaxURLs: 4, MaxReflections: 2}
}

// Normalize replaces non-positive caps with the defaults.
func (l Limits) Normalize() Limits {
	d := DefaultLimits()
	if l.MaxQueries <= 0 {
		l.MaxQueries = d.MaxQueries
	}
	if l.MaxURLs <= 0 {
		l.MaxURLs = d.MaxURLs
	}
	if l.MaxReflections <= 0 {
		l.MaxReflections = d.MaxReflections
	}
	return l
}

// Apply validates d against the limits. Lists are trimmed, de-duplicated and
// truncated to their caps; an empty payload is an error.
func (l Limits) Apply(d Decision) (Decision, error) {
	l = l.Normalize()
	switch d.Action {
	case Search:
		if d.Search == nil {
			return d, fmt.Errorf("%w: search without queries", ErrInvalidParams)
		}
		qs := clean(d.Search.Queries, l.MaxQueries)
		if len(qs) == 0 {
			return d, fmt.Errorf("%w: search without queries", ErrInvalidParams)
		}
		d.Search = &SearchParams{Queries: qs}
	case Visit:
		if d.Visit == nil {
			return d, fmt.Errorf("%w: visit without urls", ErrInvalidParams)
		}
		urls := clean(d.Visit.URLs, l.MaxURLs)
		if len(urls) == 0 {
			return d, fmt.Errorf("%w: visit without urls", ErrInvalidParams)
		}
		d.Visit = &VisitParams{URLs: urls}
	case Reflect:
		if d.Reflect == nil {
			return d, fmt.Errorf("%w: reflect without questions", ErrInvalidParams)
		}
		qs := clean(d.Reflect.Questions, l.MaxReflections)
		if len(qs) == 0 {
			return d, fmt.Errorf("%w: reflect without questions", ErrInvalidParams)
		}
		d.Reflect = &ReflectParams{Questions: qs}
	case Coding:
		if d.Coding == nil || strings.TrimSpace(d.Coding.Issue) == "" {
			return d, fmt.Errorf("%w: coding without issue", ErrInvalidParams)
		}
	case Answer:
		if d.Answer == nil || strings.TrimSpace(d.Answer.Text) == "" {
			return d, fmt.Errorf("%w: empty answer", ErrInvalidParams)
		}
	default:
		return d, fmt.Errorf("%w: unknown action %q", ErrInvalidParams, d.Action)
	}
	return d, nil
}

func clean(items []string, max int) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
		if len(out) == max {
			break
		}
	}
	return out
}
