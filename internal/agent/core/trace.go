package core

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// EntryKind classifies a trace entry.
type EntryKind string

const (
	EntryStep          EntryKind = "step"
	EntryProviderError EntryKind = "provider_error"
	EntryExecError     EntryKind = "execution_error"
	EntryEvaluation    EntryKind = "evaluation"
	EntryAnalysis      EntryKind = "analysis"
	EntryFatal         EntryKind = "fatal"
)

// Entry is one line of the session trace.
type Entry struct {
	Step     int          `json:"step"`
	Kind     EntryKind    `json:"kind"`
	Decision *DecisionRef `json:"decision,omitempty"`
	Outcome  string       `json:"outcome,omitempty"`
	Error    string       `json:"error,omitempty"`
	Verdicts []Verdict    `json:"verdicts,omitempty"`
	At       time.Time    `json:"at"`
}

func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d %s", e.Step, e.Kind)
	if e.Decision != nil {
		fmt.Fprintf(&b, ": %s", e.Decision.Summary)
		if e.Decision.Think != "" {
			fmt.Fprintf(&b, " (think: %s)", e.Decision.Think)
		}
	}
	if e.Outcome != "" {
		fmt.Fprintf(&b, " -> %s", e.Outcome)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " [error: %s]", e.Error)
	}
	for _, v := range e.Verdicts {
		status := "pass"
		if !v.Pass {
			status = "fail"
		}
		fmt.Fprintf(&b, " [%s %s: %s]", v.Criterion, status, v.Think)
	}
	return b.String()
}

// Trace is the append-only step log of a session. Executors may record
// sub-call failures from concurrent goroutines.
type Trace struct {
	mu      sync.Mutex
	entries []Entry
}

// Add appends e, stamping its time.
func (t *Trace) Add(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
}

// Fail records a failure of kind at step.
func (t *Trace) Fail(step int, kind EntryKind, what string, err error) {
	e := Entry{Step: step, Kind: kind, Outcome: what}
	if err != nil {
		e.Error = err.Error()
	}
	t.Add(e)
}

// Len returns the number of entries.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns a copy of all entries.
func (t *Trace) Entries() []Entry {
	return t.Since(0)
}

// Since returns entries from index i on.
func (t *Trace) Since(i int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 {
		i = 0
	}
	if i >= len(t.entries) {
		return nil
	}
	return append([]Entry(nil), t.entries[i:]...)
}
