package streams

import (
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/orchestrator"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

// Usage mirrors the token tally in the wire format used by the chat API.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// SessionCompleted is the payload of a session.completed event.
type SessionCompleted struct {
	SessionID   string                `json:"session_id"`
	Question    string                `json:"question"`
	Answer      string                `json:"answer"`
	References  []knowledge.Reference `json:"references"`
	Usage       Usage                 `json:"usage"`
	Steps       int                   `json:"steps"`
	Forced      bool                  `json:"forced"`
	ForceReason string                `json:"force_reason,omitempty"`
	VisitedURLs []string              `json:"visited_urls"`
	ReadURLs    []string              `json:"read_urls"`
	Trace       []string              `json:"trace"`
	DurationMS  int64                 `json:"duration_ms"`
	FinishedAt  time.Time             `json:"finished_at"`
}

// NewSessionCompleted summarises a finished session. The trace is flattened
// to one line per entry.
func NewSessionCompleted(res orchestrator.Result, finishedAt time.Time) SessionCompleted {
	trace := make([]string, 0, len(res.Trace))
	for _, e := range res.Trace {
		trace = append(trace, e.String())
	}
	refs := res.References
	if refs == nil {
		refs = []knowledge.Reference{}
	}
	return SessionCompleted{
		SessionID:  res.SessionID,
		Question:   res.Question,
		Answer:     res.Answer,
		References: refs,
		Usage: Usage{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens(),
			TotalTokens:      res.Usage.TotalTokens(),
		},
		Steps:       res.Steps,
		Forced:      res.Forced,
		ForceReason: res.ForceReason,
		VisitedURLs: nonNil(res.VisitedURLs),
		ReadURLs:    nonNil(res.ReadURLs),
		Trace:       trace,
		DurationMS:  res.Duration.Milliseconds(),
		FinishedAt:  finishedAt.UTC(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
