package executor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

// forcedContextChars bounds the knowledge rendered into the forced prompt.
const forcedContextChars = 60000

var answerSchema = &llm.Schema{
	Name: "answer",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"think":  map[string]any{"type": "string"},
			"answer": map[string]any{"type": "string"},
			"references": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"exactQuote": map[string]any{"type": "string"},
						"url":        map[string]any{"type": "string"},
						"dateTime":   map[string]any{"type": "string"},
					},
					"required": []string{"exactQuote", "url"},
				},
			},
		},
		"required": []string{"think", "answer", "references"},
	},
}

type answerOutput struct {
	Think      string                `json:"think"`
	Answer     string                `json:"answer"`
	References []knowledge.Reference `json:"references"`
}

// Answer turns a decided answer into a draft, and produces the best-effort
// answer when the session must stop.
type Answer struct {
	llm    llm.Generator
	logger *zap.Logger
}

func NewAnswer(gen llm.Generator, logger *zap.Logger) *Answer {
	return &Answer{llm: gen, logger: logger.Named("answer")}
}

func (a *Answer) Kind() action.Kind { return action.Answer }

// Execute keeps only references to urls this session has seen. Acceptance
// is decided by the evaluation gate.
func (a *Answer) Execute(_ context.Context, d action.Decision, env Env) (core.Outcome, error) {
	if d.Answer == nil || strings.TrimSpace(d.Answer.Text) == "" {
		return core.Outcome{}, fmt.Errorf("%w: empty answer", action.ErrInvalidParams)
	}
	refs := env.Store.CleanReferences(d.Answer.References)
	dropped := len(d.Answer.References) - len(refs)
	draft := &core.AnswerDraft{
		Question:      env.Focus,
		Text:          strings.TrimSpace(d.Answer.Text),
		References:    refs,
		RawReferences: d.Answer.References,
		Think:         d.Think,
	}
	summary := fmt.Sprintf("answer with %d references", len(refs))
	if dropped > 0 {
		summary += fmt.Sprintf(", %d unknown or duplicate dropped", dropped)
	}
	return core.Outcome{Draft: draft, Summary: summary}, nil
}

// ForceAnswer asks for a final answer from whatever knowledge exists. It
// never fails: if generation fails or returns nothing, a deterministic
// answer is assembled from the store.
func (a *Answer) ForceAnswer(ctx context.Context, env Env, hints []string) core.Outcome {
	meter := newTally(env.Budget)
	items := env.Store.AsContext()

	var draft *core.AnswerDraft
	if a.llm != nil && ctx.Err() == nil {
		out, _, err := llm.Object[answerOutput](ctx, a.llm, meter, llm.Request{
			System: forcedSystem,
			Prompt: forcedPrompt(env.Question.Text, items, hints),
			Schema: answerSchema,
		})
		switch {
		case err != nil:
			env.Trace.Fail(env.Step, core.EntryProviderError, "forced answer", err)
			a.logger.Warn("forced answer generation failed", zap.Error(err))
		case strings.TrimSpace(out.Answer) == "":
			env.Trace.Add(core.Entry{Step: env.Step, Kind: core.EntryStep, Outcome: "forced answer came back empty"})
		default:
			draft = &core.AnswerDraft{
				Question:      env.Question.Text,
				Text:          strings.TrimSpace(out.Answer),
				References:    env.Store.CleanReferences(out.References),
				RawReferences: out.References,
				Think:         out.Think,
			}
		}
	}
	if draft == nil {
		draft = FallbackAnswer(env.Question.Text, items, env.Store)
	}
	draft.Forced = true
	return core.Outcome{Draft: draft, Cost: meter.total(), Summary: "forced answer"}
}

// fallbackItems caps how many findings a fallback answer lists.
const fallbackItems = 5

// FallbackAnswer builds a non-empty answer without calling any provider.
func FallbackAnswer(question string, items []knowledge.Item, store *knowledge.Store) *core.AnswerDraft {
	var findings []string
	var refs []knowledge.Reference
	for i := len(items) - 1; i >= 0 && len(findings) < fallbackItems; i-- {
		it := items[i]
		if strings.TrimSpace(it.Answer) == "" {
			continue
		}
		findings = append(findings, fmt.Sprintf("- %s: %s", it.Question, excerpt(it.Answer, 280)))
		refs = append(refs, it.References...)
	}
	if store != nil {
		refs = store.CleanReferences(refs)
	} else {
		refs = nil
	}

	var b strings.Builder
	if len(findings) == 0 {
		fmt.Fprintf(&b, "No reliable answer was found for %q within the research budget.", question)
	} else {
		fmt.Fprintf(&b, "I could not fully verify an answer to %q. The most relevant findings were:\n\n", question)
		for i := len(findings) - 1; i >= 0; i-- {
			b.WriteString(findings[i])
			b.WriteByte('\n')
		}
	}
	return &core.AnswerDraft{Question: question, Text: strings.TrimSpace(b.String()), References: refs}
}

const forcedSystem = `You are a research assistant that must answer now. No further searching is possible.
Answer the question as well as the knowledge allows. Be direct; if something is uncertain, say what is known and what is not.
Cite only urls that appear in the knowledge, using exact quotes from it.`

func forcedPrompt(question string, items []knowledge.Item, hints []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION:\n%s\n", question)
	if ctx := contextBlock(items, forcedContextChars); ctx != "" {
		fmt.Fprintf(&b, "\nKNOWLEDGE:\n%s\n", ctx)
	} else {
		b.WriteString("\nKNOWLEDGE:\n(none gathered)\n")
	}
	if len(hints) > 0 {
		b.WriteString("\nREVIEWER FEEDBACK ON EARLIER ANSWERS:\n")
		for _, h := range hints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	b.WriteString("\nOUTPUT FORMAT (JSON): {\"think\": \"...\", \"answer\": \"...\", \"references\": [{\"exactQuote\": \"...\", \"url\": \"...\"}]}")
	return b.String()
}

func contextBlock(items []knowledge.Item, maxChars int) string {
	return strings.TrimSpace(knowledge.Digest(items, maxChars))
}
