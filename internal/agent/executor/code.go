package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/sandbox"
)

// ErrNoSandbox is returned when coding is dispatched without a runner.
var ErrNoSandbox = errors.New("no sandbox configured")

const codeAttempts = 2

var codeSchema = &llm.Schema{
	Name: "coding",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"think": map[string]any{"type": "string"},
			"code":  map[string]any{"type": "string"},
		},
		"required":             []string{"think", "code"},
		"additionalProperties": false,
	},
}

type generatedCode struct {
	Think string `json:"think"`
	Code  string `json:"code"`
}

// Code asks the generator for a Go snippet and runs it in the sandbox.
type Code struct {
	llm    llm.Generator
	runner sandbox.Runner
	logger *zap.Logger
}

func NewCode(gen llm.Generator, runner sandbox.Runner, logger *zap.Logger) *Code {
	return &Code{llm: gen, runner: runner, logger: logger.Named("coding")}
}

func (c *Code) Kind() action.Kind { return action.Coding }

// Execute retries once with the previous error in the prompt. Execution
// errors land in the trace; they never fail the session.
func (c *Code) Execute(ctx context.Context, d action.Decision, env Env) (core.Outcome, error) {
	if d.Coding == nil || strings.TrimSpace(d.Coding.Issue) == "" {
		return core.Outcome{}, fmt.Errorf("%w: coding without issue", action.ErrInvalidParams)
	}
	if c.runner == nil {
		return core.Outcome{}, ErrNoSandbox
	}
	meter := newTally(env.Budget)

	var out core.Outcome
	var lastErr error
	var lastCode string
	for attempt := 1; attempt <= codeAttempts; attempt++ {
		gen, _, err := llm.Object[generatedCode](ctx, c.llm, meter, llm.Request{
			System: codingSystem,
			Prompt: codingPrompt(d.Coding.Issue, env.Store.AsContext(), lastCode, lastErr),
			Schema: codeSchema,
		})
		if err != nil {
			out.Failures++
			telemetry.SubCallFailures.WithLabelValues(string(action.Coding)).Inc()
			env.Trace.Fail(env.Step, core.EntryProviderError, "generate code", err)
			lastErr = err
			continue
		}
		lastCode = gen.Code
		res, err := c.runner.Run(ctx, gen.Code)
		if err != nil {
			out.Failures++
			env.Trace.Fail(env.Step, core.EntryExecError, fmt.Sprintf("sandbox attempt %d", attempt), err)
			c.logger.Debug("sandbox run failed", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}
		output := res.Output()
		if res.Truncated {
			output += "\n[output truncated]"
		}
		out.Items = append(out.Items, env.Store.Append(knowledge.Item{
			Kind:     knowledge.KindCoding,
			Question: d.Coding.Issue,
			Answer:   fmt.Sprintf("Computed with:\n%s\n\nResult:\n%s", gen.Code, output),
		}))
		out.Cost = meter.total()
		out.Summary = fmt.Sprintf("code ran in %s", res.Duration.Round(time.Millisecond))
		return out, nil
	}
	out.Cost = meter.total()
	out.Summary = fmt.Sprintf("coding failed after %d attempts", codeAttempts)
	return out, nil
}

const codingSystem = `You write small self-contained Go programs that compute an answer.
Define exactly one function with the signature: func Run() (string, error)
The returned string is the result. Only use the standard library packages fmt, math, sort, strings, strconv, time, unicode, regexp, encoding/json, math/big.
Do not read files, open network connections or start goroutines.`

func codingPrompt(issue string, items []knowledge.Item, prevCode string, prevErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PROBLEM:\n%s\n", issue)
	if ctx := contextBlock(items, 4000); ctx != "" {
		fmt.Fprintf(&b, "\nAVAILABLE DATA:\n%s\n", ctx)
	}
	if prevErr != nil {
		fmt.Fprintf(&b, "\nPREVIOUS ATTEMPT FAILED:\n%s\n", prevErr)
		if prevCode != "" {
			fmt.Fprintf(&b, "\nPREVIOUS CODE:\n%s\n", prevCode)
		}
	}
	b.WriteString("\nOUTPUT FORMAT (JSON): {\"think\": \"...\", \"code\": \"...\"}")
	return b.String()
}
