// Package llm is the text-generation collaborator: generate(prompt, schema)
// returning text plus categorised token usage.
package llm

import (
	"context"

	"github.com/mohammad-safakhou/deepresearch/internal/budget"
)

// Schema names a JSON schema the output should conform to.
type Schema struct {
	Name       string
	Definition map[string]any
}

// Request is one generation call.
type Request struct {
	System      string
	Prompt      string
	Schema      *Schema
	Temperature *float64
	MaxTokens   int
}

// Response carries the raw output and what it cost.
type Response struct {
	Text  string
	Think string
	Usage budget.Usage
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Meter receives the usage of every call, failed ones included.
type Meter interface {
	Charge(u budget.Usage)
}

// EstimateTokens approximates token count from text length.
func EstimateTokens(s string) int64 {
	if s == "" {
		return 0
	}
	return int64(len(s)+3) / 4
}

// Object generates and decodes a structured value, charging meter with
// whatever the call reported. A call that returns no usage is charged the
// estimated prompt size so spent always advances.
func Object[T any](ctx context.Context, g Generator, meter Meter, req Request) (T, Response, error) {
	var zero T
	resp, err := g.Generate(ctx, req)
	charge(meter, req, resp)
	if err != nil {
		return zero, resp, err
	}
	res := Decode[T](resp.Text)
	if res.Err != nil {
		return zero, resp, res.Err
	}
	return res.Value, resp, nil
}

// Text generates free text, charging meter like Object.
func Text(ctx context.Context, g Generator, meter Meter, req Request) (Response, error) {
	resp, err := g.Generate(ctx, req)
	charge(meter, req, resp)
	return resp, err
}

func charge(meter Meter, req Request, resp Response) {
	if meter == nil {
		return
	}
	u := resp.Usage
	if u.TotalTokens() == 0 {
		u.PromptTokens = EstimateTokens(req.System) + EstimateTokens(req.Prompt)
		u.AcceptedTokens = EstimateTokens(resp.Text)
	}
	meter.Charge(u)
}
