// Package llmtest provides scripted Generators for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

// Func adapts a function to llm.Generator.
type Func func(ctx context.Context, req llm.Request) (llm.Response, error)

func (f Func) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	return f(ctx, req)
}

// Router answers by schema name. Requests without a schema use the "" entry.
// Every response is charged Usage.
type Router struct {
	mu       sync.Mutex
	Handlers map[string]func(req llm.Request) (any, error)
	Usage    budget.Usage
	calls    map[string]int
}

// Generate implements llm.Generator.
func (r *Router) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	name := ""
	if req.Schema != nil {
		name = req.Schema.Name
	}
	r.mu.Lock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[name]++
	h := r.Handlers[name]
	r.mu.Unlock()

	resp := llm.Response{Usage: r.Usage}
	if h == nil {
		return resp, errNoHandler(name)
	}
	v, err := h(req)
	if err != nil {
		return resp, err
	}
	if s, ok := v.(string); ok {
		resp.Text = s
		return resp, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return resp, err
	}
	resp.Text = string(b)
	return resp, nil
}

// Calls returns how often a schema was requested.
func (r *Router) Calls(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

type errNoHandler string

func (e errNoHandler) Error() string { return "no handler for schema " + string(e) }
