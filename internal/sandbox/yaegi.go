package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
)

var (
	ErrForbiddenImport = errors.New("forbidden import")
	ErrNoEntrypoint    = errors.New("snippet must define func Run() (string, error)")
	ErrTimeout         = errors.New("sandbox execution timed out")
)

// Result is the captured output of one run.
type Result struct {
	Return    string
	Stdout    string
	Truncated bool
	Duration  time.Duration
}

// Output joins the return value and anything printed.
func (r Result) Output() string {
	switch {
	case r.Return == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Return
	}
	return strings.TrimRight(r.Stdout, "\n") + "\n" + r.Return
}

// Runner executes a snippet.
type Runner interface {
	Run(ctx context.Context, code string) (Result, error)
}

// Yaegi interprets snippets that define func Run() (string, error).
type Yaegi struct {
	policy  *Policy
	allowed map[string]bool
	logger  *zap.Logger
}

// NewYaegi builds an interpreter sandbox for policy.
func NewYaegi(policy *Policy, logger *zap.Logger) *Yaegi {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(policy.AllowedImports))
	for _, imp := range policy.AllowedImports {
		allowed[imp] = true
	}
	logger.Info("sandbox ready",
		zap.String("provider", policy.Provider),
		zap.String("timeout", policy.Timeout),
		zap.String("memory", policy.Memory),
		zap.Bool("network_enabled", policy.Network.Enabled),
		zap.Int("allowed_imports", len(allowed)),
	)
	return &Yaegi{policy: policy, allowed: allowed, logger: logger}
}

// Run validates imports, interprets code and calls its Run function under
// the policy timeout.
func (y *Yaegi) Run(ctx context.Context, code string) (Result, error) {
	src := wrap(code)
	if err := y.validateImports(src); err != nil {
		recordRejected(ctx, "import")
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, y.policy.TimeoutDuration())
	defer cancel()
	start := time.Now()

	stdout := &capped{limit: y.policy.MaxOutputBytes}
	i := interp.New(interp.Options{Stdout: stdout, Stderr: stdout})
	if err := i.Use(stdlib.Symbols); err != nil {
		return Result{}, fmt.Errorf("load stdlib: %w", err)
	}
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		recordRun(ctx, "compile_error", time.Since(start).Seconds(), y.policy)
		if ctx.Err() != nil {
			return Result{}, ErrTimeout
		}
		return Result{}, fmt.Errorf("evaluate snippet: %w", err)
	}
	v, err := i.EvalWithContext(ctx, "main.Run")
	if err != nil {
		recordRejected(ctx, "entrypoint")
		return Result{}, ErrNoEntrypoint
	}
	if _, ok := v.Interface().(func() (string, error)); !ok {
		recordRejected(ctx, "entrypoint")
		return Result{}, ErrNoEntrypoint
	}
	if _, err := i.EvalWithContext(ctx, entryShim); err != nil {
		return Result{}, fmt.Errorf("install entrypoint: %w", err)
	}

	// The call is interpreted rather than invoked natively so cancelling ctx
	// stops the snippet instead of leaving it running.
	ret, err := i.EvalWithContext(ctx, "main."+entryFunc+"()")
	if err != nil {
		if ctx.Err() != nil {
			recordRun(ctx, "timeout", time.Since(start).Seconds(), y.policy)
			y.logger.Warn("sandbox run cancelled", zap.Duration("timeout", y.policy.TimeoutDuration()))
			return Result{}, ErrTimeout
		}
		recordRun(ctx, "error", time.Since(start).Seconds(), y.policy)
		return Result{Stdout: stdout.String(), Truncated: stdout.truncated, Duration: time.Since(start)},
			fmt.Errorf("run snippet: %w", err)
	}
	res := Result{Stdout: stdout.String(), Truncated: stdout.truncated, Duration: time.Since(start)}
	res.Return = truncate(ret.String(), y.policy.MaxOutputBytes, &res.Truncated)
	if msg, err := i.EvalWithContext(ctx, "main."+entryErr); err == nil && msg.String() != "" {
		recordRun(ctx, "error", res.Duration.Seconds(), y.policy)
		return res, fmt.Errorf("snippet returned error: %s", msg.String())
	}
	recordRun(ctx, "ok", res.Duration.Seconds(), y.policy)
	return res, nil
}

func (y *Yaegi) validateImports(src string) error {
	f, err := parser.ParseFile(token.NewFileSet(), "snippet.go", src, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("parse snippet: %w", err)
	}
	var forbidden []string
	for _, imp := range f.Imports {
		pkg, err := strconv.Unquote(imp.Path.Value)
		if err != nil || !y.allowed[pkg] {
			forbidden = append(forbidden, imp.Path.Value)
		}
	}
	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return fmt.Errorf("%w: %s", ErrForbiddenImport, strings.Join(forbidden, ", "))
	}
	return nil
}

const (
	entryFunc = "sandboxEntrypoint"
	entryErr  = "sandboxEntryErr"
)

// entryShim is evaluated into package main after the snippet. It calls Run
// and keeps its error text in a package variable, so a single interpreted
// call yields both results.
const entryShim = `var ` + entryErr + ` string

func ` + entryFunc + `() string {
	out, err := Run()
	if err != nil {
		` + entryErr + ` = err.Error()
	}
	return out
}
`

func wrap(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "package ") {
		return code
	}
	return "package main\n\n" + code
}

func truncate(s string, limit int, truncated *bool) string {
	if limit > 0 && len(s) > limit {
		*truncated = true
		return s[:limit]
	}
	return s
}

// capped is a goroutine-safe writer that keeps at most limit bytes.
type capped struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *capped) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(p)
	if c.limit > 0 {
		room := c.limit - c.buf.Len()
		if room <= 0 {
			c.truncated = true
			return n, nil
		}
		if len(p) > room {
			p = p[:room]
			c.truncated = true
		}
	}
	c.buf.Write(p)
	return n, nil
}

func (c *capped) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
