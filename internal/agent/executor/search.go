package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
)

// Search fans queries out to the search provider concurrently.
type Search struct {
	searcher   web_search.WebSearcher
	maxResults int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewSearch builds the search executor. Each query gets its own timeout.
func NewSearch(searcher web_search.WebSearcher, maxResults int, timeout time.Duration, logger *zap.Logger) *Search {
	if maxResults <= 0 {
		maxResults = 10
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Search{searcher: searcher, maxResults: maxResults, timeout: timeout, logger: logger.Named("search")}
}

func (s *Search) Kind() action.Kind { return action.Search }

type queryResult struct {
	query   string
	results []models.Result
	err     error
}

// Execute issues every fresh query concurrently. A failed query contributes
// nothing and is written to the trace; the others are unaffected.
func (s *Search) Execute(ctx context.Context, d action.Decision, env Env) (core.Outcome, error) {
	if d.Search == nil || len(d.Search.Queries) == 0 {
		return core.Outcome{}, fmt.Errorf("%w: search without queries", action.ErrInvalidParams)
	}
	meter := newTally(env.Budget)

	var queries []string
	for _, q := range d.Search.Queries {
		if !env.Store.RecordQuery(q) {
			env.Trace.Add(core.Entry{Step: env.Step, Kind: core.EntryStep, Outcome: fmt.Sprintf("skipped near-duplicate query %q", q)})
			continue
		}
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		return core.Outcome{Summary: "all queries were already issued"}, nil
	}

	results := make([]queryResult, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			meter.Charge(budget.Units(llm.EstimateTokens(q), budget.Prompt))
			res, err := s.searcher.Discover(callCtx, q, s.maxResults)
			results[i] = queryResult{query: q, results: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var out core.Outcome
	newURLs := 0
	for _, r := range results {
		if r.err != nil {
			out.Failures++
			telemetry.SubCallFailures.WithLabelValues(string(action.Search)).Inc()
			env.Trace.Fail(env.Step, core.EntryProviderError, fmt.Sprintf("search %q", r.query), r.err)
			s.logger.Warn("search query failed", zap.String("query", r.query), zap.Error(r.err))
			continue
		}
		if len(r.results) == 0 {
			env.Store.RecordBadQuery(r.query)
			continue
		}
		item, fresh := s.absorb(r, env.Store)
		newURLs += fresh
		if item == nil {
			continue
		}
		meter.Charge(budget.Units(llm.EstimateTokens(item.Answer), budget.Prompt))
		out.Items = append(out.Items, env.Store.Append(*item))
	}
	out.Cost = meter.total()
	out.Summary = fmt.Sprintf("%d queries, %d new urls, %d failed", len(queries), newURLs, out.Failures)
	return out, nil
}

// absorb registers hits and builds one side-info item from the hits whose
// url has not been visited yet.
func (s *Search) absorb(r queryResult, store *knowledge.Store) (*knowledge.Item, int) {
	var lines []string
	var refs []knowledge.Reference
	fresh := 0
	for _, hit := range r.results {
		if strings.TrimSpace(hit.URL) == "" {
			continue
		}
		if store.HasVisited(hit.URL) {
			continue
		}
		if store.AddSnippet(knowledge.Snippet{URL: hit.URL, Title: hit.Title, Description: hit.Snippet, Date: hit.Date}) {
			fresh++
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)", hit.Title, hit.Snippet, knowledge.Normalize(hit.URL)))
		refs = append(refs, knowledge.Reference{
			URL:        knowledge.Normalize(hit.URL),
			Title:      hit.Title,
			ExactQuote: hit.Snippet,
			DateTime:   hit.Date,
		})
	}
	if len(lines) == 0 {
		return nil, 0
	}
	return &knowledge.Item{
		Kind:       knowledge.KindSideInfo,
		Question:   fmt.Sprintf("What does the web say about %q?", r.query),
		Answer:     strings.Join(lines, "\n"),
		References: refs,
	}, fresh
}
