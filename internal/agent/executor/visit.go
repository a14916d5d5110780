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
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch/models"
)

// quoteChars caps the exact quote kept on a page reference.
const quoteChars = 300

// Visit reads pages concurrently.
type Visit struct {
	fetcher web_fetch.WebFetcher
	timeout time.Duration
	logger  *zap.Logger
}

func NewVisit(fetcher web_fetch.WebFetcher, timeout time.Duration, logger *zap.Logger) *Visit {
	if timeout <= 0 {
		timeout = web_fetch.DefaultTimeout
	}
	return &Visit{fetcher: fetcher, timeout: timeout, logger: logger.Named("visit")}
}

func (v *Visit) Kind() action.Kind { return action.Visit }

// Execute marks every target visited before any fetch starts, so a failing
// url is never retried in the same session.
func (v *Visit) Execute(ctx context.Context, d action.Decision, env Env) (core.Outcome, error) {
	if d.Visit == nil || len(d.Visit.URLs) == 0 {
		return core.Outcome{}, fmt.Errorf("%w: visit without urls", action.ErrInvalidParams)
	}
	meter := newTally(env.Budget)

	var targets []string
	for _, raw := range d.Visit.URLs {
		u := knowledge.Normalize(raw)
		if u == "" {
			continue
		}
		if !env.Store.MarkVisited(u) {
			continue
		}
		targets = append(targets, u)
	}
	if len(targets) == 0 {
		return core.Outcome{Summary: "all urls were already visited"}, nil
	}

	pages := make([]*models.Result, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, u := range targets {
		i, u := i, u
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, v.timeout)
			defer cancel()
			res, err := v.fetcher.Exec(callCtx, u)
			if err == nil && strings.TrimSpace(res.Text) == "" {
				err = fmt.Errorf("empty content")
			}
			if err != nil {
				errs[i] = err
				return nil
			}
			pages[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	var out core.Outcome
	for i, u := range targets {
		if errs[i] != nil {
			out.Failures++
			env.Store.MarkFailed(u)
			telemetry.SubCallFailures.WithLabelValues(string(action.Visit)).Inc()
			env.Trace.Fail(env.Step, core.EntryProviderError, "visit "+u, errs[i])
			v.logger.Warn("visit failed", zap.String("url", u), zap.Error(errs[i]))
			continue
		}
		page := pages[i]
		tokens := page.Tokens
		if tokens <= 0 {
			tokens = models.EstimateTokens(page.Text)
		}
		meter.Charge(budget.Units(tokens, budget.Prompt))
		env.Store.MarkRead(u)
		out.Items = append(out.Items, env.Store.Append(pageItem(u, page, env.Store)))
	}
	out.Cost = meter.total()
	out.Summary = fmt.Sprintf("read %d of %d urls", len(out.Items), len(targets))
	return out, nil
}

func pageItem(u string, page *models.Result, store *knowledge.Store) knowledge.Item {
	title := page.Title
	date := page.PublishedAt
	if sn, ok := store.Snippet(u); ok {
		if title == "" {
			title = sn.Title
		}
		if date == "" {
			date = sn.Date
		}
	}
	question := fmt.Sprintf("What is in %s?", u)
	if title != "" {
		question = fmt.Sprintf("What does %q (%s) say?", title, u)
	}
	return knowledge.Item{
		Kind:     knowledge.KindURL,
		Question: question,
		Answer:   page.Text,
		References: []knowledge.Reference{{
			URL:        u,
			Title:      title,
			DateTime:   date,
			ExactQuote: excerpt(page.Text, quoteChars),
		}},
	}
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
