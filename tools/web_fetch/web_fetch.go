package web_fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch/httpread"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	HTTPFetcherType     FetcherType = "http"
	ChromedpFetcherType FetcherType = "chromedp"
)

var (
	ErrUnsupportedFetcher = errors.New("unsupported fetcher type")
	ErrDisallowedHost     = errors.New("host not permitted by crawl policy")
)

// NewWebFetcher builds the configured reader.
func NewWebFetcher(cfg config.WebFetchConfig) (WebFetcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	var inner WebFetcher
	switch FetcherType(cfg.Reader) {
	case HTTPFetcherType, "":
		inner = httpread.New(timeout, maxChars)
	case ChromedpFetcherType:
		inner = &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}
	default:
		return nil, ErrUnsupportedFetcher
	}
	policy := cfg.Policy.Normalize()
	if len(policy.Allow) == 0 && len(policy.Disallow) == 0 {
		return inner, nil
	}
	return WithPolicy(inner, policy), nil
}

// WithPolicy refuses URLs the crawl policy does not permit before the inner
// reader is called.
func WithPolicy(inner WebFetcher, policy config.CrawlPolicyConfig) WebFetcher {
	return &policyFetcher{inner: inner, policy: policy}
}

type policyFetcher struct {
	inner  WebFetcher
	policy config.CrawlPolicyConfig
}

func (p *policyFetcher) Exec(ctx context.Context, url string) (models.Result, error) {
	if !p.policy.Permits(url) {
		return models.Result{}, fmt.Errorf("%w: %s", ErrDisallowedHost, url)
	}
	return p.inner.Exec(ctx, url)
}
