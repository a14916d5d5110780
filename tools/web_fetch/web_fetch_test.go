package web_fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch/models"
)

type stubFetcher struct{ calls []string }

func (s *stubFetcher) Exec(_ context.Context, url string) (models.Result, error) {
	s.calls = append(s.calls, url)
	return models.Result{URL: url, Text: "ok"}, nil
}

func TestWithPolicyBlocksBeforeFetching(t *testing.T) {
	inner := &stubFetcher{}
	f := WithPolicy(inner, config.CrawlPolicyConfig{Disallow: []string{"blocked.com"}})

	_, err := f.Exec(context.Background(), "https://news.blocked.com/story")
	require.ErrorIs(t, err, ErrDisallowedHost)
	assert.Empty(t, inner.calls)

	res, err := f.Exec(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, []string{"https://example.com/a"}, inner.calls)
}

func TestNewWebFetcher(t *testing.T) {
	f, err := NewWebFetcher(config.WebFetchConfig{Reader: "http"})
	require.NoError(t, err)
	_, guarded := f.(*policyFetcher)
	assert.False(t, guarded)

	f, err = NewWebFetcher(config.WebFetchConfig{Policy: config.CrawlPolicyConfig{Allow: []string{"Example.com"}}})
	require.NoError(t, err)
	_, guarded = f.(*policyFetcher)
	assert.True(t, guarded)

	_, err = NewWebFetcher(config.WebFetchConfig{Reader: "lynx"})
	assert.ErrorIs(t, err, ErrUnsupportedFetcher)
}
