package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrawlPolicyNormalize(t *testing.T) {
	cfg := CrawlPolicyConfig{
		Allow:    []string{"Example.com", "https://www.news.example.com/path", " "},
		Disallow: []string{"www.Bad.com", "BAD.com"},
	}

	norm := cfg.Normalize()
	assert.Equal(t, []string{"example.com", "news.example.com"}, norm.Allow)
	assert.Equal(t, []string{"bad.com"}, norm.Disallow)
}

func TestCrawlPolicyValidate(t *testing.T) {
	assert.NoError(t, CrawlPolicyConfig{Allow: []string{"example.com"}, Disallow: []string{"blocked.com"}}.Validate())
	assert.Error(t, CrawlPolicyConfig{Allow: []string{"example.com"}, Disallow: []string{"www.example.com"}}.Validate())
}

func TestCrawlPolicyPermits(t *testing.T) {
	open := CrawlPolicyConfig{Disallow: []string{"bad.com"}}.Normalize()
	assert.True(t, open.Permits("https://example.org/a"))
	assert.False(t, open.Permits("https://bad.com/x"))
	assert.False(t, open.Permits("https://cdn.bad.com/x"))
	assert.False(t, open.Permits("not a url"))

	closed := CrawlPolicyConfig{Allow: []string{"example.com"}}.Normalize()
	assert.True(t, closed.Permits("https://www.example.com/"))
	assert.True(t, closed.Permits("https://docs.example.com/guide"))
	assert.False(t, closed.Permits("https://notexample.com/"))
}
