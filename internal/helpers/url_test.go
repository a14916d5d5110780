package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"defaults https and cleans path", "Example.com/news/../tech/latest", "https://example.com/tech/latest"},
		{"drops default port and tracking", "http://news.example.com:80/article?id=123&utm_source=rss#section", "http://news.example.com/article?id=123"},
		{"keeps custom port", "https://Example.com:8443/a", "https://example.com:8443/a"},
		{"sorts query and keeps trailing slash", "https://example.com/path/?b=2&a=1&fbclid=xyz", "https://example.com/path/?a=1&b=2"},
		{"schemeless double slash", "//blog.example.com/post/42?utm_medium=email", "https://blog.example.com/post/42"},
		{"collapses repeated slashes", "https://example.com//a//b///c", "https://example.com/a/b/c"},
		{"bare host gets root path", "HTTPS://Example.com", "https://example.com/"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := CanonicalURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalURLErrors(t *testing.T) {
	t.Parallel()
	_, err := CanonicalURL("")
	assert.Error(t, err)
	_, err = CanonicalURL(":///invalid")
	assert.Error(t, err)
}
