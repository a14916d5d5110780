package httpread

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><head><title>Gophers</title></head><body>
<article><h1>All about gophers</h1>
<p>Gophers are small burrowing rodents. They spend most of their lives underground, digging extensive tunnel systems.</p>
<p>The Go mascot is also a gopher, drawn by Renee French, and it shows up across the whole Go ecosystem.</p>
<p>This paragraph exists so the readability heuristics see enough text to treat the article as content.</p>
</article></body></html>`

func TestExecExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	res, err := New(time.Second, 0).Exec(context.Background(), srv.URL+"/gophers")
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)
	assert.Contains(t, res.Text, "burrowing rodents")
	assert.Greater(t, res.Tokens, int64(0))
	assert.NotEmpty(t, res.HTMLHash)
}

func TestExecPlainTextAndTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	res, err := New(time.Second, 4).Exec(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "0123", res.Text)
	assert.Equal(t, int64(1), res.Tokens)
}

func TestExecFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	res, err := New(time.Second, 0).Exec(context.Background(), srv.URL)
	var se StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestExecRejectsInvalidURL(t *testing.T) {
	_, err := New(time.Second, 0).Exec(context.Background(), "ftp://example.com/file")
	assert.Error(t, err)
}
