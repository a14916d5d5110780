// Package httpread reads pages with a plain HTTP GET and extracts the main
// article text with readability.
package httpread

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch/models"
)

const maxBodyBytes = 5 << 20

// Fetch is a net/http page reader.
type Fetch struct {
	client   *http.Client
	maxChars int
}

func New(timeout time.Duration, maxChars int) *Fetch {
	return &Fetch{client: &http.Client{Timeout: timeout}, maxChars: maxChars}
}

// StatusError reports an HTTP failure status.
type StatusError struct{ Code int }

func (e StatusError) Error() string { return fmt.Sprintf("http status %d", e.Code) }

func (f *Fetch) Exec(ctx context.Context, rawURL string) (models.Result, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return models.Result{}, errors.New("invalid url")
	}
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("User-Agent", "DeepResearchAgent/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return models.Result{URL: rawURL, Status: 599, RenderMS: elapsedMS(t0)}, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return models.Result{URL: rawURL, Status: resp.StatusCode, RenderMS: elapsedMS(t0)}, StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Result{URL: rawURL, Status: resp.StatusCode, RenderMS: elapsedMS(t0)}, fmt.Errorf("read %s: %w", rawURL, err)
	}

	res := models.Result{URL: rawURL, Status: resp.StatusCode}
	sum := sha1.Sum(body)
	res.HTMLHash = hex.EncodeToString(sum[:])

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		res.Text = strings.TrimSpace(string(body))
	} else {
		article, err := readability.FromReader(bytes.NewReader(body), u)
		if err != nil {
			return res, fmt.Errorf("extract %s: %w", rawURL, err)
		}
		res.Title = strings.TrimSpace(article.Title)
		res.Byline = strings.TrimSpace(article.Byline)
		res.Text = strings.TrimSpace(article.TextContent)
		if article.PublishedTime != nil {
			res.PublishedAt = article.PublishedTime.UTC().Format(time.RFC3339)
		}
	}
	if res.Text == "" {
		return res, fmt.Errorf("extract %s: no readable content", rawURL)
	}
	if f.maxChars > 0 && len(res.Text) > f.maxChars {
		res.Text = res.Text[:f.maxChars]
	}
	res.Tokens = models.EstimateTokens(res.Text)
	res.RenderMS = elapsedMS(t0)
	return res, nil
}

func elapsedMS(t0 time.Time) int { return int(time.Since(t0) / time.Millisecond) }
