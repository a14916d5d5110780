package serper

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/transport"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
)

const DefaultBaseURL = "https://google.serper.dev"

type Search struct {
	ApiKey  string
	BaseURL string
	HTTP    *transport.Client
}

func (s Search) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	// https://serper.dev/ docs
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	payload := map[string]any{"q": q, "num": k}
	headers := map[string]string{"X-API-KEY": s.ApiKey}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic"`
	}
	if err := s.HTTP.DoJSON(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/search", headers, payload, &raw); err != nil {
		return nil, fmt.Errorf("serper search: %w", err)
	}
	out := make([]models.Result, 0, len(raw.Organic))
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, models.Result{
			Title:   helpers.SanitizeHTMLStrict(r.Title),
			URL:     r.Link,
			Snippet: helpers.SanitizeHTMLStrict(r.Snippet),
			Date:    r.Date,
		})
	}
	return out, nil
}
