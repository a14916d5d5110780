package web_search

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/transport"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/brave"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/serper"
)

type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

// NewWebSearcher builds the configured provider client.
func NewWebSearcher(cfg config.WebSearchConfig) (WebSearcher, error) {
	client := transport.New(cfg.Timeout, 1, 0)
	switch Provider(cfg.Provider) {
	case SerperProvider:
		return serper.Search{ApiKey: cfg.SerperAPIKey, HTTP: client}, nil
	case BraveProvider:
		return brave.Search{ApiKey: cfg.BraveAPIKey, HTTP: client}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
