package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/orchestrator"
	"github.com/mohammad-safakhou/deepresearch/internal/cache"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/logging"
	"github.com/mohammad-safakhou/deepresearch/internal/queue/streams"
	"github.com/mohammad-safakhou/deepresearch/internal/sandbox"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search"
)

// app holds the process-wide collaborators. redis, store and sink are nil
// when their storage section is not configured.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	orch   *orchestrator.Orchestrator
	redis  *redis.Client
	store  *store.Store
	sink   *streams.SessionSink
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, logger, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	if cfg.Storage.Redis.Enabled() {
		a.redis, err = cache.Connect(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		a.sink, err = streams.NewSessionSink(a.redis, cfg.Storage.Redis.SessionStream, cfg.Storage.Redis.StreamMaxLen)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	if cfg.Storage.Postgres.Enabled() {
		a.store, err = store.Open(ctx, cfg.Storage.Postgres)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.orch, err = buildOrchestrator(cfg, a.redis, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func buildOrchestrator(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (*orchestrator.Orchestrator, error) {
	gen := llm.NewGuarded(llm.NewOpenAI(cfg.LLM), cfg.LLM, logger.Named("llm"))

	provider, err := web_search.NewWebSearcher(cfg.Sources.WebSearch)
	if err != nil {
		return nil, fmt.Errorf("search provider: %w", err)
	}
	opts := []web_search.GuardOption{web_search.WithRateLimit(cfg.Sources.WebSearch.RequestsPerSecond)}
	if rdb != nil {
		opts = append(opts, web_search.WithCache(cache.NewJSON(rdb, "deepresearch:search"), cfg.Sources.WebSearch.CacheTTL))
	}
	searcher := web_search.NewGuarded(cfg.Sources.WebSearch.Provider, provider, logger.Named("search"), opts...)

	fetcher, err := web_fetch.NewWebFetcher(cfg.Sources.WebFetch)
	if err != nil {
		return nil, fmt.Errorf("page reader: %w", err)
	}

	deps := orchestrator.Deps{LLM: gen, Searcher: searcher, Fetcher: fetcher}
	if cfg.Security.SandboxEnabled() {
		policy, err := sandbox.LoadPolicy(cfg.Security)
		if err != nil {
			return nil, err
		}
		deps.Runner = sandbox.NewYaegi(policy, logger.Named("sandbox"))
	}
	return orchestrator.New(orchestrator.ConfigFrom(cfg), deps, logger)
}

// record archives and publishes a finished session when storage is
// configured. Failures are logged; the answer has already been produced.
func (a *app) record(ctx context.Context, res orchestrator.Result) {
	if a.store != nil {
		if err := a.store.SaveSession(ctx, res); err != nil {
			a.logger.Warn("archive session", zap.String("session_id", res.SessionID), zap.Error(err))
		}
	}
	if a.sink != nil {
		if _, err := a.sink.SessionCompleted(ctx, res); err != nil {
			a.logger.Warn("publish session", zap.String("session_id", res.SessionID), zap.Error(err))
		}
	}
}

func (a *app) Close() {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}
