package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRetentionCron runs the pruner once a day.
const DefaultRetentionCron = "0 3 * * *"

// Pruner deletes archived sessions older than the retention window on a
// cron schedule. When Locker is set, only one instance prunes per tick.
type Pruner struct {
	Store     SessionPruner
	Retention time.Duration
	Locker    redis.UniversalClient
	Logger    *zap.Logger

	expr *cronexpr.Expression
	now  func() time.Time
}

// SessionPruner is the part of Store the pruner needs.
type SessionPruner interface {
	PruneSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewPruner parses schedule. An empty schedule uses DefaultRetentionCron; a
// non-positive retention is rejected since it would delete everything.
func NewPruner(st SessionPruner, schedule string, retentionDays int, logger *zap.Logger) (*Pruner, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive")
	}
	if schedule == "" {
		schedule = DefaultRetentionCron
	}
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse retention cron %q: %w", schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{
		Store:     st,
		Retention: time.Duration(retentionDays) * 24 * time.Hour,
		Logger:    logger,
		expr:      expr,
		now:       time.Now,
	}, nil
}

// Next returns the first run strictly after t.
func (p *Pruner) Next(t time.Time) time.Time { return p.expr.Next(t) }

// Run blocks until ctx is done, pruning at every scheduled time.
func (p *Pruner) Run(ctx context.Context) {
	for {
		next := p.Next(p.now())
		if next.IsZero() {
			p.Logger.Warn("retention schedule has no future runs")
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := p.Prune(ctx); err != nil {
			p.Logger.Warn("retention prune failed", zap.Error(err))
		}
	}
}

// Prune deletes everything older than the retention window once.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.Locker != nil {
		ok, err := p.Locker.SetNX(ctx, "deepresearch:retention:lock", "1", 10*time.Minute).Result()
		if err != nil {
			return 0, fmt.Errorf("retention lock: %w", err)
		}
		if !ok {
			p.Logger.Debug("retention prune skipped, lock held elsewhere")
			return 0, nil
		}
		defer p.Locker.Del(context.Background(), "deepresearch:retention:lock")
	}
	cutoff := p.now().Add(-p.Retention)
	n, err := p.Store.PruneSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	p.Logger.Info("pruned archived sessions", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}
