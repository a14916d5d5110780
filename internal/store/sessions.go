package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/orchestrator"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

// SessionRecord is an archived session.
type SessionRecord struct {
	ID          string
	Question    string
	Answer      string
	Steps       int
	Forced      bool
	ForceReason string
	Usage       budget.Usage
	Criteria    []string
	VisitedURLs []string
	ReadURLs    []string
	Trace       []core.Entry
	References  []knowledge.Reference
	Duration    time.Duration
	CreatedAt   time.Time
}

// SessionSummary is a list row without trace or references.
type SessionSummary struct {
	ID          string
	Question    string
	Forced      bool
	TotalTokens int64
	CreatedAt   time.Time
}

// SaveSession archives a finished session. Saving the same session twice
// keeps the first copy.
func (s *Store) SaveSession(ctx context.Context, res orchestrator.Result) (err error) {
	if res.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	usage, err := json.Marshal(res.Usage)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	trace := res.Trace
	if trace == nil {
		trace = []core.Entry{}
	}
	traceJSON, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	criteria := make([]string, 0, len(res.Criteria))
	for _, c := range res.Criteria {
		criteria = append(criteria, string(c))
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	r, err := tx.ExecContext(ctx, `
INSERT INTO research_sessions (id, question, answer, steps, forced, force_reason,
  prompt_tokens, completion_tokens, total_tokens, usage, criteria, visited_urls, read_urls, trace, duration_ms)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO NOTHING`,
		res.SessionID, res.Question, res.Answer, res.Steps, res.Forced, res.ForceReason,
		res.Usage.PromptTokens, res.Usage.CompletionTokens(), res.Usage.TotalTokens(), usage,
		pq.Array(criteria), pq.Array(nonNil(res.VisitedURLs)), pq.Array(nonNil(res.ReadURLs)),
		traceJSON, res.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	for i, ref := range res.References {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO session_references (session_id, position, url, exact_quote, title, date_time)
VALUES ($1,$2,$3,$4,$5,$6)`,
			res.SessionID, i+1, ref.URL, ref.ExactQuote, ref.Title, ref.DateTime); err != nil {
			return fmt.Errorf("insert reference %d: %w", i+1, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr == nil {
		archivedCounter.Add(ctx, 1)
	}
	return nil
}

// GetSession loads an archived session with its references.
func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, bool, error) {
	var (
		rec       SessionRecord
		usage     []byte
		traceJSON []byte
		durMS     int64
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, question, answer, steps, forced, force_reason, usage, criteria, visited_urls, read_urls, trace, duration_ms, created_at
FROM research_sessions WHERE id = $1`, id).Scan(
		&rec.ID, &rec.Question, &rec.Answer, &rec.Steps, &rec.Forced, &rec.ForceReason, &usage,
		pq.Array(&rec.Criteria), pq.Array(&rec.VisitedURLs), pq.Array(&rec.ReadURLs), &traceJSON, &durMS, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("select session: %w", err)
	}
	if err := json.Unmarshal(usage, &rec.Usage); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode usage: %w", err)
	}
	if err := json.Unmarshal(traceJSON, &rec.Trace); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode trace: %w", err)
	}
	rec.Duration = time.Duration(durMS) * time.Millisecond

	rows, err := s.DB.QueryContext(ctx, `
SELECT url, exact_quote, title, date_time FROM session_references
WHERE session_id = $1 ORDER BY position`, id)
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("select references: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ref knowledge.Reference
		if err := rows.Scan(&ref.URL, &ref.ExactQuote, &ref.Title, &ref.DateTime); err != nil {
			return SessionRecord{}, false, err
		}
		rec.References = append(rec.References, ref)
	}
	if err := rows.Err(); err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

// ListSessions returns the newest sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, question, forced, total_tokens, created_at FROM research_sessions
ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []SessionSummary
	for rows.Next() {
		var row SessionSummary
		if err := rows.Scan(&row.ID, &row.Question, &row.Forced, &row.TotalTokens, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// PruneSessionsBefore deletes sessions created before cutoff. References
// go with them.
func (s *Store) PruneSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("cutoff is required")
	}
	r, err := s.DB.ExecContext(ctx, `DELETE FROM research_sessions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return 0, err
	}
	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr == nil && n > 0 {
		prunedCounter.Add(ctx, n)
	}
	return n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
