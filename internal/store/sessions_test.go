package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/orchestrator"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Store{DB: db}, mock
}

func finishedSession() orchestrator.Result {
	return orchestrator.Result{
		SessionID: "s-1",
		Question:  "Who wrote Dune?",
		Answer:    "Frank Herbert[^1]",
		References: []knowledge.Reference{
			{URL: "https://example.com/dune", ExactQuote: "Dune by Frank Herbert", Title: "Dune"},
			{URL: "https://example.org/herbert", Title: "Herbert"},
		},
		Usage:    budget.Usage{PromptTokens: 100, AcceptedTokens: 20},
		Criteria: []core.Criterion{core.Definitive},
		Steps:    3,
		Duration: 2 * time.Second,
	}
}

func TestSaveSessionWritesSessionAndReferences(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO research_sessions`).
		WithArgs("s-1", "Who wrote Dune?", "Frank Herbert[^1]", 3, false, "",
			int64(100), int64(20), int64(120), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(2000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO session_references`).
		WithArgs("s-1", 1, "https://example.com/dune", "Dune by Frank Herbert", "Dune", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO session_references`).
		WithArgs("s-1", 2, "https://example.org/herbert", "", "Herbert", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, st.SaveSession(context.Background(), finishedSession()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSessionKeepsFirstCopy(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO research_sessions`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, st.SaveSession(context.Background(), finishedSession()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSessionRollsBackOnReferenceFailure(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO research_sessions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO session_references`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := st.SaveSession(context.Background(), finishedSession())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSessionRequiresID(t *testing.T) {
	st, _ := newMockStore(t)
	res := finishedSession()
	res.SessionID = ""
	assert.Error(t, st.SaveSession(context.Background(), res))
}

func TestGetSession(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, question, answer .* FROM research_sessions WHERE id = \$1`).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "question", "answer", "steps", "forced", "force_reason", "usage", "criteria",
			"visited_urls", "read_urls", "trace", "duration_ms", "created_at",
		}).AddRow("s-1", "Who wrote Dune?", "Frank Herbert", 3, true, "steps",
			[]byte(`{"prompt_tokens":100,"accepted_prediction_tokens":20}`), "{definitive,freshness}",
			"{https://example.com/dune}", "{}", []byte(`[{"step":1,"kind":"step","at":"2025-05-01T10:00:00Z"}]`),
			int64(1500), created))
	mock.ExpectQuery(`SELECT url, exact_quote, title, date_time FROM session_references`).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"url", "exact_quote", "title", "date_time"}).
			AddRow("https://example.com/dune", "Dune by Frank Herbert", "Dune", "2024-01-01"))

	rec, ok, err := st.GetSession(context.Background(), "s-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "steps", rec.ForceReason)
	assert.Equal(t, int64(120), rec.Usage.TotalTokens())
	assert.Equal(t, []string{"definitive", "freshness"}, rec.Criteria)
	assert.Equal(t, []string{"https://example.com/dune"}, rec.VisitedURLs)
	require.Len(t, rec.Trace, 1)
	assert.Equal(t, core.EntryStep, rec.Trace[0].Kind)
	assert.Equal(t, 1500*time.Millisecond, rec.Duration)
	require.Len(t, rec.References, 1)
	assert.Equal(t, "2024-01-01", rec.References[0].DateTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionMissing(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`FROM research_sessions WHERE id = \$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, ok, err := st.GetSession(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSessions(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "question", "forced", "total_tokens", "created_at"}).
			AddRow("s-2", "q2", false, int64(10), now).
			AddRow("s-1", "q1", true, int64(99), now.Add(-time.Hour)))

	rows, err := st.ListSessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "s-2", rows[0].ID)
	assert.True(t, rows[1].Forced)
}

func TestPruneSessionsBefore(t *testing.T) {
	st, mock := newMockStore(t)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	mock.ExpectExec(`DELETE FROM research_sessions WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := st.PruneSessionsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = st.PruneSessionsBefore(context.Background(), time.Time{})
	assert.Error(t, err)
}
