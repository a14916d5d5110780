package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/llm/llmtest"
	"github.com/mohammad-safakhou/deepresearch/internal/sandbox"
	searchmodels "github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
	fetchmodels "github.com/mohammad-safakhou/deepresearch/tools/web_fetch/models"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]searchmodels.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeSearcher) Discover(_ context.Context, q string, _ int) ([]searchmodels.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.mu.Unlock()
	if err := f.errs[q]; err != nil {
		return nil, err
	}
	return f.results[q], nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]fetchmodels.Result
	calls []string
}

func (f *fakeFetcher) Exec(ctx context.Context, url string) (fetchmodels.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	page, ok := f.pages[url]
	if !ok {
		return fetchmodels.Result{}, errors.New("404 not found")
	}
	if page.Text == "slow" {
		<-ctx.Done()
		return fetchmodels.Result{}, ctx.Err()
	}
	return page, nil
}

type fakeRunner struct {
	outputs []string
	errs    []error
	calls   int
}

func (f *fakeRunner) Run(_ context.Context, _ string) (sandbox.Result, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return sandbox.Result{}, f.errs[i]
	}
	return sandbox.Result{Return: f.outputs[i], Duration: time.Millisecond}, nil
}

func newEnv(question string) Env {
	return Env{
		Question: core.Question{Text: question, Criteria: []core.Criterion{core.Definitive}},
		Focus:    question,
		Step:     1,
		Store:    knowledge.NewStore(),
		Budget: budget.NewController(budget.Config{
			TokenLimit: 1_000_000, ReserveTokens: 1000, MaxSteps: 10, MaxBadAttempts: 2,
		}),
		Trace: &core.Trace{},
	}
}

func TestSearchPartialSuccess(t *testing.T) {
	t.Parallel()
	searcher := &fakeSearcher{
		results: map[string][]searchmodels.Result{
			"go release": {
				{URL: "https://go.dev/doc/devel/release", Title: "Release History", Snippet: "go1.22 released", Date: "2024-02-06"},
				{URL: "https://go.dev/blog/go1.22", Title: "Go 1.22 is released", Snippet: "blog post"},
			},
		},
		errs: map[string]error{"broken query": errors.New("upstream 503")},
	}
	env := newEnv("When was Go 1.22 released?")
	ex := NewSearch(searcher, 5, time.Second, zap.NewNop())

	out, err := ex.Execute(context.Background(), action.Decision{
		Action: action.Search,
		Search: &action.SearchParams{Queries: []string{"go release", "broken query", "nothing here"}},
	}, env)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Failures)
	require.Len(t, out.Items, 1)
	assert.Equal(t, knowledge.KindSideInfo, out.Items[0].Kind)
	assert.Len(t, out.Items[0].References, 2)
	assert.Len(t, env.Store.Unvisited(), 2)
	assert.Equal(t, []string{"nothing here"}, env.Store.BadQueries())
	assert.Greater(t, env.Budget.Spent(), int64(0))
	assert.Equal(t, env.Budget.Spent(), out.Cost.TotalTokens())

	entries := env.Trace.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, core.EntryProviderError, entries[0].Kind)
	assert.Contains(t, entries[0].Error, "503")
}

func TestSearchSkipsNearDuplicateQueries(t *testing.T) {
	t.Parallel()
	searcher := &fakeSearcher{}
	env := newEnv("q")
	require.True(t, env.Store.RecordQuery("release date golang"))

	out, err := NewSearch(searcher, 5, time.Second, zap.NewNop()).Execute(context.Background(), action.Decision{
		Action: action.Search,
		Search: &action.SearchParams{Queries: []string{"Release date, GOLANG", "golang release date now"}},
	}, env)
	require.NoError(t, err)

	assert.Equal(t, []string{"golang release date now"}, searcher.calls)
	assert.Empty(t, out.Items)
	assert.Equal(t, []string{"golang release date now"}, env.Store.BadQueries())
}

func TestSearchDropsVisitedResults(t *testing.T) {
	t.Parallel()
	searcher := &fakeSearcher{results: map[string][]searchmodels.Result{
		"q": {
			{URL: "https://a.example/seen", Title: "seen"},
			{URL: "https://a.example/fresh", Title: "fresh"},
		},
	}}
	env := newEnv("question")
	env.Store.MarkVisited("https://a.example/seen")

	out, err := NewSearch(searcher, 5, time.Second, zap.NewNop()).Execute(context.Background(), action.Decision{
		Action: action.Search,
		Search: &action.SearchParams{Queries: []string{"q"}},
	}, env)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	require.Len(t, out.Items[0].References, 1)
	assert.Equal(t, "https://a.example/fresh", out.Items[0].References[0].URL)
}

func TestVisitMarksEveryAttemptAndIsolatesFailures(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{pages: map[string]fetchmodels.Result{
		"https://ok.example/page": {URL: "https://ok.example/page", Title: "OK", Text: "useful content", Tokens: 40},
		"https://slow.example/":   {Text: "slow"},
	}}
	env := newEnv("question")
	ex := NewVisit(fetcher, 50*time.Millisecond, zap.NewNop())

	out, err := ex.Execute(context.Background(), action.Decision{
		Action: action.Visit,
		Visit:  &action.VisitParams{URLs: []string{"https://ok.example/page", "https://dead.example/x", "https://slow.example"}},
	}, env)
	require.NoError(t, err)

	require.Len(t, out.Items, 1)
	assert.Equal(t, knowledge.KindURL, out.Items[0].Kind)
	assert.Equal(t, "useful content", out.Items[0].Answer)
	assert.Equal(t, 2, out.Failures)
	assert.Equal(t, int64(40), out.Cost.PromptTokens)

	for _, u := range []string{"https://ok.example/page", "https://dead.example/x", "https://slow.example/"} {
		assert.True(t, env.Store.HasVisited(u), u)
	}
	assert.Equal(t, []string{"https://ok.example/page"}, env.Store.ReadURLs())
	assert.True(t, env.Store.Known("https://ok.example/page"))
	assert.False(t, env.Store.Known("https://dead.example/x"))

	// a second attempt never refetches
	out, err = ex.Execute(context.Background(), action.Decision{
		Action: action.Visit,
		Visit:  &action.VisitParams{URLs: []string{"https://dead.example/x", "https://ok.example/page"}},
	}, env)
	require.NoError(t, err)
	assert.Empty(t, out.Items)
	assert.Len(t, fetcher.calls, 3)
}

func TestReflectAddsDistinctGaps(t *testing.T) {
	t.Parallel()
	env := newEnv("What is the capital of France?")
	env.Store.Append(knowledge.Item{Kind: knowledge.KindQA, Question: "Paris population?"})

	out, err := NewReflect().Execute(context.Background(), action.Decision{
		Action: action.Reflect,
		Reflect: &action.ReflectParams{Questions: []string{
			"population, paris",
			"What is the capital of France",
			"When did Paris become capital?",
			"when did paris become capital",
		}},
	}, env)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "When did Paris become capital?", out.Items[0].Question)
	assert.Empty(t, out.Items[0].Answer)
	assert.Equal(t, int64(0), env.Budget.Spent())
	assert.Contains(t, env.Store.OpenGaps(), "When did Paris become capital?")
}

func TestCodeRetriesWithPreviousError(t *testing.T) {
	t.Parallel()
	var prompts []string
	router := &llmtest.Router{
		Handlers: map[string]func(llm.Request) (any, error){
			"coding": func(req llm.Request) (any, error) {
				prompts = append(prompts, req.Prompt)
				return map[string]string{"think": "sum", "code": "func Run() (string, error) { return \"42\", nil }"}, nil
			},
		},
		Usage: budget.Usage{PromptTokens: 10, AcceptedTokens: 5},
	}
	runner := &fakeRunner{outputs: []string{"", "42"}, errs: []error{errors.New("undefined: x")}}
	env := newEnv("sum")

	out, err := NewCode(router, runner, zap.NewNop()).Execute(context.Background(), action.Decision{
		Action: action.Coding,
		Coding: &action.CodingParams{Issue: "add 40 and 2"},
	}, env)
	require.NoError(t, err)

	require.Len(t, out.Items, 1)
	assert.Equal(t, knowledge.KindCoding, out.Items[0].Kind)
	assert.Contains(t, out.Items[0].Answer, "42")
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "undefined: x")
	assert.Equal(t, int64(30), env.Budget.Spent())

	entries := env.Trace.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, core.EntryExecError, entries[0].Kind)
}

func TestCodeWithoutSandbox(t *testing.T) {
	t.Parallel()
	_, err := NewCode(&llmtest.Router{}, nil, zap.NewNop()).Execute(context.Background(), action.Decision{
		Action: action.Coding,
		Coding: &action.CodingParams{Issue: "x"},
	}, newEnv("q"))
	assert.ErrorIs(t, err, ErrNoSandbox)
}

func TestAnswerDropsUnknownReferences(t *testing.T) {
	t.Parallel()
	env := newEnv("q")
	env.Store.AddSnippet(knowledge.Snippet{URL: "https://known.example/a", Title: "Known", Description: "desc", Date: "2024-01-01"})

	out, err := NewAnswer(nil, zap.NewNop()).Execute(context.Background(), action.Decision{
		Action: action.Answer,
		Think:  "done",
		Answer: &action.AnswerParams{
			Text: " The answer is 4. ",
			References: []knowledge.Reference{
				{URL: "https://known.example/a"},
				{URL: "https://invented.example/b", ExactQuote: "made up"},
			},
		},
	}, env)
	require.NoError(t, err)
	require.NotNil(t, out.Draft)
	assert.Equal(t, "The answer is 4.", out.Draft.Text)
	require.Len(t, out.Draft.References, 1)
	assert.Equal(t, "desc", out.Draft.References[0].ExactQuote)
	assert.Equal(t, "2024-01-01", out.Draft.References[0].DateTime)
	require.Len(t, out.Draft.RawReferences, 2, "generated list kept for marker mapping")
	assert.Equal(t, "https://invented.example/b", out.Draft.RawReferences[1].URL)
	assert.False(t, out.Draft.Forced)
}

func TestForceAnswerUsesGenerator(t *testing.T) {
	t.Parallel()
	var prompt string
	router := &llmtest.Router{Handlers: map[string]func(llm.Request) (any, error){
		"answer": func(req llm.Request) (any, error) {
			prompt = req.Prompt
			return answerOutput{Think: "t", Answer: "Best effort.", References: []knowledge.Reference{{URL: "https://nowhere.example"}}}, nil
		},
	}}
	env := newEnv("q")
	out := NewAnswer(router, zap.NewNop()).ForceAnswer(context.Background(), env, []string{"list three items"})
	require.NotNil(t, out.Draft)
	assert.True(t, out.Draft.Forced)
	assert.Equal(t, "Best effort.", out.Draft.Text)
	assert.Empty(t, out.Draft.References)
	assert.Contains(t, prompt, "list three items")
	assert.Greater(t, env.Budget.Spent(), int64(0))
}

func TestForceAnswerFallsBack(t *testing.T) {
	t.Parallel()
	router := &llmtest.Router{Handlers: map[string]func(llm.Request) (any, error){
		"answer": func(llm.Request) (any, error) { return nil, errors.New("provider down") },
	}}

	t.Run("empty knowledge", func(t *testing.T) {
		env := newEnv("Who won?")
		out := NewAnswer(router, zap.NewNop()).ForceAnswer(context.Background(), env, nil)
		require.NotNil(t, out.Draft)
		assert.True(t, out.Draft.Forced)
		assert.Contains(t, out.Draft.Text, "No reliable answer was found")
	})

	t.Run("with knowledge", func(t *testing.T) {
		env := newEnv("Who won?")
		env.Store.MarkVisited("https://news.example/final")
		env.Store.MarkRead("https://news.example/final")
		env.Store.Append(knowledge.Item{
			Kind: knowledge.KindURL, Question: "final report", Answer: "Team A won 3-1.",
			References: []knowledge.Reference{{URL: "https://news.example/final", ExactQuote: "Team A won"}},
		})
		out := NewAnswer(router, zap.NewNop()).ForceAnswer(context.Background(), env, nil)
		assert.Contains(t, out.Draft.Text, "Team A won 3-1.")
		require.Len(t, out.Draft.References, 1)
		assert.Equal(t, "https://news.example/final", out.Draft.References[0].URL)
	})
}
