package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/orchestrator"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

type fakeResearcher struct {
	mu   sync.Mutex
	reqs []orchestrator.Request
}

func (f *fakeResearcher) Run(_ context.Context, req orchestrator.Request) orchestrator.Result {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if req.Observer != nil {
		req.Observer(orchestrator.Event{SessionID: req.ID, Step: 1, Action: action.Search, Think: "look it up"})
		req.Observer(orchestrator.Event{SessionID: req.ID, Step: 2, Action: action.Answer, Think: "enough evidence"})
	}
	return orchestrator.Result{
		SessionID:   req.ID,
		Question:    req.Question,
		Answer:      "Paris is the capital of France.[^1]",
		References:  []knowledge.Reference{{URL: "https://example.com/fr", ExactQuote: "Paris is the capital"}},
		Usage:       budget.Usage{PromptTokens: 300, ReasoningTokens: 40, AcceptedTokens: 50, RejectedTokens: 10},
		VisitedURLs: []string{"https://example.com/fr", "https://example.org/paris"},
		ReadURLs:    []string{"https://example.com/fr"},
		Steps:       2,
		Duration:    time.Second,
	}
}

func (f *fakeResearcher) last() orchestrator.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type recordingSink struct {
	mu       sync.Mutex
	archived []string
	events   []string
}

func (r *recordingSink) SaveSession(_ context.Context, res orchestrator.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, res.SessionID)
	return nil
}

func (r *recordingSink) SessionCompleted(_ context.Context, res orchestrator.Result) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, res.SessionID)
	return "1-0", nil
}

func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *fakeResearcher, *recordingSink) {
	t.Helper()
	research := &fakeResearcher{}
	sink := &recordingSink{}
	cfg.StreamChunkRunes = 8
	s, err := New(cfg, Deps{Researcher: research, Archive: sink, Publisher: sink}, zap.NewNop())
	require.NoError(t, err)
	return s, research, sink
}

func post(t *testing.T, s *Server, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestChatValidation(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t, config.ServerConfig{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty messages", `{"model":"m","messages":[]}`, errNoMessages},
		{"missing messages", `{"model":"m"}`, errNoMessages},
		{"developer last", `{"model":"m","messages":[{"role":"user","content":"hi"},{"role":"developer","content":"be terse"}]}`, errNotFromUser},
		{"blank content", `{"messages":[{"role":"user","content":"   "}]}`, errEmptyPrompt},
		{"negative attempts", `{"messages":[{"role":"user","content":"q"}],"max_attempts":-1}`, "max_attempts cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, s, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, errorBody(t, rec))
		})
	}
}

func TestChatNonStreaming(t *testing.T) {
	t.Parallel()
	s, research, sink := newTestServer(t, config.ServerConfig{})

	rec := post(t, s, `{"model":"deepresearch","messages":[{"role":"user","content":"What is the capital of France?"}],"max_attempts":1,"no_direct_answer":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out ChatCompletion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "chat.completion", out.Object)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "assistant", out.Choices[0].Message.Role)
	assert.Equal(t, "Paris is the capital of France.[^1]", out.Choices[0].Message.Content)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)

	u := out.Usage
	assert.Positive(t, u.TotalTokens)
	assert.Equal(t, u.PromptTokens+u.CompletionTokens, u.TotalTokens)
	d := u.CompletionTokensDetails
	assert.Equal(t, d.ReasoningTokens+d.AcceptedPredictionTokens+d.RejectedPredictionTokens, u.CompletionTokens)
	assert.Equal(t, 2, out.NumURLs)
	assert.Equal(t, []string{"https://example.com/fr"}, out.ReadURLs)

	req := research.last()
	assert.Equal(t, "What is the capital of France?", req.Question)
	assert.True(t, req.NoDirectAnswer)
	require.NotNil(t, req.Budget.MaxBadAttempts)
	assert.Equal(t, 1, *req.Budget.MaxBadAttempts)
	assert.Nil(t, req.Budget.TokenLimit)
	assert.Equal(t, "chatcmpl-"+req.ID, out.ID)

	assert.Equal(t, []string{req.ID}, sink.archived)
	assert.Equal(t, []string{req.ID}, sink.events)
}

func TestChatAcceptsContentParts(t *testing.T) {
	t.Parallel()
	s, research, _ := newTestServer(t, config.ServerConfig{})

	rec := post(t, s, `{"messages":[{"role":"user","content":[{"type":"text","text":"Who wrote"},{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"Dune?"}]}]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Who wrote\nDune?", research.last().Question)
}

func readChunks(t *testing.T, body string) ([]ChatCompletionChunk, []string) {
	t.Helper()
	var chunks []ChatCompletionChunk
	var raw []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), line)
		payload := strings.TrimPrefix(line, "data: ")
		var ch ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(payload), &ch))
		chunks = append(chunks, ch)
		raw = append(raw, payload)
	}
	require.NoError(t, sc.Err())
	return chunks, raw
}

func TestChatStreaming(t *testing.T) {
	t.Parallel()
	s, _, sink := newTestServer(t, config.ServerConfig{})

	rec := post(t, s, `{"messages":[{"role":"user","content":"What is the capital of France?"}],"stream":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	chunks, raw := readChunks(t, rec.Body.String())
	require.GreaterOrEqual(t, len(chunks), 3)

	first := chunks[0]
	assert.Equal(t, "chat.completion.chunk", first.Object)
	assert.Equal(t, "assistant", first.Choices[0].Delta.Role)
	assert.Nil(t, first.Choices[0].FinishReason)
	assert.Contains(t, raw[0], `"finish_reason":null`)
	assert.Contains(t, raw[0], `"logprobs":null`)

	var think, content strings.Builder
	for _, ch := range chunks[1 : len(chunks)-1] {
		d := ch.Choices[0].Delta
		assert.Nil(t, ch.Choices[0].FinishReason)
		if d.Type == "think" {
			think.WriteString(d.Content)
			continue
		}
		assert.LessOrEqual(t, len([]rune(d.Content)), 8)
		content.WriteString(d.Content)
	}
	assert.Equal(t, "<think>look it up\nenough evidence\n</think>\n\n", think.String())
	assert.Equal(t, "Paris is the capital of France.[^1]", content.String())

	last := chunks[len(chunks)-1]
	require.NotNil(t, last.Choices[0].FinishReason)
	assert.Equal(t, "stop", *last.Choices[0].FinishReason)
	assert.Equal(t, Delta{}, last.Choices[0].Delta)
	assert.Contains(t, raw[len(raw)-1], `"delta":{}`)
	require.NotNil(t, last.Usage)
	assert.Equal(t, last.Usage.PromptTokens+last.Usage.CompletionTokens, last.Usage.TotalTokens)
	assert.Equal(t, 2, last.NumURLs)

	for _, ch := range chunks {
		assert.Equal(t, chunks[0].ID, ch.ID)
	}
	assert.Len(t, sink.archived, 1)
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := config.ServerConfig{Secret: "plain-secret", SecretHash: string(hash), JWTSecret: "jwt-key"}
	s, _, _ := newTestServer(t, cfg)

	sign := func(method jwt.SigningMethod, key interface{}, exp time.Time) string {
		tok, err := jwt.NewWithClaims(method, jwt.MapClaims{"sub": "client", "exp": exp.Unix()}).SignedString(key)
		require.NoError(t, err)
		return tok
	}
	valid := sign(jwt.SigningMethodHS256, []byte("jwt-key"), time.Now().Add(time.Hour))
	expired := sign(jwt.SigningMethodHS256, []byte("jwt-key"), time.Now().Add(-time.Hour))
	wrongAlg := sign(jwt.SigningMethodHS512, []byte("jwt-key"), time.Now().Add(time.Hour))
	wrongKey := sign(jwt.SigningMethodHS256, []byte("other"), time.Now().Add(time.Hour))

	body := `{"messages":[{"role":"user","content":"q"}]}`
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic plain-secret", http.StatusUnauthorized},
		{"wrong secret", "Bearer nope", http.StatusUnauthorized},
		{"plain secret", "Bearer plain-secret", http.StatusOK},
		{"hashed secret", "Bearer hashed-secret", http.StatusOK},
		{"jwt", "Bearer " + valid, http.StatusOK},
		{"expired jwt", "Bearer " + expired, http.StatusUnauthorized},
		{"jwt wrong alg", "Bearer " + wrongAlg, http.StatusUnauthorized},
		{"jwt wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := map[string]string{}
			if tt.header != "" {
				h["Authorization"] = tt.header
			}
			rec := post(t, s, body, h)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "Unauthorized", errorBody(t, rec))
			}
		})
	}
}

func TestAuthRunsBeforeValidation(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t, config.ServerConfig{Secret: "s"})
	rec := post(t, s, `{"messages":[]}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestModelsAndHealth(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t, config.ServerConfig{ModelName: "research-model"})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list modelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "research-model", list.Data[0].ID)
	assert.Equal(t, "model", list.Data[0].Object)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestNewRequiresResearcher(t *testing.T) {
	t.Parallel()
	_, err := New(config.ServerConfig{}, Deps{}, nil)
	assert.Error(t, err)
}

func TestSplitRunes(t *testing.T) {
	t.Parallel()
	assert.Nil(t, splitRunes("", 3))
	assert.Equal(t, []string{"abc"}, splitRunes("abc", 0))
	assert.Equal(t, []string{"héll", "o wö", "rld"}, splitRunes("héllo wörld", 4))
}
