package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/action"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/orchestrator"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func sampleResult(id string) orchestrator.Result {
	return orchestrator.Result{
		SessionID: id,
		Question:  "What is the capital of France?",
		Answer:    "Paris[^1]\n\n[^1]: \"Paris is the capital\" [France](https://example.com/fr)",
		References: []knowledge.Reference{
			{URL: "https://example.com/fr", ExactQuote: "Paris is the capital", Title: "France"},
		},
		Usage: budget.Usage{PromptTokens: 120, AcceptedTokens: 30, ReasoningTokens: 10},
		Trace: []core.Entry{
			{Step: 1, Kind: core.EntryStep, Decision: &core.DecisionRef{Action: action.Search, Summary: "search 1 query"}, Outcome: "1 queries, 1 new urls, 0 failed"},
		},
		VisitedURLs: []string{"https://example.com/fr"},
		Steps:       2,
		Duration:    1500 * time.Millisecond,
	}
}

func TestSessionCompletedPayload(t *testing.T) {
	t.Parallel()
	ev := NewSessionCompleted(sampleResult("s-1"), time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	assert.Equal(t, int64(120), ev.Usage.PromptTokens)
	assert.Equal(t, int64(40), ev.Usage.CompletionTokens)
	assert.Equal(t, int64(160), ev.Usage.TotalTokens)
	assert.Equal(t, int64(1500), ev.DurationMS)
	require.Len(t, ev.Trace, 1)
	assert.Contains(t, ev.Trace[0], "step 1 step: search 1 query")
	assert.NotNil(t, ev.ReadURLs)
}

func TestRegistryRejectsInvalidPayload(t *testing.T) {
	t.Parallel()
	reg := NewSchemaRegistry()
	require.NoError(t, RegisterBaseSchemas(reg))

	good, err := json.Marshal(NewSessionCompleted(sampleResult("s-1"), time.Now()))
	require.NoError(t, err)
	assert.NoError(t, reg.Validate(EventSessionCompleted, VersionV1, good))

	assert.Error(t, reg.Validate(EventSessionCompleted, VersionV1, []byte(`{"session_id":"s-1"}`)))
	assert.Error(t, reg.Validate(EventSessionCompleted, VersionV1, []byte(`{"session_id":"s-1","question":"q","answer":"","usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0},"steps":0,"forced":false,"finished_at":"2025-01-01T00:00:00Z"}`)))
	assert.Error(t, reg.Validate("session.started", VersionV1, good))
}

func TestSessionSinkPublishesAndReaderReads(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	sink, err := NewSessionSink(client, "deepresearch:sessions", 100)
	require.NoError(t, err)
	id, err := sink.SessionCompleted(ctx, sampleResult("s-42"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	reg := NewSchemaRegistry()
	require.NoError(t, RegisterBaseSchemas(reg))
	reader, err := NewSessionReader(client, reg, "deepresearch:sessions", "audit", "worker-1", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, reader.Join(ctx))
	require.NoError(t, reader.Join(ctx), "joining twice is a no-op")

	batch, err := reader.Next(ctx, WithCount(10))
	require.NoError(t, err)
	require.Len(t, batch, 1)

	env := batch[0].Envelope
	assert.Equal(t, "s-42", env.EventID)
	assert.Equal(t, EventSessionCompleted, env.EventType)
	assert.Equal(t, VersionV1, env.PayloadVersion)

	ev := batch[0].Session
	assert.Equal(t, "What is the capital of France?", ev.Question)
	require.Len(t, ev.References, 1)
	assert.Equal(t, "https://example.com/fr", ev.References[0].URL)

	require.NoError(t, reader.Done(ctx, batch[0].ID))
	pending, err := client.XPending(ctx, "deepresearch:sessions", "audit").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)

	batch, err = reader.Next(ctx, WithCount(10))
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestSessionReaderSkipsMalformedEntries(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()
	const stream = "deepresearch:sessions"

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"other": "x"}}).Err())
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"envelope": "not json"}}).Err())
	sink, err := NewSessionSink(client, stream, 0)
	require.NoError(t, err)
	_, err = sink.SessionCompleted(ctx, sampleResult("s-7"))
	require.NoError(t, err)

	reader, err := NewSessionReader(client, nil, stream, "audit", "worker-1", nil)
	require.NoError(t, err)
	require.NoError(t, reader.Join(ctx))
	batch, err := reader.Next(ctx, WithCount(10))
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "s-7", batch[0].Session.SessionID)

	pending, err := client.XPending(ctx, stream, "audit").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count, "malformed entries are acked")
}

func TestNewSessionReaderRequiresNames(t *testing.T) {
	_, err := NewSessionReader(newRedis(t), nil, "s", "", "m", nil)
	assert.Error(t, err)
}

func TestPublishTrimsStream(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	sink, err := NewSessionSink(client, "sessions", 3)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := sink.SessionCompleted(ctx, sampleResult(fmt.Sprintf("s-%d", i)))
		require.NoError(t, err)
	}
	n, err := client.XLen(ctx, "sessions").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(3))
}

func TestPublishRejectsBeforeWriting(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	sink, err := NewSessionSink(client, "sessions", 0)
	require.NoError(t, err)
	res := sampleResult("s-1")
	res.Answer = ""
	_, err = sink.SessionCompleted(ctx, res)
	require.Error(t, err)

	n, err := client.XLen(ctx, "sessions").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUnmarshalEnvelopeRequiresFields(t *testing.T) {
	t.Parallel()
	_, err := UnmarshalEnvelope([]byte(`{"event_type":"session.completed","payload_version":"v1","data":{}}`))
	assert.Error(t, err)
	_, err = UnmarshalEnvelope([]byte(`not json`))
	assert.Error(t, err)

	env, err := UnmarshalEnvelope([]byte(`{"event_id":"e","event_type":"session.completed","payload_version":"v1","data":{"a":1}}`))
	require.NoError(t, err)
	assert.False(t, env.OccurredAt.IsZero())
}
