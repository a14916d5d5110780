package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/orchestrator"
)

// Publisher wraps Redis Stream publishing with schema validation.
type Publisher struct {
	client   redis.UniversalClient
	registry *SchemaRegistry
}

// PublishOption allows configuring Redis XADD behaviour.
type PublishOption func(*redis.XAddArgs)

// WithMaxLenApprox trims the stream to roughly maxLen entries.
func WithMaxLenApprox(maxLen int64) PublishOption {
	return func(args *redis.XAddArgs) {
		if maxLen > 0 {
			args.MaxLen = maxLen
			args.Approx = true
		}
	}
}

func NewPublisher(client redis.UniversalClient, registry *SchemaRegistry) *Publisher {
	return &Publisher{client: client, registry: registry}
}

// Publish validates the envelope and appends it to stream.
func (p *Publisher) Publish(ctx context.Context, stream string, envelope Envelope, opts ...PublishOption) (id string, err error) {
	defer func() { recordPublish(ctx, stream, envelope.EventType, err) }()

	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if envelope.EventID == "" {
		envelope.EventID = uuid.NewString()
	}
	if envelope.OccurredAt.IsZero() {
		envelope.OccurredAt = time.Now().UTC()
	}
	if err := envelope.ValidateBasic(); err != nil {
		return "", err
	}
	if p.registry != nil {
		if err := p.registry.Validate(envelope.EventType, envelope.PayloadVersion, envelope.Data); err != nil {
			return "", err
		}
	}

	raw, err := envelope.Marshal()
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	for _, opt := range opts {
		opt(args)
	}

	id, err = p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// PublishRaw wraps payload in an envelope before publishing.
func (p *Publisher) PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...PublishOption) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		PayloadVersion: version,
		Data:           data,
	}
	return p.Publish(ctx, stream, env, opts...)
}

// SessionSink publishes one session.completed event per finished session.
type SessionSink struct {
	publisher *Publisher
	stream    string
	maxLen    int64
}

// NewSessionSink registers the built-in schemas and returns a sink bound to
// stream.
func NewSessionSink(client redis.UniversalClient, stream string, maxLen int64) (*SessionSink, error) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return &SessionSink{publisher: NewPublisher(client, reg), stream: stream, maxLen: maxLen}, nil
}

// SessionCompleted publishes res. The event ID is the session ID so
// consumers can dedupe redeliveries.
func (s *SessionSink) SessionCompleted(ctx context.Context, res orchestrator.Result) (string, error) {
	data, err := json.Marshal(NewSessionCompleted(res, time.Now()))
	if err != nil {
		return "", fmt.Errorf("marshal session event: %w", err)
	}
	env := Envelope{
		EventID:        res.SessionID,
		EventType:      EventSessionCompleted,
		PayloadVersion: VersionV1,
		Data:           data,
	}
	return s.publisher.Publish(ctx, s.stream, env, WithMaxLenApprox(s.maxLen))
}
