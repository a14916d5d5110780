package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SessionReader tails the session stream as one member of a consumer group.
// Entries that do not carry a valid session.completed envelope are acked and
// skipped so they are not redelivered forever.
type SessionReader struct {
	client   redis.UniversalClient
	registry *SchemaRegistry
	stream   string
	group    string
	member   string
	logger   *zap.Logger
}

// ReadOption tunes a single XREADGROUP call.
type ReadOption func(*redis.XReadGroupArgs)

// WithBlock waits up to d for new sessions instead of returning at once.
func WithBlock(d time.Duration) ReadOption {
	return func(args *redis.XReadGroupArgs) {
		if d > 0 {
			args.Block = d
		}
	}
}

// WithCount caps how many sessions one read returns.
func WithCount(n int64) ReadOption {
	return func(args *redis.XReadGroupArgs) {
		if n > 0 {
			args.Count = n
		}
	}
}

// Delivery is one decoded session event and the stream id to ack it with.
type Delivery struct {
	ID       string
	Envelope Envelope
	Session  SessionCompleted
}

// NewSessionReader returns a reader for stream. registry may be nil to skip
// payload validation.
func NewSessionReader(client redis.UniversalClient, registry *SchemaRegistry, stream, group, member string, logger *zap.Logger) (*SessionReader, error) {
	if stream == "" || group == "" || member == "" {
		return nil, errors.New("session reader needs a stream, a group and a member name")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionReader{
		client:   client,
		registry: registry,
		stream:   stream,
		group:    group,
		member:   member,
		logger:   logger.With(zap.String("stream", stream), zap.String("group", group)),
	}, nil
}

// Join creates the group when missing. A new group starts at the first entry
// so it sees sessions archived before it existed.
func (r *SessionReader) Join(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil || redis.HasErrorPrefix(err, "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("create group %s on %s: %w", r.group, r.stream, err)
}

// Next returns sessions not yet delivered to this group. An empty result
// with a nil error means nothing arrived before the block timeout.
func (r *SessionReader) Next(ctx context.Context, opts ...ReadOption) ([]Delivery, error) {
	args := &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.member,
		Streams:  []string{r.stream, ">"},
	}
	for _, opt := range opts {
		opt(args)
	}
	res, err := r.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.stream, err)
	}

	var out []Delivery
	for _, st := range res {
		for _, msg := range st.Messages {
			d, err := r.decode(msg)
			if err != nil {
				r.logger.Warn("skipping stream entry", zap.String("id", msg.ID), zap.Error(err))
				if ackErr := r.Done(ctx, msg.ID); ackErr != nil {
					return out, ackErr
				}
				continue
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// Done acks handled entries.
func (r *SessionReader) Done(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, r.stream, r.group, ids...).Err(); err != nil {
		return fmt.Errorf("ack %d entries on %s: %w", len(ids), r.stream, err)
	}
	return nil
}

func (r *SessionReader) decode(msg redis.XMessage) (Delivery, error) {
	var raw []byte
	switch v := msg.Values["envelope"].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case nil:
		return Delivery{}, errors.New("entry has no envelope field")
	default:
		return Delivery{}, fmt.Errorf("envelope field has type %T", v)
	}

	env, err := UnmarshalEnvelope(raw)
	if err != nil {
		return Delivery{}, err
	}
	if env.EventType != EventSessionCompleted {
		return Delivery{}, fmt.Errorf("unexpected event type %q", env.EventType)
	}
	if r.registry != nil {
		if err := r.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return Delivery{}, err
		}
	}
	var ev SessionCompleted
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return Delivery{}, fmt.Errorf("decode session event: %w", err)
	}
	return Delivery{ID: msg.ID, Envelope: env, Session: ev}, nil
}
