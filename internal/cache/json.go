package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSON stores JSON-encoded values under a key prefix.
type JSON struct {
	client *redis.Client
	prefix string
}

// NewJSON returns a cache writing keys as prefix:<hash>.
func NewJSON(client *redis.Client, prefix string) *JSON {
	return &JSON{client: client, prefix: strings.TrimSuffix(prefix, ":")}
}

// Key hashes parts into a stable cache key.
func (c *JSON) Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}

// Get decodes the value at key into out. It reports false on a miss.
func (c *JSON) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores v at key for ttl.
func (c *JSON) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}
