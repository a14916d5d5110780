package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/deepresearch/config"
)

func TestJSONRoundTripAndExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewJSON(client, "search:")
	ctx := context.Background()
	key := c.Key("brave", "golang generics")
	assert.Contains(t, key, "search:")
	assert.NotEqual(t, key, c.Key("serper", "golang generics"))

	var out []string
	hit, err := c.Get(ctx, key, &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, key, []string{"a", "b"}, time.Minute))
	hit, err = c.Get(ctx, key, &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"a", "b"}, out)

	mr.FastForward(2 * time.Minute)
	hit, err = c.Get(ctx, key, &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestConnect(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := config.RedisConfig{Host: mr.Host(), Port: mr.Port(), Timeout: time.Second}
	client, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = Connect(context.Background(), cfg)
	assert.Error(t, err)
}
