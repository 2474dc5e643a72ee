package forecast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArtifact() *Artifact {
	return &Artifact{
		AccountID:      "a",
		Model:          Model{0x01, 0x02, 0xff},
		TrainedThrough: "2024-01-20",
		Points:         20,
		CreatedAt:      time.Date(2024, 1, 21, 0, 5, 0, 0, time.UTC),
	}
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewRedisCache(client, time.Hour)
	ctx := context.Background()

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Set(ctx, testArtifact()))
	assert.True(t, mr.Exists("forecast:model:a"))
	assert.Equal(t, time.Hour, mr.TTL("forecast:model:a"))

	got, err = c.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testArtifact(), got)

	mr.FastForward(2 * time.Hour)
	got, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Set(ctx, testArtifact()))
	require.NoError(t, c.Delete(ctx, "a"))
	assert.False(t, mr.Exists("forecast:model:a"))
}

func TestRedisCacheCorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	require.NoError(t, mr.Set("forecast:model:a", "{not json"))
	_, err := NewRedisCache(client, 0).Get(context.Background(), "a")
	assert.Error(t, err)
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testArtifact()))
	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)

	got.Model[0] = 0x09
	again, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), again.Model[0], "callers get copies")

	now = now.Add(time.Minute)
	got, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}
