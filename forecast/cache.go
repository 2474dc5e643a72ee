package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores one artifact per account. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, accountID string) (*Artifact, error)
	Set(ctx context.Context, artifact *Artifact) error
	Delete(ctx context.Context, accountID string) error
}

type memoryEntry struct {
	artifact Artifact
	expires  time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryCache keeps artifacts for ttl; zero keeps them until deleted.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, accountID string) (*Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[accountID]
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, accountID)
		return nil, nil
	}
	a := e.artifact
	a.Model = append(Model(nil), e.artifact.Model...)
	return &a, nil
}

func (c *MemoryCache) Set(_ context.Context, artifact *Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := memoryEntry{artifact: *artifact}
	e.artifact.Model = append(Model(nil), artifact.Model...)
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.entries[artifact.AccountID] = e
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, accountID)
	return nil
}

// RedisCache stores artifacts as JSON under forecast:model:<account id>.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(accountID string) string {
	return "forecast:model:" + accountID
}

func (c *RedisCache) Get(ctx context.Context, accountID string) (*Artifact, error) {
	data, err := c.client.Get(ctx, redisKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not get forecast artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("could not decode forecast artifact: %w", err)
	}
	return &a, nil
}

func (c *RedisCache) Set(ctx context.Context, artifact *Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, redisKey(artifact.AccountID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("could not set forecast artifact: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, accountID string) error {
	if err := c.client.Del(ctx, redisKey(accountID)).Err(); err != nil {
		return fmt.Errorf("could not delete forecast artifact: %w", err)
	}
	return nil
}
