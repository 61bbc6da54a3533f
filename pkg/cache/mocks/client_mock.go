package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/axiestudio/aichatbot-sub000/pkg/cache"
)

// ClientMock implements cache.Client over an injected redis client,
// usually a redismock instance. Execute runs the operation inline with
// no breaker or timeout so tests stay deterministic; flip Unhealthy to
// simulate an open breaker.
type ClientMock struct {
	rdb       *redis.Client
	ttlMaps   sync.Map
	Unhealthy bool

	// ExecuteErr, when set, is returned by Execute without running the
	// operation. Simulates a tripped breaker or timed-out call.
	ExecuteErr error
}

func NewClientMock(rdb *redis.Client) *ClientMock {
	return &ClientMock{rdb: rdb}
}

func (c *ClientMock) Get(ctx context.Context, key string) (string, error) {
	res, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return res, err
}

func (c *ClientMock) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return c.rdb.Set(ctx, key, value, expiration).Err()
}

func (c *ClientMock) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *ClientMock) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if c.ExecuteErr != nil {
		return c.ExecuteErr
	}
	return op(ctx)
}

func (c *ClientMock) RedisClient() *redis.Client {
	return c.rdb
}

func (c *ClientMock) CreateTTLMap(name string, ttl time.Duration) *cache.TTLMap {
	m := cache.NewTTLMap(ttl)
	c.ttlMaps.Store(name, m)
	return m
}

func (c *ClientMock) GetTTLMap(name string) *cache.TTLMap {
	if value, ok := c.ttlMaps.Load(name); ok {
		if m, ok := value.(*cache.TTLMap); ok {
			return m
		}
	}
	return nil
}

func (c *ClientMock) Healthy() bool {
	return !c.Unhealthy
}

func (c *ClientMock) Close() error {
	return c.rdb.Close()
}
