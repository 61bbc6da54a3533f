package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/axiestudio/aichatbot-sub000/pkg/common"
)

// Client is the shared-state layer. Redis carries cross-instance state;
// every round trip is bounded by a short timeout and guarded by a breaker
// so an outage degrades visibility, never latency. Stores keep their own
// local fallback and consult Healthy to pick a side.
//
//go:generate mockery --name=Client --dir=. --output=./mocks --filename=client_mock.go --case=underscore --with-expecter
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error

	// Execute runs op under the cache timeout and the breaker. Operations
	// must swallow redis.Nil themselves; only transport failures should
	// surface, or misses would trip the breaker.
	Execute(ctx context.Context, op func(ctx context.Context) error) error

	RedisClient() *redis.Client
	CreateTTLMap(name string, ttl time.Duration) *TTLMap
	GetTTLMap(name string) *TTLMap
	Healthy() bool
	Close() error
}

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	TLS      bool
}

type client struct {
	redisClient *redis.Client
	breaker     *gobreaker.CircuitBreaker
	ttlMaps     sync.Map
	logger      *logrus.Logger
}

// NewClient connects to Redis. A failed ping is logged but not fatal: the
// engine keeps scoring on local state while the breaker shields callers
// from a dead endpoint.
func NewClient(config Config, logger *logrus.Logger) Client {
	options := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	}
	if config.TLS {
		options.TLSConfig = &tls.Config{
			InsecureSkipVerify: true, // #nosec G402
		}
	}
	redisClient := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithFields(logrus.Fields{
			"host":  config.Host,
			"port":  config.Port,
			"error": err.Error(),
		}).Warn("redis unreachable, running on local state only")
	} else {
		logger.WithFields(logrus.Fields{
			"host": config.Host,
			"port": config.Port,
		}).Info("redis connected successfully")
	}

	settings := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("cache breaker state changed")
		},
	}

	return &client{
		redisClient: redisClient,
		breaker:     gobreaker.NewCircuitBreaker(settings),
		logger:      logger,
	}
}

func (c *client) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := c.Execute(ctx, func(ctx context.Context) error {
		res, err := c.redisClient.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		value = res
		return nil
	})
	return value, err
}

func (c *client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return c.Execute(ctx, func(ctx context.Context) error {
		return c.redisClient.Set(ctx, key, value, expiration).Err()
	})
}

func (c *client) Delete(ctx context.Context, key string) error {
	return c.Execute(ctx, func(ctx context.Context) error {
		return c.redisClient.Del(ctx, key).Err()
	})
}

func (c *client) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, common.CacheCallTimeout)
		defer cancel()
		return nil, op(opCtx)
	})
	if err != nil {
		return fmt.Errorf("cache call: %w", err)
	}
	return nil
}

func (c *client) RedisClient() *redis.Client {
	return c.redisClient
}

func (c *client) CreateTTLMap(name string, ttl time.Duration) *TTLMap {
	ttlMap := NewTTLMap(ttl)
	c.ttlMaps.Store(name, ttlMap)
	return ttlMap
}

func (c *client) GetTTLMap(name string) *TTLMap {
	if value, ok := c.ttlMaps.Load(name); ok {
		ttlMap, ok := value.(*TTLMap)
		if !ok {
			return nil
		}
		return ttlMap
	}
	return nil
}

func (c *client) Healthy() bool {
	return c.breaker.State() != gobreaker.StateOpen
}

func (c *client) Close() error {
	return c.redisClient.Close()
}
