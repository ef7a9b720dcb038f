package redis

import (
	"context"
	"fmt"
	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
	"github.com/kelseyhightower/envconfig"
	"time"
)

type ReleaseLock func() error

type Client struct {
	client         redis.UniversalClient
	lockExpiration time.Duration
	lockRetries    int
	ttl            time.Duration
}

type Config struct {
	LockExpirationSeconds   int     `envconfig:"SEQTAG_REDIS_LOCK_EXPIRATION" default:"120"`
	LockRetries             int     `envconfig:"SEQTAG_REDIS_LOCK_RETRIES" default:"120"`
	Host                    string  `envconfig:"SEQTAG_REDIS_HOST" required:"true"`
	Port                    string  `envconfig:"SEQTAG_REDIS_PORT" default:"6379"`
	DB                      int     `envconfig:"SEQTAG_REDIS_DB" default:"0"`
	EmbeddingTTLSeconds     int     `envconfig:"SEQTAG_REDIS_EMBEDDING_TTL" default:"0"`
	HASentinelPort          string  `envconfig:"SEQTAG_REDIS_HA_SENTINEL_PORT" default:"26379"`
	HASentinelMasterName    string  `envconfig:"SEQTAG_REDIS_HA_MASTER_NAME" default:"mymaster"`
	Password                string  `envconfig:"SEQTAG_REDIS_AUTH_PASSWORD" default:""`
	AuthRequired            bool    `envconfig:"SEQTAG_REDIS_AUTH_REQUIRED" default:"false"`
	HAMode                  bool    `envconfig:"SEQTAG_REDIS_HA_MODE" default:"false"`
	HASentinelSocketTimeout float32 `envconfig:"SEQTAG_REDIS_SOCKET_TIMEOUT" default:"0.5"`
}

func NewClient() (*Client, error) {
	cfg, err := readEnvironment()
	if err != nil {
		return nil, err
	}
	return NewClientFromConfig(cfg), nil
}

func NewClientFromConfig(cfg *Config) *Client {
	var client redis.UniversalClient
	if cfg.HAMode {
		client = CreateFailoverClient(cfg)
	} else {
		client = CreateClient(cfg)
	}
	return Wrap(client, cfg)
}

// Wrap builds a Client around an existing go-redis client.
func Wrap(client redis.UniversalClient, cfg *Config) *Client {
	return &Client{
		client:         client,
		lockExpiration: time.Duration(cfg.LockExpirationSeconds) * time.Second,
		lockRetries:    cfg.LockRetries,
		ttl:            time.Duration(cfg.EmbeddingTTLSeconds) * time.Second,
	}
}

func CreateFailoverClient(cfg *Config) *redis.Client {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.HASentinelPort)
	timeout := time.Duration(float64(cfg.HASentinelSocketTimeout) * float64(time.Second))
	options := redis.FailoverOptions{
		SentinelAddrs: []string{addr},
		ReadTimeout:   timeout,
		WriteTimeout:  timeout,
		MaxRetries:    6,
		DB:            cfg.DB,
		MasterName:    cfg.HASentinelMasterName,
	}
	if cfg.AuthRequired {
		options.Password = cfg.Password
	}
	return redis.NewFailoverClient(&options)
}

func CreateClient(cfg *Config) *redis.Client {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	options := redis.Options{
		Addr:       addr,
		MaxRetries: 6,
		DB:         cfg.DB,
	}
	if cfg.AuthRequired {
		options.Password = cfg.Password
	}
	return redis.NewClient(&options)
}

// MGet returns the values for keys in order, nil for missing keys.
func (client *Client) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	values, err := client.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		switch s := v.(type) {
		case string:
			out[i] = []byte(s)
		case []byte:
			out[i] = s
		}
	}
	return out, nil
}

// MSet writes all entries in one pipeline, applying the configured TTL.
func (client *Client) MSet(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := client.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range entries {
			pipe.Set(ctx, key, value, client.ttl)
		}
		return nil
	})
	return err
}

// Lock obtains a distributed lock on key, retrying linearly until the retry budget runs out.
func (client *Client) Lock(ctx context.Context, key string) (ReleaseLock, error) {
	lockCl := redislock.New(client.client)
	str := redislock.LimitRetry(redislock.LinearBackoff(time.Second), client.lockRetries)
	lockKey := fmt.Sprintf("lock:%s", key)
	lock, err := lockCl.Obtain(ctx, lockKey, client.lockExpiration, &redislock.Options{RetryStrategy: str})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", lockKey, err)
	}
	return func() error {
		return lock.Release(context.Background())
	}, nil
}

func (client *Client) Close() error {
	return client.client.Close()
}

func readEnvironment() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
