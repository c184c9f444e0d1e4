package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore 生产部署的协作方实现：会话服务把凭证写入
// session:{user}:{broker} 的 hash，symbol 服务把 token 写入
// symbols:{broker}:{exchange}:{symbol}。本包只读。
type RedisStore struct {
	rdb     *redis.Client
	timeout time.Duration
}

// RedisConfig redis 连接参数。
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout"`
}

func NewRedisStore(cfg RedisConfig) *RedisStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &RedisStore{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		timeout: cfg.Timeout,
	}
}

func (s *RedisStore) Credential(ctx context.Context, userID, broker string) (Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	key := fmt.Sprintf("session:%s:%s", userID, broker)
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Credential{}, fmt.Errorf("redis credential lookup: %w", err)
	}
	if len(vals) == 0 {
		return Credential{}, fmt.Errorf("%w: user=%s broker=%s", ErrCredentialNotFound, userID, broker)
	}
	return Credential{
		APIKey:      vals["api_key"],
		AccessToken: vals["access_token"],
		FeedToken:   vals["feed_token"],
	}, nil
}

func (s *RedisStore) Token(ctx context.Context, broker, symbol, exchange string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	key := fmt.Sprintf("symbols:%s:%s:%s", broker, exchange, symbol)
	token, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s %s:%s", ErrTokenNotFound, broker, exchange, symbol)
	}
	if err != nil {
		return "", fmt.Errorf("redis token lookup: %w", err)
	}
	return token, nil
}

// Close 释放连接。
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
