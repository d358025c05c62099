package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "remindbot/pkg/logx"
)

const defaultRedisPrefix = "remindbot:"

type redisSet struct {
	view
	rdb *redis.Client
	key string
}

type redisCounter struct {
	view
	rdb *redis.Client
	key string
}

func openRedis(cfg Config, log logx.Logger) (Stores, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return Stores{}, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return Stores{}, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return Stores{}, fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Debug("redis storage ready", logx.String("addr", opts.Addr), logx.Int("db", opts.DB))
	return newRedisStores(rdb, cfg.KeyPrefix), nil
}

func newRedisStores(rdb *redis.Client, prefix string) Stores {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	h := newSharedHandle(2, rdb.Close)
	return Stores{
		Subscribers: &redisSet{view: view{h: h}, rdb: rdb, key: prefix + "subscribers"},
		Repeats:     &redisCounter{view: view{h: h}, rdb: rdb, key: prefix + "repeats"},
	}
}

func (s *redisSet) Add(ctx context.Context, id string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !validID(id) {
		return ErrInvalidID
	}
	return s.rdb.SAdd(ctx, s.key, id).Err()
}

func (s *redisSet) Remove(ctx context.Context, id string) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.rdb.SRem(ctx, s.key, id).Err()
}

func (s *redisSet) Members(ctx context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.rdb.SMembers(ctx, s.key).Result()
}

func (c *redisCounter) Put(ctx context.Context, id string, n int) error {
	if c.isClosed() {
		return ErrClosed
	}
	if !validID(id) {
		return ErrInvalidID
	}
	return c.rdb.HSet(ctx, c.key, id, n).Err()
}

func (c *redisCounter) Get(ctx context.Context, id string) (int, bool, error) {
	if c.isClosed() {
		return 0, false, ErrClosed
	}
	v, err := c.rdb.HGet(ctx, c.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("repeat count for %s: %w", id, err)
	}
	return n, true, nil
}
