package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisStorage 使用 Redis 保存缓存：
//
//	<prefix>caches        有序集合，成员为缓存名，分值为创建时间（纳秒）
//	<prefix>cache:<name>  哈希，field 为请求 key，value 为 gob 编码的条目
func NewRedisStorage(client *redis.Client, prefix string) Storage {
	return &redisStorage{client: client, prefix: prefix}
}

type redisStorage struct {
	client *redis.Client
	prefix string
}

func (s *redisStorage) namesKey() string {
	return s.prefix + "caches"
}

func (s *redisStorage) cacheKey(name string) string {
	return s.prefix + "cache:" + name
}

func (s *redisStorage) Open(ctx context.Context, name string) (Cache, error) {
	if name == "" {
		return nil, errors.New("cache name required")
	}
	err := s.client.ZAddNX(ctx, s.namesKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: name,
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &redisCache{client: s.client, name: name, key: s.cacheKey(name)}, nil
}

func (s *redisStorage) Has(ctx context.Context, name string) (bool, error) {
	err := s.client.ZScore(ctx, s.namesKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *redisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.cacheKey(name))
		removed = pipe.ZRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (s *redisStorage) Keys(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, s.namesKey(), 0, -1).Result()
}

func (s *redisStorage) Close() error {
	return s.client.Close()
}

type redisCache struct {
	client *redis.Client
	name   string
	key    string
}

func (c *redisCache) Name() string { return c.name }

func (c *redisCache) Match(ctx context.Context, req Request) (*Response, error) {
	data, err := c.client.HGet(ctx, c.key, req.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return rec.response(), nil
}

func (c *redisCache) Put(ctx context.Context, req Request, resp *Response) error {
	data, err := encodeRecord(req, resp)
	if err != nil {
		return err
	}
	return c.client.HSet(ctx, c.key, req.Key(), data).Err()
}

func (c *redisCache) Delete(ctx context.Context, req Request) (bool, error) {
	n, err := c.client.HDel(ctx, c.key, req.Key()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *redisCache) Keys(ctx context.Context) ([]Request, error) {
	fields, err := c.client.HKeys(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(fields)
	result := make([]Request, 0, len(fields))
	for _, field := range fields {
		req, err := parseRequestKey(field)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, nil
}
