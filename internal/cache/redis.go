package cache

import (
	"attribution/internal/store"
	"attribution/internal/types"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	linkPrefix = "link:"
	scanBatch  = 200
)

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func ConnectRedis(url, password string, recordTTL time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Cache{rdb: rdb, ttl: recordTTL}, nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	return data, err
}

func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	return mapError(c.rdb.Set(ctx, key, value, c.ttl).Err())
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Sweep scans every key under prefix and deletes those drop selects.
func (c *Cache) Sweep(ctx context.Context, prefix string, drop func(value []byte) bool) (int, error) {
	deleted := 0
	iter := c.rdb.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		if !drop(data) {
			continue
		}
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, iter.Err()
}

func (c *Cache) GetLink(ctx context.Context, shortCode string) (*types.LinkCache, error) {
	data, err := c.rdb.Get(ctx, linkPrefix+shortCode).Bytes()
	if err != nil {
		return nil, err
	}
	var link types.LinkCache
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("decode cached link: %w", err)
	}
	return &link, nil
}

func (c *Cache) SetLink(ctx context.Context, shortCode string, link *types.LinkCache, expiration time.Duration) error {
	data, err := json.Marshal(link)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, linkPrefix+shortCode, data, expiration).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

// mapError reports maxmemory rejections as store.ErrQuotaExceeded.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "OOM ") {
		return fmt.Errorf("%w: %v", store.ErrQuotaExceeded, err)
	}
	return err
}
