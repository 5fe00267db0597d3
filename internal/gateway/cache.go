package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache is an optional redis read-through layer for slow-moving provider
// responses (company overview, SMA, macro series). Cache failures are never
// surfaced: a miss or a redis error just falls through to the provider.
type Cache struct {
	client redis.Cmdable
	prefix string
}

// NewCache connects a cache on an existing redis client.
func NewCache(client redis.Cmdable) *Cache {
	return &Cache{client: client, prefix: "optionrun:"}
}

// NewRedisCache dials redis and returns a cache, or nil when addr is empty.
func NewRedisCache(addr, password string, db int) *Cache {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return NewCache(client)
}

// Get unmarshals the cached value into dst, reporting whether it was found.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Cache entry unmarshal failed")
		return false
	}
	return true
}

// Set stores the value with a TTL. Errors are logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

func cacheKey(kind, target string) string {
	return fmt.Sprintf("%s:%s", kind, target)
}
