package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tracegraph/genealogy-backend/internal/logger"
)

// TrendingCache shields the trending query (ORDER BY views DESC over every
// roadmap) behind a short-TTL redis entry. It is strictly optional: callers
// treat a nil cache or any redis failure as a miss and fall through to the
// database.
type TrendingCache interface {
	Get(ctx context.Context, limit int) ([]byte, bool)
	Set(ctx context.Context, limit int, payload []byte)
	Close() error
}

type trendingCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewTrendingCache(log *logger.Logger) (TrendingCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	ttl := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("TRENDING_CACHE_TTL_SECONDS")); v != "" {
		if parsed, err := time.ParseDuration(v + "s"); err == nil && parsed > 0 {
			ttl = parsed
		}
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &trendingCache{
		log: log.With("service", "TrendingCache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func trendingKey(limit int) string {
	return fmt.Sprintf("roadmap:trending:%d", limit)
}

func (c *trendingCache) Get(ctx context.Context, limit int) ([]byte, bool) {
	raw, err := c.rdb.Get(ctx, trendingKey(limit)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("Trending cache read failed", "error", err)
		}
		return nil, false
	}
	if !json.Valid(raw) {
		return nil, false
	}
	return raw, true
}

func (c *trendingCache) Set(ctx context.Context, limit int, payload []byte) {
	if err := c.rdb.Set(ctx, trendingKey(limit), payload, c.ttl).Err(); err != nil {
		c.log.Warn("Trending cache write failed", "error", err)
	}
}

func (c *trendingCache) Close() error {
	return c.rdb.Close()
}
