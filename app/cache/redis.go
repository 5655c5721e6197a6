package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds fetched feed documents in Redis between validation and the
// first poll.
type Cache struct {
	client *redis.Client
}

type feedData struct {
	Content   string `json:"content"`
	CachedAt  int64  `json:"cached_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func NewCache(ctx context.Context, addr, password string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr)

	return &Cache{client: client}, nil
}

// GenerateFeedKey returns a stable short key for a feed URL
func (c *Cache) GenerateFeedKey(feedURL string) string {
	hash := sha256.Sum256([]byte(feedURL))
	return fmt.Sprintf("feed:%x", hash[:8])
}

func (c *Cache) SetFeedData(ctx context.Context, feedURL, content string, ttl time.Duration) error {
	key := c.GenerateFeedKey(feedURL)
	now := time.Now()

	data, err := json.Marshal(feedData{
		Content:   content,
		CachedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	return nil
}

// TakeFeedData returns and removes the cached content in one GETDEL, so a
// primed entry is served at most once. Absent or malformed entries are a miss.
func (c *Cache) TakeFeedData(ctx context.Context, feedURL string) (string, bool, error) {
	key := c.GenerateFeedKey(feedURL)

	raw, err := c.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to take key %s: %w", key, err)
	}

	var data feedData
	if err := json.Unmarshal([]byte(raw), &data); err != nil || data.Content == "" {
		return "", false, nil
	}

	return data.Content, true, nil
}

// Health reports connectivity for the service health endpoint
func (c *Cache) Health(ctx context.Context) map[string]any {
	health := map[string]any{
		"status": "healthy",
		"type":   "redis",
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	if size, err := c.client.DBSize(ctx).Result(); err == nil {
		health["key_count"] = size
	}

	return health
}

func (c *Cache) Close() error {
	return c.client.Close()
}
