package feed

import (
	"context"
	"log/slog"
	"time"
)

const DefaultPrimeTTL = 5 * time.Minute

type ContentCache interface {
	// TakeFeedData atomically reads and removes the entry for feedURL.
	TakeFeedData(ctx context.Context, feedURL string) (string, bool, error)
	SetFeedData(ctx context.Context, feedURL, content string, ttl time.Duration) error
}

// CachingFetcher lets a successful Validate prime the cache so the first
// Fetch of the same URL (typically the poll right after registration)
// skips the network. Cached content is consumed on read.
type CachingFetcher struct {
	fetcher *Fetcher
	cache   ContentCache
	ttl     time.Duration
}

func NewCachingFetcher(fetcher *Fetcher, cache ContentCache, ttl time.Duration) *CachingFetcher {
	if ttl <= 0 {
		ttl = DefaultPrimeTTL
	}
	return &CachingFetcher{
		fetcher: fetcher,
		cache:   cache,
		ttl:     ttl,
	}
}

func (f *CachingFetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	content, ok, err := f.cache.TakeFeedData(ctx, url)
	if err != nil {
		slog.Warn("Content cache read failed", "url", url, "error", err)
	}
	if ok {
		slog.Debug("Using primed feed content", "url", url, "content_length", len(content))
		return &FetchResult{
			Content:    content,
			StatusCode: 200,
			Headers:    map[string]string{"x-cache": "hit"},
		}, nil
	}

	return f.fetcher.Fetch(ctx, url)
}

func (f *CachingFetcher) Validate(ctx context.Context, url string) ValidationResult {
	result := f.fetcher.Validate(ctx, url)
	if result.Valid {
		if err := f.cache.SetFeedData(ctx, url, result.Result.Content, f.ttl); err != nil {
			slog.Warn("Content cache write failed", "url", url, "error", err)
		}
	}
	return result
}
