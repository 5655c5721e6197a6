package ingest

import (
	"context"
	"errors"

	"github.com/lysyi3m/rss-intake/app/adapters"
	"github.com/lysyi3m/rss-intake/app/database"
	"github.com/lysyi3m/rss-intake/app/feed"
	"github.com/lysyi3m/rss-intake/app/health"
)

var ErrFeedNotFound = errors.New("feed not found")

type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*feed.FetchResult, error)
	Validate(ctx context.Context, url string) feed.ValidationResult
}

type FeedParser interface {
	Parse(content string) (*feed.Descriptor, error)
	Validate(content string) feed.ParseValidation
}

type AdapterRegistry interface {
	Lookup(url string) (adapters.Adapter, bool)
}

type HealthTracker interface {
	Update(ctx context.Context, feedID string, o health.Outcome) (*database.Health, error)
	Get(ctx context.Context, feedID string) (*database.Health, error)
	ListSpecialHandling(ctx context.Context) ([]database.Health, error)
	ListPermanentlyInvalid(ctx context.Context) ([]database.Health, error)
	ClearPermanentInvalid(ctx context.Context, feedID string) error
}

// PollResult is the non-failing outcome of a single-feed poll.
type PollResult struct {
	Success bool       `json:"success"`
	Items   int        `json:"items"`
	Error   *PollError `json:"error,omitempty"`
}

type PollError struct {
	Category feed.Category `json:"category"`
	Message  string        `json:"message"`
}

// BatchReport summarizes one UpdateFeeds pass.
type BatchReport struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Items     int               `json:"items"`
	Errors    map[string]string `json:"errors,omitempty"`
}
