package api

import (
	"context"

	"github.com/lysyi3m/rss-intake/app/database"
	"github.com/lysyi3m/rss-intake/app/ingest"
)

// IngestService is the caller-facing surface of the ingestion pipeline.
type IngestService interface {
	AddFeed(ctx context.Context, userID, url string) (*database.Feed, error)
	GetUserFeeds(ctx context.Context, userID string) ([]database.FeedStatus, error)
	DeleteFeed(ctx context.Context, userID, feedID string) error
	UpdateFeedConfig(ctx context.Context, userID, feedID string, update database.FeedConfigUpdate) (*database.Feed, error)
	UpdateFeeds(ctx context.Context) (*ingest.BatchReport, error)
	PollFeed(ctx context.Context, feedID string) ingest.PollResult
	Revalidate(ctx context.Context, feedID string) (*database.Health, error)
	GetFeedHealth(ctx context.Context, feedID string) (*database.Health, error)
	ListSpecialHandling(ctx context.Context) ([]database.Health, error)
	ListPermanentlyInvalid(ctx context.Context) ([]database.Health, error)
}

var _ IngestService = (*ingest.Orchestrator)(nil)

type ItemReader interface {
	GetItems(ctx context.Context, feedID string, limit int) ([]database.Item, error)
	GetItemCount(ctx context.Context, feedID string) (int, error)
}

type FeedCounter interface {
	GetFeedCount(ctx context.Context) (int, error)
}

type CacheStatus interface {
	Health(ctx context.Context) map[string]any
}

type Handler struct {
	service  IngestService
	items    ItemReader
	feeds    FeedCounter
	cache    CacheStatus
	adapters int
	version  string
}

type addFeedRequest struct {
	URL string `json:"url" binding:"required"`
}

type updateFeedRequest struct {
	IsActive             *bool   `json:"is_active"`
	FetchIntervalMinutes *int    `json:"fetch_interval_minutes"`
	Title                *string `json:"title"`
}
