package database

import (
	"context"

	"github.com/lysyi3m/rss-intake/app/feed"
)

type FeedStore interface {
	AddFeed(ctx context.Context, userID, url string, descriptor *feed.Descriptor) (*Feed, error)
	GetFeed(ctx context.Context, userID, url string) (*Feed, error)
	GetFeedByID(ctx context.Context, feedID string) (*Feed, error)
	GetUserFeeds(ctx context.Context, userID string) ([]FeedStatus, error)
	GetFeedsDueForUpdate(ctx context.Context) ([]Feed, error)
	UpdateFeedMetadata(ctx context.Context, feedID string, descriptor *feed.Descriptor) error
	UpdateFeedConfig(ctx context.Context, feedID string, update FeedConfigUpdate) error
	UpdateFeedHealth(ctx context.Context, feedID string, patch HealthPatch) error
	ResetLastFetchedAt(ctx context.Context, feedID string) error
	DeleteFeed(ctx context.Context, userID, feedID string) (bool, error)
}

type ItemStore interface {
	SaveFeedItems(ctx context.Context, feedID string, items []Item) error
	GetItems(ctx context.Context, feedID string, limit int) ([]Item, error)
	GetItemCount(ctx context.Context, feedID string) (int, error)
}

type HealthStore interface {
	ApplyHealth(ctx context.Context, feedID string, apply func(prev *Health) Health) (*Health, error)
	GetHealth(ctx context.Context, feedID string) (*Health, error)
	ListSpecialHandling(ctx context.Context) ([]Health, error)
	ListPermanentlyInvalid(ctx context.Context) ([]Health, error)
}

var (
	_ FeedStore   = (*FeedRepository)(nil)
	_ ItemStore   = (*ItemRepository)(nil)
	_ HealthStore = (*HealthRepository)(nil)
)
