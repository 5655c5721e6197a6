package tasks

import (
	"context"

	"github.com/lysyi3m/rss-intake/app/database"
)

// TaskSchedulerInterface is what main needs to drive background polling.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

type DueFeedSource interface {
	GetFeedsDueForUpdate(ctx context.Context) ([]database.Feed, error)
}

type FeedUpdater interface {
	UpdateFeed(ctx context.Context, f database.Feed) (int, error)
}
