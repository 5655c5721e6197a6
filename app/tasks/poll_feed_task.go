package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-intake/app/database"
)

type PollFeedTask struct {
	Task
	Feed    database.Feed
	updater FeedUpdater
}

func NewPollFeedTask(f database.Feed, updater FeedUpdater) *PollFeedTask {
	return &PollFeedTask{
		Task:    NewTask(TaskTypePollFeed, f.ID),
		Feed:    f,
		updater: updater,
	}
}

func (t *PollFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	count, err := t.updater.UpdateFeed(ctx, t.Feed)
	if err != nil {
		return fmt.Errorf("failed to poll feed %s: %w", t.Feed.ID, err)
	}

	slog.Info("Task completed",
		"type", "PollFeed",
		"feed_id", t.Feed.ID,
		"url", t.Feed.URL,
		"items", count,
		"duration", t.GetDuration())

	return nil
}
