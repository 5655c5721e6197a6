package ingest

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	nurl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/lysyi3m/rss-intake/app/adapters"
	"github.com/lysyi3m/rss-intake/app/database"
	"github.com/lysyi3m/rss-intake/app/feed"
	"github.com/lysyi3m/rss-intake/app/health"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 5

// Orchestrator sequences fetch, parse, persist and health update for feeds.
type Orchestrator struct {
	feeds       database.FeedStore
	items       database.ItemStore
	tracker     HealthTracker
	fetcher     FeedFetcher
	parser      FeedParser
	adapters    AdapterRegistry
	concurrency int
	now         func() time.Time
}

func NewOrchestrator(
	feeds database.FeedStore,
	items database.ItemStore,
	tracker HealthTracker,
	fetcher FeedFetcher,
	parser FeedParser,
	registry AdapterRegistry,
	concurrency int,
) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		feeds:       feeds,
		items:       items,
		tracker:     tracker,
		fetcher:     fetcher,
		parser:      parser,
		adapters:    registry,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// AddFeed validates url and registers it for userID. Nothing is stored when
// validation fails. The first update runs immediately after registration.
// Re-adding a subscription the user already has returns it, reactivated
// if it was inactive.
func (o *Orchestrator) AddFeed(ctx context.Context, userID, url string) (*database.Feed, error) {
	url = strings.TrimSpace(url)
	if err := validateURL(url); err != nil {
		return nil, err
	}

	existing, err := o.feeds.GetFeed(ctx, userID, url)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return o.reactivate(ctx, existing)
	}

	descriptor, err := o.validate(ctx, url)
	if err != nil {
		slog.Info("Feed validation failed", "user", userID, "url", url, "error", err)
		return nil, err
	}

	f, err := o.feeds.AddFeed(ctx, userID, url, descriptor)
	if err != nil {
		return nil, err
	}

	slog.Info("Feed added", "user", userID, "feed_id", f.ID, "url", url, "title", descriptor.Title)

	if _, err := o.UpdateFeed(ctx, *f); err != nil {
		slog.Warn("Initial feed update failed", "feed_id", f.ID, "error", err)
	}

	return f, nil
}

func (o *Orchestrator) reactivate(ctx context.Context, f *database.Feed) (*database.Feed, error) {
	if f.IsActive {
		return f, nil
	}

	active := true
	if err := o.feeds.UpdateFeedConfig(ctx, f.ID, database.FeedConfigUpdate{IsActive: &active}); err != nil {
		return nil, err
	}
	slog.Info("Feed reactivated", "user", f.UserID, "feed_id", f.ID, "url", f.URL)

	f.IsActive = true
	return f, nil
}

func (o *Orchestrator) validate(ctx context.Context, url string) (*feed.Descriptor, error) {
	if adapter, ok := o.adapters.Lookup(url); ok {
		return adapter.FetchAndParse(ctx, url)
	}

	fetched := o.fetcher.Validate(ctx, url)
	if !fetched.Valid {
		return nil, fetched.Err
	}

	parsed := o.parser.Validate(fetched.Result.Content)
	if !parsed.Valid {
		return nil, parsed.Err
	}

	return parsed.Descriptor, nil
}

// UpdateFeed runs the pipeline for one feed and returns the number of items stored.
func (o *Orchestrator) UpdateFeed(ctx context.Context, f database.Feed) (int, error) {
	if adapter, ok := o.adapters.Lookup(f.URL); ok {
		return o.updateWithAdapter(ctx, f, adapter)
	}

	result, err := o.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		o.recordFailure(ctx, f.ID, err, "")
		return 0, fmt.Errorf("failed to fetch feed %s: %w", f.URL, err)
	}

	parsed := o.parser.Validate(result.Content)
	if !parsed.Valid {
		o.recordFailure(ctx, f.ID, parsed.Err, "")
		return 0, fmt.Errorf("failed to parse feed %s: %w", f.URL, parsed.Err)
	}

	count, err := o.store(ctx, f, parsed.Descriptor)
	if err != nil {
		o.recordFailure(ctx, f.ID, err, "")
		return 0, err
	}

	o.recordSuccess(ctx, f.ID, "")
	return count, nil
}

func (o *Orchestrator) updateWithAdapter(ctx context.Context, f database.Feed, adapter adapters.Adapter) (int, error) {
	descriptor, err := adapter.FetchAndParse(ctx, f.URL)
	if err != nil {
		o.recordFailure(ctx, f.ID, err, adapter.Name())
		return 0, fmt.Errorf("adapter %s failed for feed %s: %w", adapter.Name(), f.URL, err)
	}

	count, err := o.store(ctx, f, descriptor)
	if err != nil {
		o.recordFailure(ctx, f.ID, err, adapter.Name())
		return 0, err
	}

	o.recordSuccess(ctx, f.ID, adapter.Name())
	return count, nil
}

func (o *Orchestrator) store(ctx context.Context, f database.Feed, descriptor *feed.Descriptor) (int, error) {
	ingestedAt := o.now()

	items := make([]database.Item, 0, len(descriptor.Items))
	for _, item := range descriptor.Items {
		guid := cmp.Or(item.GUID, item.SourceID)
		if guid == "" {
			slog.Debug("Skipping item without identity", "feed_id", f.ID, "title", item.Title)
			continue
		}

		items = append(items, database.Item{
			FeedID:         f.ID,
			GUID:           guid,
			SourceType:     item.SourceType,
			SourceID:       item.SourceID,
			Title:          item.Title,
			Author:         item.Author,
			Content:        cmp.Or(item.Content, item.Description),
			URL:            item.Link,
			PublishedAt:    feed.PublishedTime(item.PublishedAt, ingestedAt),
			SourceMetadata: item.SourceMetadata,
		})
	}

	if err := o.items.SaveFeedItems(ctx, f.ID, items); err != nil {
		return 0, fmt.Errorf("failed to save items for feed %s: %w", f.ID, err)
	}

	if err := o.feeds.UpdateFeedMetadata(ctx, f.ID, descriptor); err != nil {
		return 0, fmt.Errorf("failed to update metadata for feed %s: %w", f.ID, err)
	}

	slog.Debug("Feed items stored", "feed_id", f.ID, "items", len(items))
	return len(items), nil
}

func (o *Orchestrator) recordSuccess(ctx context.Context, feedID, handler string) {
	outcome := health.Success()
	if handler != "" {
		outcome = outcome.WithHandler(handler)
	}
	if _, err := o.tracker.Update(ctx, feedID, outcome); err != nil {
		slog.Error("Failed to record feed health", "feed_id", feedID, "error", err)
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, feedID string, cause error, handler string) {
	outcome := health.Failure(cause)
	if handler != "" {
		outcome = outcome.WithHandler(handler)
	}
	if _, err := o.tracker.Update(ctx, feedID, outcome); err != nil {
		slog.Error("Failed to record feed health", "feed_id", feedID, "error", err)
	}
}

// UpdateFeeds updates every due feed. Failures are logged per feed and
// never stop the batch.
func (o *Orchestrator) UpdateFeeds(ctx context.Context) (*BatchReport, error) {
	due, err := o.feeds.GetFeedsDueForUpdate(ctx)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{Total: len(due), Errors: make(map[string]string)}
	if len(due) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)

	for _, f := range due {
		g.Go(func() error {
			count, err := o.updateIsolated(ctx, f)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors[f.ID] = err.Error()
				slog.Error("Feed update failed", "feed_id", f.ID, "url", f.URL, "error", err)
				return nil
			}
			report.Succeeded++
			report.Items += count
			return nil
		})
	}
	g.Wait()

	slog.Info("Feed batch completed",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"items", report.Items)

	return report, nil
}

func (o *Orchestrator) updateIsolated(ctx context.Context, f database.Feed) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while updating feed %s: %v", f.ID, r)
		}
	}()
	return o.UpdateFeed(ctx, f)
}

// PollFeed updates a single feed and reports the outcome instead of failing.
func (o *Orchestrator) PollFeed(ctx context.Context, feedID string) PollResult {
	f, err := o.feeds.GetFeedByID(ctx, feedID)
	if err != nil {
		return failedPoll(err)
	}
	if f == nil {
		return PollResult{Error: &PollError{Category: feed.CategoryValidation, Message: ErrFeedNotFound.Error()}}
	}

	count, err := o.UpdateFeed(ctx, *f)
	if err != nil {
		return failedPoll(err)
	}

	return PollResult{Success: true, Items: count}
}

func failedPoll(err error) PollResult {
	fe := feed.AsError(err)
	return PollResult{Error: &PollError{Category: fe.Category, Message: err.Error()}}
}

// Revalidate fetches and parses a feed on request. On success a permanent
// invalid mark is cleared, the check is recorded and the feed becomes due
// immediately.
func (o *Orchestrator) Revalidate(ctx context.Context, feedID string) (*database.Health, error) {
	f, err := o.feeds.GetFeedByID(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrFeedNotFound
	}

	handler := ""
	if adapter, ok := o.adapters.Lookup(f.URL); ok {
		handler = adapter.Name()
	}

	if _, err := o.validate(ctx, f.URL); err != nil {
		o.recordFailure(ctx, f.ID, err, handler)
		return nil, fmt.Errorf("revalidation failed for feed %s: %w", f.URL, err)
	}

	if err := o.tracker.ClearPermanentInvalid(ctx, f.ID); err != nil {
		return nil, err
	}
	if err := o.feeds.ResetLastFetchedAt(ctx, f.ID); err != nil {
		return nil, err
	}

	// A feed that now passes the generic pipeline no longer needs special handling
	outcome := health.Success().WithoutSpecialHandling()
	if handler != "" {
		outcome = health.Success().WithHandler(handler)
	}
	return o.tracker.Update(ctx, f.ID, outcome)
}

func (o *Orchestrator) GetUserFeeds(ctx context.Context, userID string) ([]database.FeedStatus, error) {
	return o.feeds.GetUserFeeds(ctx, userID)
}

// DeleteFeed removes a subscription owned by userID.
func (o *Orchestrator) DeleteFeed(ctx context.Context, userID, feedID string) error {
	deleted, err := o.feeds.DeleteFeed(ctx, userID, feedID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrFeedNotFound
	}

	slog.Info("Feed deleted", "user", userID, "feed_id", feedID)
	return nil
}

// UpdateFeedConfig changes activity, interval or title of a feed owned by userID.
func (o *Orchestrator) UpdateFeedConfig(ctx context.Context, userID, feedID string, update database.FeedConfigUpdate) (*database.Feed, error) {
	f, err := o.feeds.GetFeedByID(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if f == nil || f.UserID != userID {
		return nil, ErrFeedNotFound
	}

	if update.FetchIntervalMinutes != nil && *update.FetchIntervalMinutes <= 0 {
		return nil, feed.NewError(feed.CategoryValidation, "fetch interval must be positive", nil)
	}

	if err := o.feeds.UpdateFeedConfig(ctx, feedID, update); err != nil {
		return nil, err
	}

	return o.feeds.GetFeedByID(ctx, feedID)
}

func (o *Orchestrator) GetFeedHealth(ctx context.Context, feedID string) (*database.Health, error) {
	return o.tracker.Get(ctx, feedID)
}

func (o *Orchestrator) ListSpecialHandling(ctx context.Context) ([]database.Health, error) {
	return o.tracker.ListSpecialHandling(ctx)
}

func (o *Orchestrator) ListPermanentlyInvalid(ctx context.Context) ([]database.Health, error) {
	return o.tracker.ListPermanentlyInvalid(ctx)
}

func validateURL(url string) error {
	if url == "" {
		return feed.NewError(feed.CategoryValidation, "feed URL is empty", nil)
	}

	parsed, err := nurl.Parse(url)
	if err != nil {
		return feed.NewError(feed.CategoryValidation, "feed URL is malformed", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return feed.NewError(feed.CategoryValidation, "feed URL must use http or https", nil)
	}
	if parsed.Host == "" {
		return feed.NewError(feed.CategoryValidation, "feed URL has no host", nil)
	}

	return nil
}
