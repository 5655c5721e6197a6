package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-intake/app/database"
)

type Patcher interface {
	UpdateFeedHealth(ctx context.Context, feedID string, patch database.HealthPatch) error
}

// Tracker maintains one health record per feed.
type Tracker struct {
	store   database.HealthStore
	patcher Patcher
	now     func() time.Time
}

func NewTracker(store database.HealthStore, patcher Patcher) *Tracker {
	return &Tracker{
		store:   store,
		patcher: patcher,
		now:     time.Now,
	}
}

// Update records outcome o for feedID and returns the stored record.
func (t *Tracker) Update(ctx context.Context, feedID string, o Outcome) (*database.Health, error) {
	now := t.now()

	var wasPermanent bool
	record, err := t.store.ApplyHealth(ctx, feedID, func(prev *database.Health) database.Health {
		wasPermanent = prev != nil && prev.IsPermanentlyInvalid
		return Apply(feedID, prev, o, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update health for feed %s: %w", feedID, err)
	}

	if o.Failed() {
		slog.Info("Feed check failed",
			"feed_id", feedID,
			"category", o.Category,
			"consecutive_failures", record.ConsecutiveFailures,
			"special_handling", record.RequiresSpecialHandling)
	}
	if record.IsPermanentlyInvalid && !wasPermanent {
		slog.Warn("Feed marked permanently invalid", "feed_id", feedID, "category", o.Category)
	}

	return record, nil
}

func (t *Tracker) Get(ctx context.Context, feedID string) (*database.Health, error) {
	return t.store.GetHealth(ctx, feedID)
}

func (t *Tracker) ListSpecialHandling(ctx context.Context) ([]database.Health, error) {
	return t.store.ListSpecialHandling(ctx)
}

func (t *Tracker) ListPermanentlyInvalid(ctx context.Context) ([]database.Health, error) {
	return t.store.ListPermanentlyInvalid(ctx)
}

// ClearPermanentInvalid re-enables scheduled polling after an explicit
// successful revalidation.
func (t *Tracker) ClearPermanentInvalid(ctx context.Context, feedID string) error {
	now := t.now()
	valid := false
	err := t.patcher.UpdateFeedHealth(ctx, feedID, database.HealthPatch{
		CheckedAt:          &now,
		ResetFailures:      true,
		ClearError:         true,
		PermanentlyInvalid: &valid,
	})
	if err != nil {
		return fmt.Errorf("failed to clear permanent invalid flag for feed %s: %w", feedID, err)
	}

	slog.Info("Feed revalidated", "feed_id", feedID)
	return nil
}
