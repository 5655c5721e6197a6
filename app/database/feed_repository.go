package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lysyi3m/rss-intake/app/feed"
)

const feedColumns = `f.id, f.user_id, f.url, f.is_active, f.fetch_interval_minutes, f.last_fetched_at,
	f.title, f.description, f.site_url, f.created_at, f.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner, extra ...any) (*Feed, error) {
	var f Feed
	dest := []any{
		&f.ID, &f.UserID, &f.URL, &f.IsActive, &f.FetchIntervalMinutes, &f.LastFetchedAt,
		&f.Title, &f.Description, &f.SiteURL, &f.CreatedAt, &f.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &f, nil
}

// FeedRepository handles feed_configs rows and the health patches tied to them
type FeedRepository struct {
	tx *TxRunner
}

func NewFeedRepository(txRunner *TxRunner) *FeedRepository {
	return &FeedRepository{tx: txRunner}
}

// AddFeed registers url for userID. Re-adding an existing pair reactivates it.
func (r *FeedRepository) AddFeed(ctx context.Context, userID, url string, descriptor *feed.Descriptor) (*Feed, error) {
	var title, description, siteURL string
	if descriptor != nil {
		title, description, siteURL = descriptor.Title, descriptor.Description, descriptor.Link
	}

	result, err := RunTx(ctx, r.tx, TxOptions{}, func(ctx context.Context, tx Querier) (*Feed, error) {
		return scanFeed(tx.QueryRowContext(ctx, `
			INSERT INTO feed_configs AS f (user_id, url, title, description, site_url)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, url) DO UPDATE
			SET is_active = TRUE, updated_at = NOW()
			RETURNING `+feedColumns,
			userID, url, title, description, siteURL))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add feed: %w", err)
	}

	return result, nil
}

func (r *FeedRepository) GetFeed(ctx context.Context, userID, url string) (*Feed, error) {
	return r.getOne(ctx, "f.user_id = $1 AND f.url = $2", userID, url)
}

func (r *FeedRepository) GetFeedByID(ctx context.Context, feedID string) (*Feed, error) {
	return r.getOne(ctx, "f.id = $1", feedID)
}

func (r *FeedRepository) getOne(ctx context.Context, where string, args ...any) (*Feed, error) {
	var result *Feed
	err := r.tx.Read(ctx, func(ctx context.Context, tx Querier) error {
		f, err := scanFeed(tx.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feed_configs f WHERE `+where, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}

	return result, nil
}

// GetUserFeeds returns every subscription of userID together with its health.
func (r *FeedRepository) GetUserFeeds(ctx context.Context, userID string) ([]FeedStatus, error) {
	var feeds []FeedStatus
	err := r.tx.Read(ctx, func(ctx context.Context, tx Querier) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+feedColumns+`,
			       h.feed_id, h.last_check_at, COALESCE(h.consecutive_failures, 0),
			       h.last_error_category, h.last_error_detail,
			       COALESCE(h.is_permanently_invalid, FALSE), COALESCE(h.requires_special_handling, FALSE),
			       h.special_handler_type, h.updated_at
			FROM feed_configs f
			LEFT JOIN feed_health h ON h.feed_id = f.id
			WHERE f.user_id = $1
			ORDER BY f.created_at
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				health          Health
				healthFeedID    *string
				healthUpdatedAt *time.Time
			)
			f, err := scanFeed(rows,
				&healthFeedID, &health.LastCheckAt, &health.ConsecutiveFailures,
				&health.LastErrorCategory, &health.LastErrorDetail,
				&health.IsPermanentlyInvalid, &health.RequiresSpecialHandling,
				&health.SpecialHandlerType, &healthUpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to scan feed row: %w", err)
			}

			status := FeedStatus{Feed: *f}
			if healthFeedID != nil {
				health.FeedID = *healthFeedID
				if healthUpdatedAt != nil {
					health.UpdatedAt = *healthUpdatedAt
				}
				status.Health = &health
			}
			feeds = append(feeds, status)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user feeds: %w", err)
	}

	return feeds, nil
}

// GetFeedsDueForUpdate returns active feeds whose interval has elapsed,
// excluding feeds marked permanently invalid.
func (r *FeedRepository) GetFeedsDueForUpdate(ctx context.Context) ([]Feed, error) {
	var feeds []Feed
	err := r.tx.Read(ctx, func(ctx context.Context, tx Querier) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+feedColumns+`
			FROM feed_configs f
			LEFT JOIN feed_health h ON h.feed_id = f.id
			WHERE f.is_active = TRUE
			  AND COALESCE(h.is_permanently_invalid, FALSE) = FALSE
			  AND (f.last_fetched_at IS NULL
			       OR f.last_fetched_at + make_interval(mins => COALESCE(f.fetch_interval_minutes, 60)) <= NOW())
			ORDER BY f.last_fetched_at NULLS FIRST
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			f, err := scanFeed(rows)
			if err != nil {
				return fmt.Errorf("failed to scan feed row: %w", err)
			}
			feeds = append(feeds, *f)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get feeds due for update: %w", err)
	}

	return feeds, nil
}

// UpdateFeedMetadata records a successful fetch and resets the failure counter.
func (r *FeedRepository) UpdateFeedMetadata(ctx context.Context, feedID string, descriptor *feed.Descriptor) error {
	var title, description, siteURL string
	if descriptor != nil {
		title, description, siteURL = descriptor.Title, descriptor.Description, descriptor.Link
	}

	err := r.tx.Write(ctx, func(ctx context.Context, tx Querier) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE feed_configs
			SET title = COALESCE(NULLIF($2, ''), title),
			    description = COALESCE(NULLIF($3, ''), description),
			    site_url = COALESCE(NULLIF($4, ''), site_url),
			    last_fetched_at = NOW(),
			    updated_at = NOW()
			WHERE id = $1
		`, feedID, title, description, siteURL)
		if err != nil {
			return err
		}

		return r.UpdateFeedHealth(ctx, feedID, HealthPatch{ResetFailures: true})
	})
	if err != nil {
		return fmt.Errorf("failed to update feed metadata: %w", err)
	}

	return nil
}

func (r *FeedRepository) UpdateFeedConfig(ctx context.Context, feedID string, update FeedConfigUpdate) error {
	err := r.tx.Write(ctx, func(ctx context.Context, tx Querier) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE feed_configs
			SET is_active = COALESCE($2, is_active),
			    fetch_interval_minutes = COALESCE($3, fetch_interval_minutes),
			    title = COALESCE($4, title),
			    updated_at = NOW()
			WHERE id = $1
		`, feedID, update.IsActive, update.FetchIntervalMinutes, update.Title)
		if err != nil {
			return err
		}
		return requireRow(result)
	})
	if err != nil {
		return fmt.Errorf("failed to update feed config: %w", err)
	}

	return nil
}

func (r *FeedRepository) SetFeedActive(ctx context.Context, feedID string, active bool) error {
	return r.UpdateFeedConfig(ctx, feedID, FeedConfigUpdate{IsActive: &active})
}

// UpdateFeedHealth applies a partial update to the health row, creating it if absent.
func (r *FeedRepository) UpdateFeedHealth(ctx context.Context, feedID string, patch HealthPatch) error {
	err := r.tx.Write(ctx, func(ctx context.Context, tx Querier) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_health (feed_id, last_check_at, consecutive_failures, is_permanently_invalid, updated_at)
			VALUES ($1, $2, 0, COALESCE($3, FALSE), NOW())
			ON CONFLICT (feed_id) DO UPDATE
			SET last_check_at = COALESCE(EXCLUDED.last_check_at, feed_health.last_check_at),
			    consecutive_failures = CASE WHEN $4 THEN 0 ELSE feed_health.consecutive_failures END,
			    last_error_category = CASE WHEN $5 THEN NULL ELSE feed_health.last_error_category END,
			    last_error_detail = CASE WHEN $5 THEN NULL ELSE feed_health.last_error_detail END,
			    is_permanently_invalid = COALESCE($3, feed_health.is_permanently_invalid),
			    updated_at = NOW()
		`, feedID, patch.CheckedAt, patch.PermanentlyInvalid, patch.ResetFailures, patch.ClearError)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update feed health: %w", err)
	}

	return nil
}

// ResetLastFetchedAt makes the feed due on the next scheduler pass.
func (r *FeedRepository) ResetLastFetchedAt(ctx context.Context, feedID string) error {
	err := r.tx.Write(ctx, func(ctx context.Context, tx Querier) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE feed_configs SET last_fetched_at = NULL, updated_at = NOW() WHERE id = $1
		`, feedID)
		if err != nil {
			return err
		}
		return requireRow(result)
	})
	if err != nil {
		return fmt.Errorf("failed to reset last fetched time: %w", err)
	}

	return nil
}

// DeleteFeed removes the subscription; items and health cascade.
func (r *FeedRepository) DeleteFeed(ctx context.Context, userID, feedID string) (bool, error) {
	deleted, err := RunTx(ctx, r.tx, TxOptions{}, func(ctx context.Context, tx Querier) (bool, error) {
		result, err := tx.ExecContext(ctx, `DELETE FROM feed_configs WHERE id = $1 AND user_id = $2`, feedID, userID)
		if err != nil {
			return false, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return false, err
		}
		return affected > 0, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete feed: %w", err)
	}

	return deleted, nil
}

func (r *FeedRepository) GetFeedCount(ctx context.Context) (int, error) {
	count, err := RunTx(ctx, r.tx, TxOptions{ReadOnly: true, LockTimeout: ReadLockTimeout}, func(ctx context.Context, tx Querier) (int, error) {
		var count int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM feed_configs").Scan(&count)
		return count, err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
