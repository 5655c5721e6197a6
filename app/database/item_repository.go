package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ItemWriteStatementTimeout = 30 * time.Second
	ItemWriteLockTimeout      = 10 * time.Second
)

const (
	upsertItemByGUID = `
		INSERT INTO feed_items (feed_id, guid, title, author, content, url, published_at, crawled_at, source_metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), $8::jsonb)
		ON CONFLICT (feed_id, guid) DO UPDATE
		SET title = EXCLUDED.title,
		    author = EXCLUDED.author,
		    content = EXCLUDED.content,
		    url = EXCLUDED.url,
		    published_at = EXCLUDED.published_at,
		    source_metadata = EXCLUDED.source_metadata,
		    crawled_at = NOW()`

	upsertItemBySource = `
		INSERT INTO feed_items (feed_id, guid, source_type, source_id, title, author, content, url, published_at, crawled_at, source_metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), $10::jsonb)
		ON CONFLICT (feed_id, source_type, source_id) WHERE source_type IS NOT NULL DO UPDATE
		SET title = EXCLUDED.title,
		    author = EXCLUDED.author,
		    content = EXCLUDED.content,
		    url = EXCLUDED.url,
		    published_at = EXCLUDED.published_at,
		    source_metadata = EXCLUDED.source_metadata,
		    crawled_at = NOW()`
)

// ItemRepository handles database operations for feed items
type ItemRepository struct {
	tx *TxRunner
}

func NewItemRepository(txRunner *TxRunner) *ItemRepository {
	return &ItemRepository{tx: txRunner}
}

// SaveFeedItems upserts items in one transaction. Items carrying a source
// identity are keyed by (feed_id, source_type, source_id), all others by (feed_id, guid).
func (r *ItemRepository) SaveFeedItems(ctx context.Context, feedID string, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	opts := TxOptions{
		StatementTimeout: ItemWriteStatementTimeout,
		LockTimeout:      ItemWriteLockTimeout,
	}

	err := r.tx.Run(ctx, opts, func(ctx context.Context, tx Querier) error {
		for _, item := range items {
			metadata, err := marshalMetadata(item.SourceMetadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata for item %s: %w", item.GUID, err)
			}

			if item.SourceType != "" {
				_, err = tx.ExecContext(ctx, upsertItemBySource,
					feedID, item.GUID, item.SourceType, item.SourceID,
					item.Title, item.Author, item.Content, item.URL, item.PublishedAt, metadata)
			} else {
				_, err = tx.ExecContext(ctx, upsertItemByGUID,
					feedID, item.GUID,
					item.Title, item.Author, item.Content, item.URL, item.PublishedAt, metadata)
			}
			if err != nil {
				return fmt.Errorf("failed to upsert item %s: %w", item.GUID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save feed items: %w", err)
	}

	return nil
}

// GetItems returns the newest items of a feed.
func (r *ItemRepository) GetItems(ctx context.Context, feedID string, limit int) ([]Item, error) {
	var items []Item
	err := r.tx.Read(ctx, func(ctx context.Context, tx Querier) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, feed_id, guid, COALESCE(source_type, ''), COALESCE(source_id, ''),
			       title, author, content, url, published_at, crawled_at, source_metadata
			FROM feed_items
			WHERE feed_id = $1
			ORDER BY published_at DESC
			LIMIT $2
		`, feedID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				item     Item
				metadata []byte
			)
			err := rows.Scan(
				&item.ID, &item.FeedID, &item.GUID, &item.SourceType, &item.SourceID,
				&item.Title, &item.Author, &item.Content, &item.URL,
				&item.PublishedAt, &item.CrawledAt, &metadata,
			)
			if err != nil {
				return fmt.Errorf("failed to scan item row: %w", err)
			}
			if len(metadata) > 0 {
				if err := json.Unmarshal(metadata, &item.SourceMetadata); err != nil {
					return fmt.Errorf("failed to decode metadata for item %s: %w", item.ID, err)
				}
			}
			items = append(items, item)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}

	return items, nil
}

func (r *ItemRepository) GetItemCount(ctx context.Context, feedID string) (int, error) {
	count, err := RunTx(ctx, r.tx, TxOptions{ReadOnly: true, LockTimeout: ReadLockTimeout}, func(ctx context.Context, tx Querier) (int, error) {
		var count int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM feed_items WHERE feed_id = $1", feedID).Scan(&count)
		return count, err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}
	return count, nil
}

func marshalMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
