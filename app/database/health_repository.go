package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const healthColumns = `feed_id, last_check_at, consecutive_failures, last_error_category, last_error_detail,
	is_permanently_invalid, requires_special_handling, special_handler_type, updated_at`

func scanHealth(row rowScanner) (*Health, error) {
	var h Health
	err := row.Scan(
		&h.FeedID, &h.LastCheckAt, &h.ConsecutiveFailures, &h.LastErrorCategory, &h.LastErrorDetail,
		&h.IsPermanentlyInvalid, &h.RequiresSpecialHandling, &h.SpecialHandlerType, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

type HealthRepository struct {
	tx *TxRunner
}

func NewHealthRepository(txRunner *TxRunner) *HealthRepository {
	return &HealthRepository{tx: txRunner}
}

// ApplyHealth computes and stores the next health record in one write
// transaction. apply receives nil when the feed has no record yet, otherwise
// the row locked FOR UPDATE, so concurrent outcomes for a feed serialize.
func (r *HealthRepository) ApplyHealth(ctx context.Context, feedID string, apply func(prev *Health) Health) (*Health, error) {
	stored, err := RunTx(ctx, r.tx, TxOptions{}, func(ctx context.Context, tx Querier) (*Health, error) {
		initial := apply(nil)
		inserted, err := scanHealth(tx.QueryRowContext(ctx, `
			INSERT INTO feed_health (feed_id, last_check_at, consecutive_failures, last_error_category, last_error_detail,
			                         is_permanently_invalid, requires_special_handling, special_handler_type, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (feed_id) DO NOTHING
			RETURNING `+healthColumns,
			feedID, initial.LastCheckAt, initial.ConsecutiveFailures, initial.LastErrorCategory, initial.LastErrorDetail,
			initial.IsPermanentlyInvalid, initial.RequiresSpecialHandling, initial.SpecialHandlerType))
		if err == nil {
			return inserted, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to insert health: %w", err)
		}

		prev, err := scanHealth(tx.QueryRowContext(ctx,
			`SELECT `+healthColumns+` FROM feed_health WHERE feed_id = $1 FOR UPDATE`, feedID))
		if err != nil {
			return nil, fmt.Errorf("failed to lock health: %w", err)
		}

		next := apply(prev)
		updated, err := scanHealth(tx.QueryRowContext(ctx, `
			UPDATE feed_health
			SET last_check_at = $2,
			    consecutive_failures = $3,
			    last_error_category = $4,
			    last_error_detail = $5,
			    is_permanently_invalid = $6,
			    requires_special_handling = $7,
			    special_handler_type = $8,
			    updated_at = NOW()
			WHERE feed_id = $1
			RETURNING `+healthColumns,
			feedID, next.LastCheckAt, next.ConsecutiveFailures, next.LastErrorCategory, next.LastErrorDetail,
			next.IsPermanentlyInvalid, next.RequiresSpecialHandling, next.SpecialHandlerType))
		if err != nil {
			return nil, fmt.Errorf("failed to update health: %w", err)
		}
		return updated, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply feed health: %w", err)
	}

	return stored, nil
}

// GetHealth returns nil when the feed has never been checked
func (r *HealthRepository) GetHealth(ctx context.Context, feedID string) (*Health, error) {
	var result *Health
	err := r.tx.Read(ctx, func(ctx context.Context, tx Querier) error {
		h, err := scanHealth(tx.QueryRowContext(ctx,
			`SELECT `+healthColumns+` FROM feed_health WHERE feed_id = $1`, feedID))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		result = h
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get feed health: %w", err)
	}

	return result, nil
}

func (r *HealthRepository) ListSpecialHandling(ctx context.Context) ([]Health, error) {
	return r.list(ctx, "requires_special_handling = TRUE")
}

func (r *HealthRepository) ListPermanentlyInvalid(ctx context.Context) ([]Health, error) {
	return r.list(ctx, "is_permanently_invalid = TRUE")
}

func (r *HealthRepository) list(ctx context.Context, where string) ([]Health, error) {
	var records []Health
	err := r.tx.Read(ctx, func(ctx context.Context, tx Querier) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+healthColumns+` FROM feed_health WHERE `+where+` ORDER BY updated_at DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			h, err := scanHealth(rows)
			if err != nil {
				return fmt.Errorf("failed to scan health row: %w", err)
			}
			records = append(records, *h)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list feed health: %w", err)
	}

	return records, nil
}
