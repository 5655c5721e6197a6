package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var healthColumnNames = []string{
	"feed_id", "last_check_at", "consecutive_failures", "last_error_category", "last_error_detail",
	"is_permanently_invalid", "requires_special_handling", "special_handler_type", "updated_at",
}

func TestSaveFeedItemsUsesSingleTransaction(t *testing.T) {
	runner, mock, _ := newMockRunner(t)
	repo := NewItemRepository(runner)

	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	items := []Item{
		{GUID: "a", Title: "A", PublishedAt: published},
		{GUID: "b", Title: "B", PublishedAt: published, SourceType: "article", SourceID: "42",
			SourceMetadata: map[string]any{"author_id": "7"}},
	}

	expectTxStart(mock, "30000", "10000")
	mock.ExpectExec(`ON CONFLICT \(feed_id, guid\)`).
		WithArgs("feed-1", "a", "A", "", "", "", published, "{}").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`ON CONFLICT \(feed_id, source_type, source_id\)`).
		WithArgs("feed-1", "b", "article", "42", "B", "", "", "", published, `{"author_id":"7"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.SaveFeedItems(context.Background(), "feed-1", items); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestSaveFeedItemsEmptyIsNoop(t *testing.T) {
	runner, mock, _ := newMockRunner(t)
	repo := NewItemRepository(runner)

	if err := repo.SaveFeedItems(context.Background(), "feed-1", nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestApplyHealthInsertsInitialRecord(t *testing.T) {
	runner, mock, _ := newMockRunner(t)
	repo := NewHealthRepository(runner)

	now := time.Now()
	category := "TIMEOUT"

	expectTxStart(mock, "30000", "15000")
	mock.ExpectQuery("INSERT INTO feed_health").
		WillReturnRows(sqlmock.NewRows(healthColumnNames).
			AddRow("feed-1", now, 1, category, "timed out", false, false, nil, now))
	mock.ExpectCommit()

	var seen []*Health
	health, err := repo.ApplyHealth(context.Background(), "feed-1", func(prev *Health) Health {
		seen = append(seen, prev)
		return Health{FeedID: "feed-1", LastCheckAt: &now, ConsecutiveFailures: 1, LastErrorCategory: &category}
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(seen) != 1 || seen[0] != nil {
		t.Errorf("Expected apply to be called once with nil, got %v", seen)
	}
	if health.ConsecutiveFailures != 1 {
		t.Errorf("Expected 1 failure, got %d", health.ConsecutiveFailures)
	}
	if health.SpecialHandlerType != nil {
		t.Errorf("Expected nil handler type, got %v", *health.SpecialHandlerType)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestApplyHealthUpdatesLockedRecord(t *testing.T) {
	runner, mock, _ := newMockRunner(t)
	repo := NewHealthRepository(runner)

	now := time.Now()

	expectTxStart(mock, "30000", "15000")
	mock.ExpectQuery("INSERT INTO feed_health").
		WillReturnRows(sqlmock.NewRows(healthColumnNames))
	mock.ExpectQuery("FROM feed_health WHERE feed_id = \\$1 FOR UPDATE").
		WithArgs("feed-1").
		WillReturnRows(sqlmock.NewRows(healthColumnNames).
			AddRow("feed-1", now, 2, "NETWORK_ERROR", "reset", false, false, nil, now))
	mock.ExpectQuery("UPDATE feed_health").
		WillReturnRows(sqlmock.NewRows(healthColumnNames).
			AddRow("feed-1", now, 3, "NETWORK_ERROR", "reset", false, false, nil, now))
	mock.ExpectCommit()

	var prevFailures []int
	health, err := repo.ApplyHealth(context.Background(), "feed-1", func(prev *Health) Health {
		if prev == nil {
			return Health{FeedID: "feed-1", ConsecutiveFailures: 1}
		}
		prevFailures = append(prevFailures, prev.ConsecutiveFailures)
		return Health{FeedID: "feed-1", ConsecutiveFailures: prev.ConsecutiveFailures + 1}
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(prevFailures) != 1 || prevFailures[0] != 2 {
		t.Errorf("Expected apply to see the locked record with 2 failures, got %v", prevFailures)
	}
	if health.ConsecutiveFailures != 3 {
		t.Errorf("Expected 3 failures, got %d", health.ConsecutiveFailures)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGetFeedReturnsNilWhenMissing(t *testing.T) {
	runner, mock, _ := newMockRunner(t)
	repo := NewFeedRepository(runner)

	expectTxStart(mock, "30000", "10000")
	mock.ExpectQuery("FROM feed_configs f WHERE f.user_id = \\$1 AND f.url = \\$2").
		WithArgs("user-1", "https://example.com/feed").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	feed, err := repo.GetFeed(context.Background(), "user-1", "https://example.com/feed")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if feed != nil {
		t.Errorf("Expected nil feed, got %+v", feed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGetFeedsDueForUpdateExcludesPermanentlyInvalid(t *testing.T) {
	runner, mock, _ := newMockRunner(t)
	repo := NewFeedRepository(runner)

	now := time.Now()
	columns := []string{"id", "user_id", "url", "is_active", "fetch_interval_minutes", "last_fetched_at",
		"title", "description", "site_url", "created_at", "updated_at"}

	expectTxStart(mock, "30000", "10000")
	mock.ExpectQuery(`COALESCE\(h.is_permanently_invalid, FALSE\) = FALSE`).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("feed-1", "user-1", "https://example.com/feed", true, nil, nil, "Example", "", "", now, now))
	mock.ExpectCommit()

	feeds, err := repo.GetFeedsDueForUpdate(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(feeds) != 1 {
		t.Fatalf("Expected 1 feed, got %d", len(feeds))
	}
	if feeds[0].FetchIntervalMinutes != nil || feeds[0].LastFetchedAt != nil {
		t.Errorf("Expected nil interval and last fetch, got %+v", feeds[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestUpdateFeedMetadataResetsFailuresInSameTransaction(t *testing.T) {
	runner, mock, _ := newMockRunner(t)
	repo := NewFeedRepository(runner)

	expectTxStart(mock, "30000", "15000")
	mock.ExpectExec("UPDATE feed_configs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO feed_health").
		WithArgs("feed-1", nil, nil, true, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.UpdateFeedMetadata(context.Background(), "feed-1", nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
