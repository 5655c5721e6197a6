package tasks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/rss-intake/app/database"
	"github.com/lysyi3m/rss-intake/app/feed"
)

type MockDueFeedSource struct {
	feeds []database.Feed
	err   error
}

func (m *MockDueFeedSource) GetFeedsDueForUpdate(ctx context.Context) ([]database.Feed, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.feeds, nil
}

type MockUpdater struct {
	mu     sync.Mutex
	calls  map[string]int
	errs   []error // returned in order, then nil
	panics bool
}

func NewMockUpdater(errs ...error) *MockUpdater {
	return &MockUpdater{calls: make(map[string]int), errs: errs}
}

func (m *MockUpdater) UpdateFeed(ctx context.Context, f database.Feed) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[f.ID]++
	if m.panics {
		panic("boom")
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return 0, err
	}
	return 1, nil
}

func (m *MockUpdater) Calls(feedID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[feedID]
}

func dueFeeds(ids ...string) []database.Feed {
	feeds := make([]database.Feed, 0, len(ids))
	for _, id := range ids {
		feeds = append(feeds, database.Feed{ID: id, URL: "https://example.com/" + id, IsActive: true})
	}
	return feeds
}

func TestNewScheduler(t *testing.T) {
	scheduler := NewScheduler(&MockDueFeedSource{}, NewMockUpdater(), time.Second, 0)

	if scheduler.workerCount != 1 {
		t.Errorf("Expected worker count to default to 1, got %d", scheduler.workerCount)
	}
	if cap(scheduler.taskQueue) != DefaultQueueSize {
		t.Errorf("Expected queue size %d, got %d", DefaultQueueSize, cap(scheduler.taskQueue))
	}
}

func TestEnqueueDueFeedsSkipsQueuedFeeds(t *testing.T) {
	source := &MockDueFeedSource{feeds: dueFeeds("a", "b")}
	scheduler := NewScheduler(source, NewMockUpdater(), time.Hour, 1)

	if queued := scheduler.EnqueueDueFeeds(); queued != 2 {
		t.Fatalf("Expected 2 tasks queued, got %d", queued)
	}
	if queued := scheduler.EnqueueDueFeeds(); queued != 0 {
		t.Errorf("Expected queued feeds to be skipped, got %d", queued)
	}

	task := <-scheduler.taskQueue
	scheduler.executeTask(0, task)

	if queued := scheduler.EnqueueDueFeeds(); queued != 1 {
		t.Errorf("Expected finished feed to be queued again, got %d", queued)
	}
}

func TestEnqueueDueFeedsSourceError(t *testing.T) {
	scheduler := NewScheduler(&MockDueFeedSource{err: errors.New("db down")}, NewMockUpdater(), time.Hour, 1)

	if queued := scheduler.EnqueueDueFeeds(); queued != 0 {
		t.Errorf("Expected nothing queued, got %d", queued)
	}
}

func TestEnqueueTaskQueueFull(t *testing.T) {
	source := &MockDueFeedSource{feeds: dueFeeds("a", "b")}
	scheduler := NewScheduler(source, NewMockUpdater(), time.Hour, 1)
	scheduler.taskQueue = make(chan TaskInterface, 1)

	if queued := scheduler.EnqueueDueFeeds(); queued != 1 {
		t.Fatalf("Expected 1 task queued, got %d", queued)
	}

	err := scheduler.EnqueueTask(NewPollFeedTask(dueFeeds("c")[0], NewMockUpdater()))
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	// The rejected feed must not stay claimed
	if !scheduler.claim("b") {
		t.Error("Expected rejected feed to be released")
	}
}

func TestExecuteTaskRetries(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		expectRetry bool
	}{
		{
			name:        "transient error is retried once",
			err:         feed.NewError(feed.CategoryNetwork, "connection reset", nil),
			expectRetry: true,
		},
		{
			name:        "permanent error is not retried",
			err:         feed.NewError(feed.CategoryHTTPStatus, "HTTP error: 404 Not Found", nil),
			expectRetry: false,
		},
		{
			name:        "storage error is not retried as a feed failure",
			err:         fmt.Errorf("failed to save items: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")}),
			expectRetry: false,
		},
		{
			name:        "auth error is not retried",
			err:         feed.NewError(feed.CategoryAuth, "HTTP error: 403 Forbidden", nil),
			expectRetry: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updater := NewMockUpdater(tt.err, tt.err)
			scheduler := NewScheduler(&MockDueFeedSource{}, updater, time.Hour, 1)
			scheduler.retryDelay = func(int) time.Duration { return 0 }
			defer scheduler.cancel()

			f := dueFeeds("a")[0]
			scheduler.claim(f.ID)
			scheduler.executeTask(0, NewPollFeedTask(f, updater))

			select {
			case task := <-scheduler.taskQueue:
				if !tt.expectRetry {
					t.Fatal("Expected no retry")
				}
				if task.GetRetryCount() != 1 {
					t.Errorf("Expected retry count 1, got %d", task.GetRetryCount())
				}

				scheduler.executeTask(0, task)
				select {
				case <-scheduler.taskQueue:
					t.Error("Expected a single retry only")
				case <-time.After(50 * time.Millisecond):
				}
			case <-time.After(200 * time.Millisecond):
				if tt.expectRetry {
					t.Fatal("Expected task to be re-enqueued")
				}
			}

			if !scheduler.claim(f.ID) {
				t.Error("Expected feed to be released after the task finished")
			}
		})
	}
}

func TestExecuteTaskRecoversPanic(t *testing.T) {
	updater := NewMockUpdater()
	updater.panics = true
	scheduler := NewScheduler(&MockDueFeedSource{}, updater, time.Hour, 1)

	f := dueFeeds("a")[0]
	scheduler.claim(f.ID)
	scheduler.executeTask(0, NewPollFeedTask(f, updater))

	if updater.Calls(f.ID) != 1 {
		t.Errorf("Expected 1 call, got %d", updater.Calls(f.ID))
	}
	if !scheduler.claim(f.ID) {
		t.Error("Expected feed to be released after panic")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	source := &MockDueFeedSource{feeds: dueFeeds("a", "b", "c")}
	updater := NewMockUpdater()
	scheduler := NewScheduler(source, updater, time.Hour, 2)

	scheduler.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if updater.Calls("a") == 1 && updater.Calls("b") == 1 && updater.Calls("c") == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	scheduler.Stop()

	for _, id := range []string{"a", "b", "c"} {
		if updater.Calls(id) != 1 {
			t.Errorf("Expected feed %s to be polled once, got %d", id, updater.Calls(id))
		}
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		retry    int
		expected time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, maxRetryDelay},
	}

	for _, tt := range tests {
		if got := retryDelay(tt.retry); got != tt.expected {
			t.Errorf("retryDelay(%d) = %v, expected %v", tt.retry, got, tt.expected)
		}
	}
}
