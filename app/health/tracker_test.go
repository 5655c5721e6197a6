package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/rss-intake/app/database"
	"github.com/lysyi3m/rss-intake/app/feed"
)

// MockHealthStore keeps records in memory and serializes ApplyHealth the way
// the row lock does in PostgreSQL.
type MockHealthStore struct {
	mu      sync.Mutex
	records map[string]database.Health
	patches []database.HealthPatch
}

func NewMockHealthStore() *MockHealthStore {
	return &MockHealthStore{records: make(map[string]database.Health)}
}

func (m *MockHealthStore) ApplyHealth(ctx context.Context, feedID string, apply func(prev *database.Health) database.Health) (*database.Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next database.Health
	if prev, ok := m.records[feedID]; ok {
		next = apply(&prev)
	} else {
		next = apply(nil)
	}
	m.records[feedID] = next
	return &next, nil
}

func (m *MockHealthStore) GetHealth(ctx context.Context, feedID string) (*database.Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.records[feedID]; ok {
		return &h, nil
	}
	return nil, nil
}

func (m *MockHealthStore) ListSpecialHandling(ctx context.Context) ([]database.Health, error) {
	return m.filter(func(h database.Health) bool { return h.RequiresSpecialHandling }), nil
}

func (m *MockHealthStore) ListPermanentlyInvalid(ctx context.Context) ([]database.Health, error) {
	return m.filter(func(h database.Health) bool { return h.IsPermanentlyInvalid }), nil
}

func (m *MockHealthStore) filter(keep func(database.Health) bool) []database.Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []database.Health
	for _, h := range m.records {
		if keep(h) {
			result = append(result, h)
		}
	}
	return result
}

func (m *MockHealthStore) UpdateFeedHealth(ctx context.Context, feedID string, patch database.HealthPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.patches = append(m.patches, patch)
	h := m.records[feedID]
	h.FeedID = feedID
	if patch.ResetFailures {
		h.ConsecutiveFailures = 0
	}
	if patch.ClearError {
		h.LastErrorCategory = nil
		h.LastErrorDetail = nil
	}
	if patch.PermanentlyInvalid != nil {
		h.IsPermanentlyInvalid = *patch.PermanentlyInvalid
	}
	m.records[feedID] = h
	return nil
}

func newTestTracker() (*Tracker, *MockHealthStore) {
	store := NewMockHealthStore()
	tracker := NewTracker(store, store)
	tracker.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return tracker, store
}

func TestTrackerCountsConsecutiveFailures(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		record, err := tracker.Update(ctx, "feed-1", Failure(feed.NewError(feed.CategoryNetwork, "reset", nil)))
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if record.ConsecutiveFailures != i {
			t.Errorf("Expected %d failures, got %d", i, record.ConsecutiveFailures)
		}
	}

	record, err := tracker.Update(ctx, "feed-1", Success())
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if record.ConsecutiveFailures != 0 {
		t.Errorf("Expected counter reset after success, got %d", record.ConsecutiveFailures)
	}
}

func TestTrackerConcurrentFailures(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()

	const pollers = 20
	var wg sync.WaitGroup
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tracker.Update(ctx, "feed-1", Failure(feed.NewError(feed.CategoryTimeout, "slow", nil))); err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	record, err := tracker.Get(ctx, "feed-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.ConsecutiveFailures != pollers {
		t.Errorf("Expected %d failures, got %d", pollers, record.ConsecutiveFailures)
	}
}

func TestTrackerClearPermanentInvalid(t *testing.T) {
	tracker, store := newTestTracker()
	ctx := context.Background()

	if _, err := tracker.Update(ctx, "feed-1", Failure(feed.NewError(feed.CategoryDNS, "no such host", nil))); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	invalid, err := tracker.ListPermanentlyInvalid(ctx)
	if err != nil {
		t.Fatalf("ListPermanentlyInvalid failed: %v", err)
	}
	if len(invalid) != 1 {
		t.Fatalf("Expected 1 permanently invalid feed, got %d", len(invalid))
	}

	if err := tracker.ClearPermanentInvalid(ctx, "feed-1"); err != nil {
		t.Fatalf("ClearPermanentInvalid failed: %v", err)
	}

	record, _ := tracker.Get(ctx, "feed-1")
	if record.IsPermanentlyInvalid {
		t.Error("Expected permanent flag to be cleared")
	}
	if record.ConsecutiveFailures != 0 || record.LastErrorCategory != nil {
		t.Errorf("Expected failures and error to be cleared, got %+v", record)
	}
	if len(store.patches) != 1 || store.patches[0].CheckedAt == nil {
		t.Errorf("Expected a single patch with a check time, got %+v", store.patches)
	}
}

func TestTrackerListSpecialHandling(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()

	tracker.Update(ctx, "plain", Success())
	tracker.Update(ctx, "adapter", Success().WithHandler("readability"))
	tracker.Update(ctx, "tls", Failure(feed.NewError(feed.CategorySSL, "bad cert", nil)))

	special, err := tracker.ListSpecialHandling(ctx)
	if err != nil {
		t.Fatalf("ListSpecialHandling failed: %v", err)
	}
	if len(special) != 2 {
		t.Errorf("Expected 2 feeds needing special handling, got %d", len(special))
	}
}
