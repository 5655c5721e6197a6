package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lysyi3m/rss-intake/app/adapters"
	"github.com/lysyi3m/rss-intake/app/database"
	"github.com/lysyi3m/rss-intake/app/feed"
	"github.com/lysyi3m/rss-intake/app/health"
)

type MockFeedStore struct {
	mu     sync.Mutex
	feeds  map[string]*database.Feed
	nextID int
	resets []string
}

func NewMockFeedStore() *MockFeedStore {
	return &MockFeedStore{feeds: make(map[string]*database.Feed)}
}

func (m *MockFeedStore) AddFeed(ctx context.Context, userID, url string, descriptor *feed.Descriptor) (*database.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	f := &database.Feed{ID: fmt.Sprintf("feed-%d", m.nextID), UserID: userID, URL: url, IsActive: true, CreatedAt: time.Now()}
	if descriptor != nil {
		f.Title = descriptor.Title
	}
	m.feeds[f.ID] = f
	copied := *f
	return &copied, nil
}

func (m *MockFeedStore) GetFeed(ctx context.Context, userID, url string) (*database.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.feeds {
		if f.UserID == userID && f.URL == url {
			copied := *f
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockFeedStore) GetFeedByID(ctx context.Context, feedID string) (*database.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.feeds[feedID]; ok {
		copied := *f
		return &copied, nil
	}
	return nil, nil
}

func (m *MockFeedStore) GetUserFeeds(ctx context.Context, userID string) ([]database.FeedStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []database.FeedStatus
	for _, f := range m.feeds {
		if f.UserID == userID {
			result = append(result, database.FeedStatus{Feed: *f})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockFeedStore) GetFeedsDueForUpdate(ctx context.Context) ([]database.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []database.Feed
	for _, f := range m.feeds {
		if f.IsActive {
			result = append(result, *f)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockFeedStore) UpdateFeedMetadata(ctx context.Context, feedID string, descriptor *feed.Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.feeds[feedID]
	if !ok {
		return database.ErrNotFound
	}
	if descriptor != nil && descriptor.Title != "" {
		f.Title = descriptor.Title
	}
	now := time.Now()
	f.LastFetchedAt = &now
	return nil
}

func (m *MockFeedStore) UpdateFeedConfig(ctx context.Context, feedID string, update database.FeedConfigUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.feeds[feedID]
	if !ok {
		return database.ErrNotFound
	}
	if update.IsActive != nil {
		f.IsActive = *update.IsActive
	}
	if update.FetchIntervalMinutes != nil {
		interval := *update.FetchIntervalMinutes
		f.FetchIntervalMinutes = &interval
	}
	if update.Title != nil {
		f.Title = *update.Title
	}
	return nil
}

func (m *MockFeedStore) UpdateFeedHealth(ctx context.Context, feedID string, patch database.HealthPatch) error {
	return nil
}

func (m *MockFeedStore) ResetLastFetchedAt(ctx context.Context, feedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.feeds[feedID]
	if !ok {
		return database.ErrNotFound
	}
	f.LastFetchedAt = nil
	m.resets = append(m.resets, feedID)
	return nil
}

func (m *MockFeedStore) DeleteFeed(ctx context.Context, userID, feedID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.feeds[feedID]
	if !ok || f.UserID != userID {
		return false, nil
	}
	delete(m.feeds, feedID)
	return true, nil
}

func (m *MockFeedStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feeds)
}

// MockItemStore keys rows the same way the feed_items unique constraints do.
type MockItemStore struct {
	mu      sync.Mutex
	items   map[string]database.Item
	saveErr error
}

func NewMockItemStore() *MockItemStore {
	return &MockItemStore{items: make(map[string]database.Item)}
}

func (m *MockItemStore) SaveFeedItems(ctx context.Context, feedID string, items []database.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}

	for _, item := range items {
		key := feedID + "|guid|" + item.GUID
		if item.SourceType != "" {
			key = feedID + "|source|" + item.SourceType + "|" + item.SourceID
		}
		item.FeedID = feedID
		m.items[key] = item
	}
	return nil
}

func (m *MockItemStore) GetItems(ctx context.Context, feedID string, limit int) ([]database.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []database.Item
	for _, item := range m.items {
		if item.FeedID == feedID {
			result = append(result, item)
		}
	}
	return result, nil
}

func (m *MockItemStore) GetItemCount(ctx context.Context, feedID string) (int, error) {
	items, _ := m.GetItems(ctx, feedID, 0)
	return len(items), nil
}

// MockTracker applies the real transition to in-memory records.
type MockTracker struct {
	mu      sync.Mutex
	records map[string]database.Health
	history map[string][]database.Health
}

func NewMockTracker() *MockTracker {
	return &MockTracker{
		records: make(map[string]database.Health),
		history: make(map[string][]database.Health),
	}
}

func (m *MockTracker) Update(ctx context.Context, feedID string, o health.Outcome) (*database.Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *database.Health
	if h, ok := m.records[feedID]; ok {
		prev = &h
	}
	next := health.Apply(feedID, prev, o, time.Now())
	m.records[feedID] = next
	m.history[feedID] = append(m.history[feedID], next)
	return &next, nil
}

func (m *MockTracker) Get(ctx context.Context, feedID string) (*database.Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.records[feedID]; ok {
		return &h, nil
	}
	return nil, nil
}

func (m *MockTracker) ListSpecialHandling(ctx context.Context) ([]database.Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []database.Health
	for _, h := range m.records {
		if h.RequiresSpecialHandling {
			result = append(result, h)
		}
	}
	return result, nil
}

func (m *MockTracker) ListPermanentlyInvalid(ctx context.Context) ([]database.Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []database.Health
	for _, h := range m.records {
		if h.IsPermanentlyInvalid {
			result = append(result, h)
		}
	}
	return result, nil
}

func (m *MockTracker) ClearPermanentInvalid(ctx context.Context, feedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.records[feedID]
	h.FeedID = feedID
	h.IsPermanentlyInvalid = false
	h.ConsecutiveFailures = 0
	h.LastErrorCategory = nil
	h.LastErrorDetail = nil
	m.records[feedID] = h
	return nil
}

type MockAdapter struct {
	name       string
	descriptor *feed.Descriptor
	err        error
	calls      int
}

func (m *MockAdapter) Name() string { return m.name }

func (m *MockAdapter) FetchAndParse(ctx context.Context, url string) (*feed.Descriptor, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.descriptor, nil
}

// MockRegistry matches adapters by URL substring.
type MockRegistry struct {
	markers map[string]adapters.Adapter
}

func (m *MockRegistry) Lookup(url string) (adapters.Adapter, bool) {
	for marker, adapter := range m.markers {
		if strings.Contains(url, marker) {
			return adapter, true
		}
	}
	return nil, false
}
