package database

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Feed is a user's subscription to a feed URL
type Feed struct {
	ID                   string
	UserID               string
	URL                  string
	IsActive             bool
	FetchIntervalMinutes *int
	LastFetchedAt        *time.Time
	Title                string
	Description          string
	SiteURL              string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FeedStatus is a feed with its health record, if one exists yet.
type FeedStatus struct {
	Feed
	Health *Health
}

// FeedConfigUpdate carries optional changes; nil fields are left as-is.
type FeedConfigUpdate struct {
	IsActive             *bool
	FetchIntervalMinutes *int
	Title                *string
}

type Item struct {
	ID             string
	FeedID         string
	GUID           string
	SourceType     string
	SourceID       string
	Title          string
	Author         string
	Content        string
	URL            string
	PublishedAt    time.Time
	CrawledAt      time.Time
	SourceMetadata map[string]any
}

// Health is the per-feed reliability record.
type Health struct {
	FeedID                  string
	LastCheckAt             *time.Time
	ConsecutiveFailures     int
	LastErrorCategory       *string
	LastErrorDetail         *string
	IsPermanentlyInvalid    bool
	RequiresSpecialHandling bool
	SpecialHandlerType      *string
	UpdatedAt               time.Time
}

// HealthPatch is a partial health update used outside the poll path.
type HealthPatch struct {
	CheckedAt          *time.Time
	ResetFailures      bool
	ClearError         bool
	PermanentlyInvalid *bool
}
