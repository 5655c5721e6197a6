package feed

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// PublishedTime resolves an item's PublishedAt string. Empty or unparseable
// values fall back to the ingestion time.
func PublishedTime(value string, ingestedAt time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return ingestedAt
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}

	t, err := dateparse.ParseAny(value)
	if err != nil {
		return ingestedAt
	}
	return t.UTC()
}
