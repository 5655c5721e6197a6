package health

import (
	"time"

	"github.com/lysyi3m/rss-intake/app/database"
	"github.com/lysyi3m/rss-intake/app/feed"
)

// Apply returns the health record that follows prev after outcome o.
// prev is nil when the feed has no record yet.
func Apply(feedID string, prev *database.Health, o Outcome, now time.Time) database.Health {
	checkedAt := now
	next := database.Health{
		FeedID:      feedID,
		LastCheckAt: &checkedAt,
	}

	var (
		prevFailures  int
		prevPermanent bool
		prevSpecial   bool
		prevHandler   *string
	)
	if prev != nil {
		prevFailures = prev.ConsecutiveFailures
		prevPermanent = prev.IsPermanentlyInvalid
		prevSpecial = prev.RequiresSpecialHandling
		prevHandler = prev.SpecialHandlerType
	}

	next.IsPermanentlyInvalid = o.PermanentlyInvalid || prevPermanent

	special := prevSpecial
	if o.Failed() {
		next.ConsecutiveFailures = prevFailures + 1
		category := string(o.Category)
		detail := o.Detail
		next.LastErrorCategory = &category
		next.LastErrorDetail = &detail

		special = special || o.Category == feed.CategorySSL || o.Category == feed.CategoryParse
	}

	if o.RequiresSpecialHandling != nil {
		special = *o.RequiresSpecialHandling
	}

	next.RequiresSpecialHandling = special
	if special {
		next.SpecialHandlerType = handlerOrPrevious(o.SpecialHandlerType, prevHandler)
	}

	return next
}

func handlerOrPrevious(handlerType string, prev *string) *string {
	if handlerType != "" {
		return &handlerType
	}
	if prev != nil {
		value := *prev
		return &value
	}
	return nil
}
