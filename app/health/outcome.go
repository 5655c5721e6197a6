package health

import (
	"github.com/lysyi3m/rss-intake/app/feed"
)

// Outcome is the result of one fetch/parse attempt as reported to the tracker.
// A zero Category means success.
type Outcome struct {
	Category           feed.Category
	Detail             string
	PermanentlyInvalid bool

	// RequiresSpecialHandling overrides the stored flag when set; nil keeps it.
	RequiresSpecialHandling *bool
	SpecialHandlerType      string
}

func Success() Outcome {
	return Outcome{}
}

// Failure derives the outcome from a categorized error; plain errors are
// recorded as UNKNOWN_ERROR.
func Failure(err error) Outcome {
	fe := feed.AsError(err)
	if fe == nil {
		fe = feed.NewError(feed.CategoryUnknown, "unknown failure", nil)
	}
	return Outcome{
		Category:           fe.Category,
		Detail:             fe.Error(),
		PermanentlyInvalid: fe.PermanentlyInvalid,
	}
}

// WithHandler marks the outcome as produced by a site-specific handler.
func (o Outcome) WithHandler(handlerType string) Outcome {
	special := true
	o.RequiresSpecialHandling = &special
	o.SpecialHandlerType = handlerType
	return o
}

// WithoutSpecialHandling clears the special-handling flag and handler type.
func (o Outcome) WithoutSpecialHandling() Outcome {
	special := false
	o.RequiresSpecialHandling = &special
	o.SpecialHandlerType = ""
	return o
}

func (o Outcome) Failed() bool {
	return o.Category != ""
}
