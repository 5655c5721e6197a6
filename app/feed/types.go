package feed

// Fetch and parse types

type FetchResult struct {
	Content    string
	StatusCode int
	Headers    map[string]string
}

type Descriptor struct {
	Title       string
	Description string
	Link        string
	Items       []ItemDescriptor
}

type ItemDescriptor struct {
	Title       string
	Description string
	Link        string
	GUID        string
	PublishedAt string // raw or ISO-8601; empty means unknown
	Author      string
	Content     string

	// Set by site-specific adapters that key items by their own identifiers
	SourceType     string
	SourceID       string
	SourceMetadata map[string]any
}

// ValidationResult is the non-failing variant of a fetch.
type ValidationResult struct {
	Valid    bool
	Category Category
	Message  string
	Err      *Error
	Result   *FetchResult
}

// ParseValidation is the non-failing variant of a parse.
type ParseValidation struct {
	Valid      bool
	Category   Category
	Message    string
	Err        *Error
	Descriptor *Descriptor
}
