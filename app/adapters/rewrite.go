package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/lysyi3m/rss-intake/app/feed"
)

// RewriteAdapter maps a site URL onto its real feed endpoint before the
// generic fetch and parse.
type RewriteAdapter struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
	fetcher     Fetcher
	parser      Parser
}

func NewRewriteAdapter(name string, config RewriteConfig, fetcher Fetcher, parser Parser) (*RewriteAdapter, error) {
	if config.Pattern == "" || config.Replacement == "" {
		return nil, fmt.Errorf("rewrite pattern and replacement are required")
	}

	pattern, err := regexp.Compile(config.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid rewrite pattern: %w", err)
	}

	return &RewriteAdapter{
		name:        name,
		pattern:     pattern,
		replacement: config.Replacement,
		fetcher:     fetcher,
		parser:      parser,
	}, nil
}

func (a *RewriteAdapter) Name() string {
	return a.name
}

func (a *RewriteAdapter) Target(url string) string {
	return a.pattern.ReplaceAllString(url, a.replacement)
}

func (a *RewriteAdapter) FetchAndParse(ctx context.Context, url string) (*feed.Descriptor, error) {
	target := a.Target(url)
	if target != url {
		slog.Debug("Rewrote feed URL", "adapter", a.name, "from", url, "to", target)
	}

	result, err := a.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}

	return a.parser.Parse(result.Content)
}
