package adapters

import (
	"context"
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/lysyi3m/rss-intake/app/feed"
)

// ReadabilityAdapter turns an article page without a feed into a
// single-item feed using the readability extractor.
type ReadabilityAdapter struct {
	name    string
	fetcher Fetcher
}

func NewReadabilityAdapter(name string, fetcher Fetcher) *ReadabilityAdapter {
	return &ReadabilityAdapter{name: name, fetcher: fetcher}
}

func (a *ReadabilityAdapter) Name() string {
	return a.name
}

func (a *ReadabilityAdapter) FetchAndParse(ctx context.Context, url string) (*feed.Descriptor, error) {
	result, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	pageURL, err := nurl.Parse(url)
	if err != nil {
		return nil, feed.NewError(feed.CategoryValidation, "invalid page URL", err)
	}

	article, err := readability.FromReader(strings.NewReader(result.Content), pageURL)
	if err != nil {
		return nil, feed.NewError(feed.CategoryParse, "failed to extract content", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return nil, feed.NewError(feed.CategoryParse, "no content extracted from page", nil)
	}

	slog.Debug("Content extracted successfully",
		"adapter", a.name,
		"url", url,
		"title", article.Title,
		"content_length", len(article.Content))

	metadata := map[string]any{}
	if article.SiteName != "" {
		metadata["site_name"] = article.SiteName
	}
	if article.Image != "" {
		metadata["image"] = article.Image
	}

	title := article.Title
	if article.SiteName != "" {
		title = article.SiteName
	}

	return &feed.Descriptor{
		Title:       title,
		Description: article.Excerpt,
		Link:        url,
		Items: []feed.ItemDescriptor{{
			Title:          article.Title,
			Description:    article.Excerpt,
			Link:           url,
			GUID:           url,
			Author:         article.Byline,
			Content:        article.Content,
			SourceType:     a.name,
			SourceID:       url,
			SourceMetadata: metadata,
		}},
	}, nil
}
