package feed

import (
	"cmp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Parse validates content and converts it into a Descriptor. Failures are *Error.
func (p *Parser) Parse(content string) (*Descriptor, error) {
	trimmed := strings.TrimLeft(strings.TrimPrefix(content, "\ufeff"), " \t\r\n")
	if !strings.HasPrefix(trimmed, "<?xml") {
		return nil, NewError(CategoryParse, "content does not start with an XML declaration", nil)
	}

	parsed, err := p.gofeedParser.ParseString(trimmed)
	if err != nil {
		return nil, NewError(CategoryParse, "failed to parse feed", err)
	}

	if len(parsed.Items) == 0 {
		return nil, NewError(CategoryParse, "feed contains no items", nil)
	}

	descriptor := &Descriptor{
		Title:       parsed.Title,
		Description: parsed.Description,
		Link:        parsed.Link,
		Items:       make([]ItemDescriptor, 0, len(parsed.Items)),
	}

	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		descriptor.Items = append(descriptor.Items, p.normalizeItem(item))
	}

	return descriptor, nil
}

// Validate performs the same parse as Parse but reports the outcome instead of failing.
func (p *Parser) Validate(content string) ParseValidation {
	descriptor, err := p.Parse(content)
	if err != nil {
		fe := AsError(err)
		return ParseValidation{
			Category: fe.Category,
			Message:  fe.Error(),
			Err:      fe,
		}
	}
	return ParseValidation{Valid: true, Descriptor: descriptor}
}

func (p *Parser) normalizeItem(item *gofeed.Item) ItemDescriptor {
	normalized := ItemDescriptor{
		Title:       item.Title,
		Link:        item.Link,
		GUID:        cmp.Or(item.GUID, item.Link),
		Description: cmp.Or(contentSnippet(cmp.Or(item.Content, item.Description)), item.Content, item.Description),
		Content:     item.Content,
		PublishedAt: item.Published,
		Author:      p.extractAuthor(item),
	}

	if normalized.PublishedAt == "" && item.UpdatedParsed != nil {
		normalized.PublishedAt = item.UpdatedParsed.UTC().Format(time.RFC3339)
	}

	if metadata := p.extractMetadata(item); len(metadata) > 0 {
		normalized.SourceMetadata = metadata
	}

	return normalized
}

func (p *Parser) extractAuthor(item *gofeed.Item) string {
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}

	for _, author := range item.Authors {
		if author != nil && strings.TrimSpace(author.Name) != "" {
			return strings.TrimSpace(author.Name)
		}
	}

	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		return strings.TrimSpace(item.DublinCoreExt.Creator[0])
	}

	return ""
}

// extractMetadata surfaces namespaced fields (media:*, categories, enclosures).
func (p *Parser) extractMetadata(item *gofeed.Item) map[string]any {
	metadata := make(map[string]any)

	if media := mediaContent(item.Extensions); len(media) > 0 {
		metadata["media"] = media
	}

	if len(item.Categories) > 0 {
		metadata["categories"] = item.Categories
	}

	if len(item.Enclosures) > 0 {
		enclosures := make([]map[string]string, 0, len(item.Enclosures))
		for _, enclosure := range item.Enclosures {
			if enclosure == nil || enclosure.URL == "" {
				continue
			}
			enclosures = append(enclosures, map[string]string{
				"url":    enclosure.URL,
				"type":   enclosure.Type,
				"length": enclosure.Length,
			})
		}
		if len(enclosures) > 0 {
			metadata["enclosures"] = enclosures
		}
	}

	if item.Image != nil && item.Image.URL != "" {
		metadata["image"] = item.Image.URL
	}

	return metadata
}

func mediaContent(extensions ext.Extensions) []map[string]string {
	media, ok := extensions["media"]
	if !ok {
		return nil
	}

	var result []map[string]string
	collect := func(elements []ext.Extension) {
		for _, element := range elements {
			if element.Attrs["url"] == "" {
				continue
			}
			entry := map[string]string{"url": element.Attrs["url"]}
			for _, attr := range []string{"type", "medium", "width", "height"} {
				if value := element.Attrs[attr]; value != "" {
					entry[attr] = value
				}
			}
			result = append(result, entry)
		}
	}

	collect(media["content"])
	collect(media["thumbnail"])
	for _, group := range media["group"] {
		collect(group.Children["content"])
		collect(group.Children["thumbnail"])
	}

	return result
}

// contentSnippet returns the text of an HTML fragment with markup removed.
func contentSnippet(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	return strings.Join(strings.Fields(doc.Text()), " ")
}
