package search

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
)

const maxPerFeed = 20

// FeedConfig is one marketplace search feed.
type FeedConfig struct {
	URL  string
	Name string
}

// Feed searches marketplaces that expose their listings as RSS/Atom
// feeds. The query text is substituted into the feed URL template when
// it holds a {query} placeholder; otherwise the feed is taken as-is.
type Feed struct {
	feeds  []FeedConfig
	parser *gofeed.Parser
}

// NewFeed creates a provider over the given feeds.
func NewFeed(feeds []FeedConfig) *Feed {
	return &Feed{feeds: feeds, parser: gofeed.NewParser()}
}

func (f *Feed) Name() string { return "feed" }

// Search parses every configured feed and maps items to results.
func (f *Feed) Search(ctx context.Context, q Query) ([]Result, error) {
	var all []Result
	var lastErr error
	for _, fc := range f.feeds {
		feedURL := strings.ReplaceAll(fc.URL, "{query}", url.QueryEscape(q.Text))
		feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			lastErr = fmt.Errorf("parsing feed %s: %w", fc.URL, err)
			continue
		}

		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		count := 0
		for _, item := range feed.Items {
			if count >= maxPerFeed {
				break
			}
			r := feedItemResult(item, name)
			if r == nil {
				continue
			}
			all = append(all, *r)
			count++
		}
	}
	if len(all) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return all, nil
}

func feedItemResult(item *gofeed.Item, source string) *Result {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if link == "" || title == "" {
		return nil
	}

	id := item.GUID
	if id == "" {
		id = fmt.Sprintf("%x", sha1.Sum([]byte(link)))[:16]
	}

	var published string
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.Format("2006-01-02")
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.Format("2006-01-02")
	}

	var image string
	if item.Image != nil {
		image = item.Image.URL
	}

	return &Result{
		ID:            source + "_" + id,
		Title:         title,
		Location:      source,
		PublishedDate: published,
		URL:           link,
		Description:   stripHTML(item.Description),
		ImageURL:      image,
		Source:        source,
	}
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
			result.WriteRune(' ')
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}

	s := result.String()
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")

	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	if host == "" {
		return feedURL
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
