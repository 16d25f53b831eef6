package feeds

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/abelbrown/linkpost/internal/httpclient"
)

// DefaultTopN is how many of a feed's newest entries are considered.
const DefaultTopN = 3

// Reader fetches and parses feeds. It never returns an error directly;
// failures are reported on the Result so one broken feed cannot end a run.
type Reader struct {
	client *httpclient.Client
	parser *gofeed.Parser
	topN   int

	// Filter drops promotional entries before the top-N cut. nil keeps
	// everything.
	Filter *Filter
}

// NewReader creates a Reader that keeps at most topN entries per feed.
func NewReader(client *httpclient.Client, topN int) *Reader {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Reader{
		client: client,
		parser: gofeed.NewParser(),
		topN:   topN,
		Filter: DefaultFilter(),
	}
}

// Fetch reads src and returns its newest entries, most recent first.
func (r *Reader) Fetch(ctx context.Context, src Source) Result {
	res := Result{Source: src}

	resp, err := r.client.Get(ctx, src.URL)
	if err != nil {
		res.Err = fmt.Errorf("fetch %s: %w", src.URL, err)
		return res
	}
	defer resp.Body.Close()

	feed, err := r.parser.Parse(resp.Body)
	if err != nil {
		res.Err = fmt.Errorf("parse %s: %w", src.URL, err)
		return res
	}

	items := newestFirst(feed.Items)
	for _, item := range items {
		if len(res.Entries) == r.topN {
			break
		}
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		if r.Filter.ShouldBlock(item.Title, link, item.Description) {
			continue
		}

		var published time.Time
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}

		res.Entries = append(res.Entries, Entry{
			Title:     strings.TrimSpace(item.Title),
			Link:      link,
			ImageHint: imageHint(item),
			Published: published,
			Source:    src.Name,
			Group:     src.Group,
		})
	}
	return res
}

// newestFirst orders items by date when every item carries one. Feeds
// without dates are already in publisher order, which is newest first in
// practice.
func newestFirst(items []*gofeed.Item) []*gofeed.Item {
	for _, it := range items {
		if itemTime(it).IsZero() {
			return items
		}
	}
	out := make([]*gofeed.Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return itemTime(out[i]).After(itemTime(out[j]))
	})
	return out
}

func itemTime(it *gofeed.Item) time.Time {
	if it.PublishedParsed != nil {
		return *it.PublishedParsed
	}
	if it.UpdatedParsed != nil {
		return *it.UpdatedParsed
	}
	return time.Time{}
}

// imageHint returns the image a feed advertises for an item, if any.
func imageHint(item *gofeed.Item) string {
	if u := mediaURL(item.Extensions); u != "" {
		return u
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

// mediaURL looks in Media RSS: media:content, media:thumbnail, and the
// same two nested under media:group.
func mediaURL(exts ext.Extensions) string {
	media, ok := exts["media"]
	if !ok {
		return ""
	}
	if u := firstMediaAttr(media); u != "" {
		return u
	}
	for _, group := range media["group"] {
		if u := firstMediaAttr(group.Children); u != "" {
			return u
		}
	}
	return ""
}

func firstMediaAttr(m map[string][]ext.Extension) string {
	for _, name := range []string{"content", "thumbnail"} {
		for _, e := range m[name] {
			if e.Name == "content" {
				if medium := e.Attrs["medium"]; medium != "" && medium != "image" {
					continue
				}
				if t := e.Attrs["type"]; t != "" && !strings.HasPrefix(t, "image/") {
					continue
				}
			}
			if u := e.Attrs["url"]; u != "" {
				return u
			}
		}
	}
	return ""
}
