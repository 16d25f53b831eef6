// Package extract turns an article link into body text and a lead image.
//
// Both the body container search and the image search are ordered strategy
// lists; the first strategy that yields something wins.
package extract

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/abelbrown/linkpost/internal/feeds"
	"github.com/abelbrown/linkpost/internal/httpclient"
)

// maxPageBytes bounds how much of a page is parsed.
const maxPageBytes = 5 << 20

// Options holds the quality gates.
type Options struct {
	NewsMinChars    int
	ConceptMinChars int
	MaxChars        int
	// FallbackImages is the pool used for concept articles with no image.
	FallbackImages []string
}

// Extractor fetches article pages and applies the cascades.
type Extractor struct {
	client     *httpclient.Client
	opts       Options
	rng        *rand.Rand
	containers []string
	images     []ImageStrategy
}

// New creates an Extractor. rng picks from the fallback image pool.
func New(client *httpclient.Client, opts Options, rng *rand.Rand) *Extractor {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if opts.FallbackImages == nil {
		opts.FallbackImages = DefaultFallbackImages
	}
	return &Extractor{
		client:     client,
		opts:       opts,
		rng:        rng,
		containers: ContainerSelectors,
		images:     DefaultImageStrategies,
	}
}

// MinChars returns the minimum body length for a group.
func (e *Extractor) MinChars(g feeds.Group) int {
	if g == feeds.GroupConcept {
		return e.opts.ConceptMinChars
	}
	return e.opts.NewsMinChars
}

// Extract fetches link and returns its content. hint is the image the feed
// advertised, if any. Extract never panics and never retries.
func (e *Extractor) Extract(ctx context.Context, link string, group feeds.Group, hint string) Outcome {
	base, err := url.Parse(link)
	if err != nil {
		return failed(fmt.Errorf("parse link: %w", err))
	}

	resp, err := e.client.Get(ctx, link)
	if err != nil {
		return failed(err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return failed(fmt.Errorf("parse HTML: %w", err))
	}
	// Redirects change the base for relative image URLs.
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}

	return e.FromDocument(doc, base, group, hint)
}

// FromDocument applies the text gate and the image cascade to a parsed page.
func (e *Extractor) FromDocument(doc *goquery.Document, base *url.URL, group feeds.Group, hint string) Outcome {
	text, container := bodyText(doc, e.containers)
	chars := utf8.RuneCountInString(text)
	if chars < e.MinChars(group) {
		return rejected(ReasonTooShort)
	}

	img, from := resolveImage(&page{doc: doc, base: base, hint: hint}, e.images)
	if img == "" && group == feeds.GroupConcept && len(e.opts.FallbackImages) > 0 {
		img = e.opts.FallbackImages[e.rng.Intn(len(e.opts.FallbackImages))]
		from = "fallback"
	}
	if img == "" {
		return rejected(ReasonNoImage)
	}

	return accepted(&Content{
		Text:      truncateRunes(text, e.opts.MaxChars),
		ImageURL:  img,
		Chars:     chars,
		Container: container,
		ImageFrom: from,
	})
}

// DefaultFallbackImages is a small pool of generic technology photos.
var DefaultFallbackImages = []string{
	"https://images.unsplash.com/photo-1518770660439-4636190af475?w=1200",
	"https://images.unsplash.com/photo-1558494949-ef010cbdcc31?w=1200",
	"https://images.unsplash.com/photo-1451187580459-43490279c0fa?w=1200",
}
