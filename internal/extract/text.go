package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ContainerSelectors are tried in order; the first whose text is non-empty
// wins. The whole document is the implicit last resort.
var ContainerSelectors = []string{
	"article",
	"[itemprop=articleBody]",
	"#article-body",
	"#articlebody",
	".article-body",
	".post-content",
	".entry-content",
	".gh-content",
	".main-content",
	"main",
}

const (
	textElements = "p, h2, li"
	boilerplate  = "nav, footer, aside, form"
)

// bodyText finds the article container and returns its paragraph-level
// text together with the selector that matched.
func bodyText(doc *goquery.Document, selectors []string) (string, string) {
	for _, sel := range selectors {
		c := doc.Find(sel).First()
		if c.Length() == 0 {
			continue
		}
		if text := paragraphs(c); text != "" {
			return text, sel
		}
	}
	return paragraphs(doc.Selection), "document"
}

func paragraphs(s *goquery.Selection) string {
	var parts []string
	s.Find(textElements).Each(func(_ int, el *goquery.Selection) {
		if el.Closest(boilerplate).Length() > 0 {
			return
		}
		t := strings.TrimSpace(el.Text())
		if t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}

// truncateRunes cuts s to exactly max runes when it is longer.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
