package extract

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExcludedImageMarkers disqualify an image URL when any non-excluded
// candidate exists. Matched case-insensitively against the file name only;
// hosts and directories are ignored.
var ExcludedImageMarkers = []string{
	"logo", "icon", "avatar", "tracking", "pixel", "sprite", "badge", "gravatar",
}

// minImageSide is the smallest declared width or height accepted by the
// large-image strategy. Images without size attributes pass.
const minImageSide = 200

var heroSelectors = []string{
	"figure img",
	".hero img",
	".featured-image img",
	".post-thumbnail img",
	"header img",
}

// page is what image strategies look at.
type page struct {
	doc  *goquery.Document
	base *url.URL
	hint string
}

// ImageStrategy proposes image candidates for a page, best first.
type ImageStrategy struct {
	Name string
	Find func(p *page) []string
}

// DefaultImageStrategies is the resolution cascade, in priority order.
var DefaultImageStrategies = []ImageStrategy{
	{Name: "feed", Find: func(p *page) []string { return nonEmpty(p.hint) }},
	{Name: "twitter:image", Find: metaImage(`meta[name="twitter:image"], meta[property="twitter:image"], meta[name="twitter:image:src"]`)},
	{Name: "og:image", Find: metaImage(`meta[property="og:image"], meta[name="og:image"], meta[property="og:image:url"]`)},
	{Name: "hero", Find: heroImages},
	{Name: "inline", Find: largeImages},
}

func nonEmpty(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return []string{s}
}

func metaImage(selector string) func(p *page) []string {
	return func(p *page) []string {
		var out []string
		p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr("content"); ok {
				out = append(out, nonEmpty(v)...)
			}
		})
		return out
	}
}

func heroImages(p *page) []string {
	var out []string
	for _, sel := range heroSelectors {
		p.doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			out = append(out, nonEmpty(imgSource(s))...)
		})
	}
	return out
}

func largeImages(p *page) []string {
	var out []string
	p.doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if !largeEnough(s) {
			return
		}
		out = append(out, nonEmpty(imgSource(s))...)
	})
	return out
}

func allImages(p *page) []string {
	var out []string
	p.doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		out = append(out, nonEmpty(imgSource(s))...)
	})
	return out
}

// imgSource prefers src, then the usual lazy-load attributes.
func imgSource(s *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src", "data-original"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	if set, ok := s.Attr("srcset"); ok {
		first := strings.TrimSpace(strings.Split(set, ",")[0])
		if fields := strings.Fields(first); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

func largeEnough(s *goquery.Selection) bool {
	for _, attr := range []string{"width", "height"} {
		v, ok := s.Attr(attr)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
		if err == nil && n < minImageSide {
			return false
		}
	}
	return true
}

// Excluded reports whether an image URL's file name looks like site chrome
// rather than article art.
func Excluded(imageURL string) bool {
	name := imageURL
	if u, err := url.Parse(imageURL); err == nil {
		name = path.Base(u.Path)
	}
	name = strings.ToLower(name)
	for _, m := range ExcludedImageMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// resolveImage walks the strategies and returns the first candidate that is
// not excluded. When every candidate is excluded it falls back to the first
// <img> on the page, whatever it is.
func resolveImage(p *page, strategies []ImageStrategy) (string, string) {
	for _, st := range strategies {
		for _, raw := range st.Find(p) {
			u := absolute(p.base, raw)
			if u == "" || Excluded(u) {
				continue
			}
			return u, st.Name
		}
	}
	for _, raw := range allImages(p) {
		if u := absolute(p.base, raw); u != "" {
			return u, "first-img"
		}
	}
	return "", ""
}

// absolute resolves ref against base and keeps only http(s) results.
func absolute(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "//") {
		ref = "https:" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
