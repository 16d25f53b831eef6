package feeds

import (
	"regexp"
	"strings"
)

// Filter drops feed entries that are not articles worth posting about:
// sponsored placements, event promos, job ads.
type Filter struct {
	// URL patterns to block
	BlockURLPatterns []*regexp.Regexp

	// Title patterns to block
	BlockTitlePatterns []*regexp.Regexp

	// Keywords in title/summary that mark promotional entries
	BlockKeywords []string
}

// DefaultFilter returns the filter the Reader uses unless told otherwise.
func DefaultFilter() *Filter {
	return &Filter{
		BlockKeywords: []string{
			"sponsored",
			"advertisement",
			"paid content",
			"partner content",
			"presented by",
			"brought to you by",
			"[ad]",
			"[sponsored]",
			"register now",
			"save your seat",
		},
		BlockURLPatterns: compilePatterns([]string{
			`/sponsored/`,
			`/partner-content/`,
			`/events?/`,
			`/webinars?/`,
			`/careers?/`,
			`/jobs?/`,
		}),
		BlockTitlePatterns: compilePatterns([]string{
			`(?i)^\s*(webinar|podcast|livestream)\b`,
			`(?i)\bwe('re| are) hiring\b`,
			`(?i)^\s*(deals?|sale)\s*:`,
		}),
	}
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	result := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			result = append(result, re)
		}
	}
	return result
}

// ShouldBlock reports whether an entry with this title, link and feed
// summary should be skipped.
func (f *Filter) ShouldBlock(title, link, summary string) bool {
	if f == nil {
		return false
	}

	for _, re := range f.BlockURLPatterns {
		if re.MatchString(link) {
			return true
		}
	}
	for _, re := range f.BlockTitlePatterns {
		if re.MatchString(title) {
			return true
		}
	}

	titleLower := strings.ToLower(title)
	summaryLower := strings.ToLower(summary)
	for _, kw := range f.BlockKeywords {
		if strings.Contains(titleLower, kw) || strings.Contains(summaryLower, kw) {
			return true
		}
	}
	return false
}
