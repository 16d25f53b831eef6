package feeds

import "time"

// Group splits sources by the kind of post they feed.
type Group string

const (
	// GroupNews is breaking industry news; posts are short hot takes.
	GroupNews Group = "news"
	// GroupConcept is engineering deep dives; posts explain a design.
	GroupConcept Group = "concept"
)

// Valid reports whether g is a known group.
func (g Group) Valid() bool {
	return g == GroupNews || g == GroupConcept
}

// Source is one configured feed. Immutable during a run.
type Source struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Group Group  `yaml:"group"`
}

// Entry is a candidate article read from a feed.
type Entry struct {
	Title     string
	Link      string
	ImageHint string // image advertised by the feed itself, if any
	Published time.Time
	Source    string
	Group     Group
}

// Result is the outcome of reading one feed. Err is set when the feed
// could not be fetched or parsed; Entries is then empty. Callers treat
// both cases as "nothing here" and move on.
type Result struct {
	Source  Source
	Entries []Entry
	Err     error
}
