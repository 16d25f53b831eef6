// Package history remembers which articles were already handled so a
// scheduled run never posts the same story twice.
//
// The store is a capped, append-only list persisted as one JSON document.
// Membership is a linear scan: duplicate records are harmless.
package history

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SchemaVersion is written into every persisted document.
const SchemaVersion = 1

// DefaultCap is the number of records kept after eviction.
const DefaultCap = 200

// Status records why an article entered history.
type Status string

const (
	StatusPublished Status = "published"
	StatusRejected  Status = "rejected" // judged unfit; never posted
)

// Record is one handled article.
type Record struct {
	Link   string    `json:"link"`
	Title  string    `json:"title,omitempty"`
	Date   time.Time `json:"date"`
	Status Status    `json:"status,omitempty"`
}

type document struct {
	SchemaVersion int      `json:"schema_version"`
	Records       []Record `json:"records"`
}

// legacyRecord covers the bare-array files written by earlier scripts,
// which used either web_link or link and either title or article_name.
type legacyRecord struct {
	WebLink     string `json:"web_link"`
	Link        string `json:"link"`
	Title       string `json:"title"`
	ArticleName string `json:"article_name"`
	Date        string `json:"date"`
}

// Store is the in-memory history. Not safe for concurrent use; a run owns
// its store exclusively.
type Store struct {
	path    string
	cap     int
	records []Record

	// LoadErr is the error that forced an empty store, if any.
	LoadErr error
}

// Load reads the history at path. It never fails: a missing, unreadable or
// malformed file yields an empty store with LoadErr set (nil when missing).
func Load(path string, limit int) *Store {
	if limit <= 0 {
		limit = DefaultCap
	}
	s := &Store{path: path, cap: limit}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.LoadErr = fmt.Errorf("read history: %w", err)
		}
		return s
	}

	records, err := decode(data)
	if err != nil {
		s.LoadErr = fmt.Errorf("parse history %s: %w", path, err)
		return s
	}
	s.records = records
	s.evict()
	return s
}

// New creates an empty store that persists to path.
func New(path string, limit int) *Store {
	if limit <= 0 {
		limit = DefaultCap
	}
	return &Store{path: path, cap: limit}
}

func decode(data []byte) ([]Record, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var legacy []legacyRecord
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, err
		}
		records := make([]Record, 0, len(legacy))
		for _, l := range legacy {
			link := l.WebLink
			if link == "" {
				link = l.Link
			}
			title := l.Title
			if title == "" {
				title = l.ArticleName
			}
			if link == "" && title == "" {
				continue
			}
			date, _ := time.Parse("2006-01-02", l.Date)
			records = append(records, Record{
				Link:   NormalizeLink(link),
				Title:  title,
				Date:   date,
				Status: StatusPublished,
			})
		}
		return records, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("unsupported schema_version %d", doc.SchemaVersion)
	}
	return doc.Records, nil
}

// NormalizeLink strips the query string and fragment so tracking
// parameters never defeat deduplication.
func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		if i := strings.IndexAny(link, "?#"); i >= 0 {
			return link[:i]
		}
		return link
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Contains reports whether an article was handled before, matching on the
// normalized link or, independently, on the exact title.
func (s *Store) Contains(link, title string) bool {
	norm := NormalizeLink(link)
	for _, r := range s.records {
		if norm != "" && NormalizeLink(r.Link) == norm {
			return true
		}
		if title != "" && r.Title == title {
			return true
		}
	}
	return false
}

// Append adds a record and evicts the oldest records beyond the cap.
func (s *Store) Append(r Record) {
	r.Link = NormalizeLink(r.Link)
	if r.Date.IsZero() {
		r.Date = time.Now().UTC()
	}
	s.records = append(s.records, r)
	s.evict()
}

// Insertion order is chronological, so the head is always the oldest.
func (s *Store) evict() {
	if over := len(s.records) - s.cap; over > 0 {
		kept := make([]Record, s.cap)
		copy(kept, s.records[over:])
		s.records = kept
	}
}

// Records returns a copy of the records, oldest first.
func (s *Store) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Cap returns the retention cap.
func (s *Store) Cap() int {
	return s.cap
}

// Path returns the file the store persists to.
func (s *Store) Path() string {
	return s.path
}

// Persist writes the full history to disk via a temp file and rename, so a
// crash mid-write leaves the previous file intact.
func (s *Store) Persist() error {
	doc := document{SchemaVersion: SchemaVersion, Records: s.records}
	if doc.Records == nil {
		doc.Records = []Record{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close history: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}
