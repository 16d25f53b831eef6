// Package selection finds the one article a run will post about.
//
// The search is first-fit: pick a group, walk its feeds in shuffled order,
// walk each feed's newest entries in order, and return the first entry that
// is new, extracts cleanly and, when a judge is configured, passes it.
package selection

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/abelbrown/linkpost/internal/extract"
	"github.com/abelbrown/linkpost/internal/feeds"
	"github.com/abelbrown/linkpost/internal/history"
	"github.com/abelbrown/linkpost/internal/judge"
	"github.com/abelbrown/linkpost/internal/logging"
	"github.com/abelbrown/linkpost/internal/otel"
)

// ErrExhausted means every attempt ran out of candidates.
var ErrExhausted = errors.New("no acceptable article found")

// DefaultMaxAttempts bounds the outer judge loop.
const DefaultMaxAttempts = 5

// SourceLister returns the feeds of a group.
type SourceLister interface {
	Sources(g feeds.Group) []feeds.Source
}

// FeedReader fetches one feed.
type FeedReader interface {
	Fetch(ctx context.Context, src feeds.Source) feeds.Result
}

// Extractor turns a link into content.
type Extractor interface {
	Extract(ctx context.Context, link string, group feeds.Group, hint string) extract.Outcome
}

// History is the dedup store.
type History interface {
	Contains(link, title string) bool
	Append(r history.Record)
}

// Judge scores a candidate. Optional.
type Judge interface {
	Evaluate(ctx context.Context, title, text string) judge.Verdict
}

// Item is the selected article.
type Item struct {
	Title    string
	Link     string
	Text     string
	ImageURL string
	Group    feeds.Group
	Source   string
	// Score is the judge's score, zero when no judge ran.
	Score int
}

// Options tunes the search.
type Options struct {
	MaxAttempts   int
	ConceptWeight float64
}

// Selector runs the search. A Selector owns its history for the run.
type Selector struct {
	Sources   SourceLister
	Reader    FeedReader
	Extractor Extractor
	History   History
	Judge     Judge // nil disables judging
	Rand      *rand.Rand
	Events    *otel.Logger
	Options   Options

	// Rejected counts candidates the judge turned down this run.
	Rejected int

	// links already sent to the extractor during this Select call
	tried map[string]bool
}

// Select returns the first acceptable item, or ErrExhausted.
func (s *Selector) Select(ctx context.Context) (*Item, error) {
	log := logging.WithPrefix("selection")

	attempts := s.Options.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	s.tried = map[string]bool{}
	exhausted := map[feeds.Group]bool{}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		group := feeds.PickGroup(s.Rand, s.Options.ConceptWeight)
		if exhausted[group] {
			group = other(group)
		}
		if exhausted[group] {
			break
		}
		log.Info("searching", "attempt", attempt, "group", group)
		s.Events.Emit(otel.Event{Kind: otel.KindGroupPick, Comp: "selection", Msg: string(group), Count: attempt})

		cand, err := s.search(ctx, group)
		if err != nil {
			return nil, err
		}
		if cand == nil {
			log.Info("no candidate in group", "group", group, "attempt", attempt)
			s.Events.Info(otel.KindGroupEmpty, "selection", string(group))
			exhausted[group] = true
			continue
		}

		if s.Judge == nil {
			return cand, nil
		}

		v := s.Judge.Evaluate(ctx, cand.Title, cand.Text)
		s.Events.Emit(otel.Event{
			Kind: otel.KindJudgeVerdict, Comp: "judge", URL: cand.Link, Title: cand.Title,
			Score: v.Score, Msg: v.Reason,
			Extra: map[string]any{"skip": v.Skip, "accepted": v.Accepted, "unavailable": v.Unavailable},
		})

		if v.Unavailable {
			// no judgement was made, so nothing is recorded against the article
			log.Warn("judge unavailable, accepting unjudged", "title", cand.Title)
			s.Events.Warn(otel.KindJudgeVerdict, "judge", "unavailable, accepted unjudged")
			return cand, nil
		}
		if v.Accepted {
			cand.Score = v.Score
			log.Info("judge accepted", "title", cand.Title, "score", v.Score)
			return cand, nil
		}

		log.Info("judge rejected", "title", cand.Title, "score", v.Score, "skip", v.Skip, "reason", v.Reason)
		s.History.Append(history.Record{
			Link:   cand.Link,
			Title:  cand.Title,
			Date:   time.Now(),
			Status: history.StatusRejected,
		})
		s.Rejected++
	}
	return nil, ErrExhausted
}

// search walks one group's feeds and returns the first entry that is new
// and extracts cleanly. A nil item with a nil error means nothing fit.
func (s *Selector) search(ctx context.Context, group feeds.Group) (*Item, error) {
	log := logging.WithPrefix("selection")

	for _, src := range feeds.Shuffled(s.Rand, s.Sources.Sources(group)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		res := s.Reader.Fetch(ctx, src)
		if res.Err != nil {
			log.Warn("feed failed", "feed", src.URL, "error", res.Err)
			s.Events.Emit(otel.Event{Kind: otel.KindFeedError, Level: otel.LevelWarn, Comp: "feeds", Source: src.Name, URL: src.URL, Err: res.Err.Error()})
			continue
		}
		s.Events.Emit(otel.Event{Kind: otel.KindFeedFetch, Comp: "feeds", Source: src.Name, URL: src.URL, Count: len(res.Entries), Dur: time.Since(start)})

		for _, e := range res.Entries {
			if s.History.Contains(e.Link, e.Title) {
				log.Debug("already handled", "title", e.Title)
				s.Events.Emit(otel.Event{Kind: otel.KindCandidateSkip, Comp: "selection", Source: src.Name, URL: e.Link, Title: e.Title})
				continue
			}

			key := history.NormalizeLink(e.Link)
			if s.tried[key] {
				continue
			}
			s.tried[key] = true

			out := s.Extractor.Extract(ctx, e.Link, group, e.ImageHint)
			switch out.Status {
			case extract.Failed:
				log.Warn("extract failed", "link", e.Link, "error", out.Err)
				s.Events.Emit(otel.Event{Kind: otel.KindExtractFail, Level: otel.LevelWarn, Comp: "extract", URL: e.Link, Err: errString(out.Err)})
				continue
			case extract.Rejected:
				log.Info("extract rejected", "link", e.Link, "reason", out.Reason)
				s.Events.Emit(otel.Event{Kind: otel.KindExtractReject, Comp: "extract", URL: e.Link, Msg: out.Reason})
				continue
			}
			if !out.OK() {
				continue
			}

			s.Events.Emit(otel.Event{
				Kind: otel.KindExtractAccept, Comp: "extract", URL: e.Link, Title: e.Title,
				Count: out.Content.Chars, Extra: map[string]any{"image_from": out.Content.ImageFrom, "container": out.Content.Container},
			})
			return &Item{
				Title:    e.Title,
				Link:     e.Link,
				Text:     out.Content.Text,
				ImageURL: out.Content.ImageURL,
				Group:    group,
				Source:   src.Name,
			}, nil
		}
	}
	return nil, nil
}

func other(g feeds.Group) feeds.Group {
	if g == feeds.GroupConcept {
		return feeds.GroupNews
	}
	return feeds.GroupConcept
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
