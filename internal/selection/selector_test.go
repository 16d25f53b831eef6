package selection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abelbrown/linkpost/internal/brain"
	"github.com/abelbrown/linkpost/internal/extract"
	"github.com/abelbrown/linkpost/internal/feeds"
	"github.com/abelbrown/linkpost/internal/history"
	"github.com/abelbrown/linkpost/internal/httpclient"
	"github.com/abelbrown/linkpost/internal/judge"
	"github.com/abelbrown/linkpost/internal/otel"
)

// site serves one RSS feed at /feed and article pages at /a/<name>.
type site struct {
	srv      *httptest.Server
	articles []article
}

type article struct {
	name  string
	chars int
	image bool
}

func newSite(t *testing.T, articles ...article) *site {
	s := &site{articles: articles}
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		var items strings.Builder
		for _, a := range s.articles {
			fmt.Fprintf(&items, "<item><title>%s</title><link>%s/a/%s</link></item>", a.name, s.srv.URL, a.name)
		}
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>%s</channel></rss>`, items.String())
	})
	mux.HandleFunc("/a/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/a/")
		for _, a := range s.articles {
			if a.name != name {
				continue
			}
			head := ""
			if a.image {
				head = `<meta property="og:image" content="/img/` + a.name + `.jpg">`
			}
			fmt.Fprintf(w, "<html><head>%s</head><body><article><p>%s</p></article></body></html>", head, strings.Repeat("w", a.chars))
			return
		}
		http.NotFound(w, r)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *site) link(name string) string { return s.srv.URL + "/a/" + name }

func (s *site) source() feeds.Source {
	return feeds.Source{Name: "site", URL: s.srv.URL + "/feed", Group: feeds.GroupNews}
}

// countingExtractor wraps an extractor and remembers which links it saw.
type countingExtractor struct {
	inner Extractor
	links []string
}

func (c *countingExtractor) Extract(ctx context.Context, link string, group feeds.Group, hint string) extract.Outcome {
	c.links = append(c.links, link)
	return c.inner.Extract(ctx, link, group, hint)
}

// scriptedOracle answers judge prompts in order, repeating the last reply.
type scriptedOracle struct {
	replies []string
	calls   int
}

func (o *scriptedOracle) Generate(ctx context.Context, req brain.Request) (brain.Response, error) {
	r := o.replies[len(o.replies)-1]
	if o.calls < len(o.replies) {
		r = o.replies[o.calls]
	}
	o.calls++
	return brain.Response{Content: r}, nil
}

func newSelector(t *testing.T, hist *history.Store, j Judge, sources ...feeds.Source) (*Selector, *countingExtractor) {
	t.Helper()
	client := httpclient.New(httpclient.Options{Timeout: 5 * time.Second})
	ext := &countingExtractor{inner: extract.New(client, extract.Options{
		NewsMinChars:    600,
		ConceptMinChars: 1000,
		MaxChars:        15000,
		FallbackImages:  []string{},
	}, rand.New(rand.NewSource(1)))}

	return &Selector{
		Sources:   feeds.NewRegistry(sources),
		Reader:    feeds.NewReader(client, 3),
		Extractor: ext,
		History:   hist,
		Judge:     j,
		Rand:      rand.New(rand.NewSource(1)),
		Events:    otel.NewNullLogger(),
		Options:   Options{MaxAttempts: 5, ConceptWeight: 0},
	}, ext
}

func newHistory(t *testing.T) *history.Store {
	return history.New(filepath.Join(t.TempDir(), "history.json"), 200)
}

func TestEntryInHistoryIsNeverExtracted(t *testing.T) {
	s := newSite(t, article{name: "old", chars: 2000, image: true})
	hist := newHistory(t)
	hist.Append(history.Record{Link: s.link("old") + "?utm_source=linkedin", Status: history.StatusPublished})

	sel, ext := newSelector(t, hist, nil, s.source())
	item, err := sel.Select(context.Background())

	if !errors.Is(err, ErrExhausted) || item != nil {
		t.Fatalf("Select = %v, %v; want nil, ErrExhausted", item, err)
	}
	if len(ext.links) != 0 {
		t.Errorf("extractor called for %v", ext.links)
	}
}

func TestShortArticleDiscarded(t *testing.T) {
	s := newSite(t,
		article{name: "stub", chars: 400, image: true},
		article{name: "full", chars: 2000, image: true},
	)
	sel, ext := newSelector(t, newHistory(t), nil, s.source())

	item, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if item.Title != "full" {
		t.Errorf("selected %q, want full", item.Title)
	}
	if len(ext.links) != 2 || ext.links[0] != s.link("stub") {
		t.Errorf("extracted %v, want stub then full", ext.links)
	}
	if item.ImageURL != s.srv.URL+"/img/full.jpg" {
		t.Errorf("image = %q", item.ImageURL)
	}
}

func TestOnlyShortArticleYieldsNothing(t *testing.T) {
	s := newSite(t, article{name: "stub", chars: 400, image: true})
	sel, ext := newSelector(t, newHistory(t), nil, s.source())
	var events bytes.Buffer
	sel.Events = otel.NewLogger(&events)

	item, err := sel.Select(context.Background())
	if !errors.Is(err, ErrExhausted) || item != nil {
		t.Fatalf("Select = %v, %v; want nil, ErrExhausted", item, err)
	}
	if len(ext.links) != 1 {
		t.Errorf("stub extracted %d times, want once", len(ext.links))
	}
	if !strings.Contains(events.String(), `"kind":"selection.exhausted"`) {
		t.Error("exhausted group not reported")
	}
}

func TestJudgeAcceptsAboveThreshold(t *testing.T) {
	s := newSite(t, article{name: "deep-dive", chars: 2000, image: true})
	oracle := &scriptedOracle{replies: []string{"```json\n{\"score\": 8, \"reason\": \"good\"}\n```"}}
	hist := newHistory(t)

	sel, _ := newSelector(t, hist, judge.New(oracle, 7, 5), s.source())
	item, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if item.Title != "deep-dive" || item.Score != 8 {
		t.Errorf("item = %+v", item)
	}
	if len(item.Text) != 2000 {
		t.Errorf("text length = %d", len(item.Text))
	}
	if hist.Len() != 0 {
		t.Errorf("accepted item must not be recorded by selection, history has %d", hist.Len())
	}
}

func TestJudgeSkipRecordsRejection(t *testing.T) {
	s := newSite(t,
		article{name: "press-release", chars: 2000, image: true},
		article{name: "postmortem", chars: 2000, image: true},
	)
	oracle := &scriptedOracle{replies: []string{"SKIP", `{"score": 9}`}}
	hist := newHistory(t)

	sel, _ := newSelector(t, hist, judge.New(oracle, 7, 5), s.source())
	item, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if item.Title != "postmortem" {
		t.Errorf("selected %q, want postmortem", item.Title)
	}
	if sel.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", sel.Rejected)
	}

	recs := hist.Records()
	if len(recs) != 1 || recs[0].Title != "press-release" || recs[0].Status != history.StatusRejected {
		t.Fatalf("history = %+v", recs)
	}

	// the rejection survives persistence and excludes the entry next run
	if err := hist.Persist(); err != nil {
		t.Fatal(err)
	}
	reloaded := history.Load(hist.Path(), 200)
	next, ext := newSelector(t, reloaded, judge.New(&scriptedOracle{replies: []string{`{"score": 9}`}}, 7, 5), s.source())
	item, err = next.Select(context.Background())
	if err != nil {
		t.Fatalf("second Select: %v", err)
	}
	if item.Title != "postmortem" {
		t.Errorf("second run selected %q", item.Title)
	}
	for _, l := range ext.links {
		if l == s.link("press-release") {
			t.Error("rejected entry was extracted again")
		}
	}
}

func TestAttemptsAreBounded(t *testing.T) {
	var arts []article
	for i := 0; i < 3; i++ {
		arts = append(arts, article{name: fmt.Sprintf("a%d", i), chars: 2000, image: true})
	}
	s := newSite(t, arts...)
	oracle := &scriptedOracle{replies: []string{`{"score": 2, "reason": "dull"}`}}
	hist := newHistory(t)

	sel, _ := newSelector(t, hist, judge.New(oracle, 7, 5), s.source())
	sel.Options.MaxAttempts = 2

	item, err := sel.Select(context.Background())
	if !errors.Is(err, ErrExhausted) || item != nil {
		t.Fatalf("Select = %v, %v", item, err)
	}
	if oracle.calls != 2 || hist.Len() != 2 {
		t.Errorf("oracle calls = %d, history = %d; want 2 and 2", oracle.calls, hist.Len())
	}
}

func TestJudgeUnavailableAcceptsWithoutRecording(t *testing.T) {
	s := newSite(t, article{name: "x", chars: 2000, image: true})
	hist := newHistory(t)
	sel, _ := newSelector(t, hist, judge.New(failingOracle{}, 7, 5), s.source())

	item, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if item.Title != "x" || hist.Len() != 0 {
		t.Errorf("item = %+v, history = %d", item, hist.Len())
	}
}

type failingOracle struct{}

func (failingOracle) Generate(ctx context.Context, req brain.Request) (brain.Response, error) {
	return brain.Response{}, errors.New("quota exhausted")
}

func TestBrokenFeedIsSkipped(t *testing.T) {
	s := newSite(t, article{name: "good", chars: 2000, image: true})
	broken := feeds.Source{Name: "broken", URL: s.srv.URL + "/missing-feed", Group: feeds.GroupNews}

	sel, _ := newSelector(t, newHistory(t), nil, broken, s.source())
	item, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if item.Title != "good" {
		t.Errorf("selected %q", item.Title)
	}
}

func TestFallsBackToOtherGroup(t *testing.T) {
	news := newSite(t, article{name: "stub", chars: 100, image: true})
	concept := newSite(t, article{name: "design", chars: 3000, image: true})
	csrc := concept.source()
	csrc.Group = feeds.GroupConcept

	sel, _ := newSelector(t, newHistory(t), nil, news.source(), csrc)
	item, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if item.Group != feeds.GroupConcept || item.Title != "design" {
		t.Errorf("item = %+v", item)
	}
}

func TestCancelledContext(t *testing.T) {
	s := newSite(t, article{name: "x", chars: 2000, image: true})
	sel, _ := newSelector(t, newHistory(t), nil, s.source())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sel.Select(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
