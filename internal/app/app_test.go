package app

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abelbrown/linkpost/internal/compose"
	"github.com/abelbrown/linkpost/internal/config"
	"github.com/abelbrown/linkpost/internal/feeds"
	"github.com/abelbrown/linkpost/internal/history"
	"github.com/abelbrown/linkpost/internal/otel"
	"github.com/abelbrown/linkpost/internal/publish"
	"github.com/abelbrown/linkpost/internal/selection"
)

type fakeSelector struct {
	fn func() (*selection.Item, error)
}

func (f fakeSelector) Select(ctx context.Context) (*selection.Item, error) { return f.fn() }

type fakeComposer struct {
	err error
}

func (f fakeComposer) Compose(ctx context.Context, item *selection.Item) (compose.Post, error) {
	if f.err != nil {
		return compose.Post{}, f.err
	}
	return compose.Post{Text: "draft about " + item.Title, Link: item.Link, Title: item.Title}, nil
}

type fakeSink struct {
	posts []compose.Post
	err   error
}

func (f *fakeSink) Publish(ctx context.Context, post compose.Post) (publish.Receipt, error) {
	if f.err != nil {
		return publish.Receipt{}, f.err
	}
	f.posts = append(f.posts, post)
	return publish.Receipt{Sink: "fake", ID: "urn:li:share:1"}, nil
}

var picked = &selection.Item{Title: "Cell Architecture", Link: "https://eng.example.com/cells", Group: feeds.GroupConcept}

func newRunner(t *testing.T, sel Selector, sink *fakeSink) (*Runner, *history.Store, *bytes.Buffer) {
	t.Helper()
	var events bytes.Buffer
	store := history.New(filepath.Join(t.TempDir(), "history.json"), 10)
	return &Runner{
		History:  store,
		Selector: sel,
		Composer: fakeComposer{},
		Sink:     sink,
		Events:   otel.NewLogger(&events),
		Rand:     rand.New(rand.NewSource(1)),
		Sleep:    func(ctx context.Context, d time.Duration) error { return nil },
	}, store, &events
}

func TestRunPublishesAndRecords(t *testing.T) {
	sink := &fakeSink{}
	r, store, events := newRunner(t, fakeSelector{func() (*selection.Item, error) { return picked, nil }}, sink)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.posts) != 1 || !strings.Contains(sink.posts[0].Text, "Cell Architecture") {
		t.Fatalf("posts = %+v", sink.posts)
	}

	reloaded := history.Load(store.Path(), 10)
	if reloaded.LoadErr != nil {
		t.Fatalf("reload: %v", reloaded.LoadErr)
	}
	if !reloaded.Contains(picked.Link, "") {
		t.Error("published link not persisted")
	}
	recs := reloaded.Records()
	if recs[len(recs)-1].Status != history.StatusPublished {
		t.Errorf("status = %q, want published", recs[len(recs)-1].Status)
	}

	for _, kind := range []string{"run.start", "compose.done", "publish.done", "history.persist", "run.end"} {
		if !strings.Contains(events.String(), `"kind":"`+kind+`"`) {
			t.Errorf("event %s not emitted", kind)
		}
	}
}

func TestRunExhaustedIsNotAnError(t *testing.T) {
	sink := &fakeSink{}
	var store *history.Store
	sel := fakeSelector{func() (*selection.Item, error) {
		store.Append(history.Record{Link: "https://x.test/meh", Status: history.StatusRejected})
		return nil, selection.ErrExhausted
	}}
	r, s, _ := newRunner(t, sel, sink)
	store = s

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.posts) != 0 {
		t.Error("nothing should be published")
	}
	// rejections from the search still get saved
	if !history.Load(store.Path(), 10).Contains("https://x.test/meh", "") {
		t.Error("rejection not persisted")
	}
}

func TestRunPublishFailureLeavesItemUnrecorded(t *testing.T) {
	sink := &fakeSink{err: publish.ErrRejected}
	r, store, events := newRunner(t, fakeSelector{func() (*selection.Item, error) { return picked, nil }}, sink)

	err := r.Run(context.Background())
	if !errors.Is(err, publish.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if store.Contains(picked.Link, "") {
		t.Error("unpublished item must not enter history")
	}
	if !strings.Contains(events.String(), `"kind":"publish.error"`) {
		t.Error("publish.error not emitted")
	}
}

func TestRunComposeFailure(t *testing.T) {
	sink := &fakeSink{}
	r, store, _ := newRunner(t, fakeSelector{func() (*selection.Item, error) { return picked, nil }}, sink)
	r.Composer = fakeComposer{err: compose.ErrEmptyPost}

	if err := r.Run(context.Background()); !errors.Is(err, compose.ErrEmptyPost) {
		t.Fatalf("err = %v", err)
	}
	if len(sink.posts) != 0 || store.Contains(picked.Link, "") {
		t.Error("failed compose must not publish or record")
	}
}

func TestRunPersistFailure(t *testing.T) {
	sink := &fakeSink{}
	r, _, events := newRunner(t, fakeSelector{func() (*selection.Item, error) { return picked, nil }}, sink)

	// parent of the history path is a regular file
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	r.History = history.New(filepath.Join(blocker, "history.json"), 10)

	err := r.Run(context.Background())
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if len(sink.posts) != 1 {
		t.Error("post should have gone out before the save failed")
	}
	if !strings.Contains(events.String(), `"level":"error","kind":"history.persist"`) {
		t.Errorf("persist failure not emitted as error event:\n%s", events.String())
	}
}

func TestRunDryRunLeavesHistoryAlone(t *testing.T) {
	sink := &fakeSink{}
	r, store, _ := newRunner(t, fakeSelector{func() (*selection.Item, error) { return picked, nil }}, sink)
	r.DryRun = true
	r.JitterMin, r.JitterMax = time.Minute, 2*time.Minute
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		t.Error("dry run should not wait")
		return nil
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.posts) != 1 {
		t.Fatal("dry run should still render the post")
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Errorf("history file written on dry run: %v", err)
	}
}

func TestJitterWithinRange(t *testing.T) {
	r, _, _ := newRunner(t, nil, &fakeSink{})
	r.JitterMin, r.JitterMax = 60*time.Second, 120*time.Second

	for i := 0; i < 20; i++ {
		var got time.Duration
		r.Sleep = func(ctx context.Context, d time.Duration) error {
			got = d
			return nil
		}
		if err := r.jitter(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got < r.JitterMin || got > r.JitterMax {
			t.Fatalf("delay %v outside [%v, %v]", got, r.JitterMin, r.JitterMax)
		}
	}
}

func TestJitterDisabled(t *testing.T) {
	r, _, _ := newRunner(t, nil, &fakeSink{})
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		t.Error("zero range should not sleep")
		return nil
	}
	if err := r.jitter(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestJitterCancelled(t *testing.T) {
	r, _, _ := newRunner(t, nil, &fakeSink{})
	r.JitterMin, r.JitterMax = time.Hour, time.Hour
	r.Sleep = nil

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.jitter(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestBuildDryRun(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DryRun = true
	cfg.HistoryPath = filepath.Join(t.TempDir(), "history.json")
	cfg.Models.Gemini.APIKey = "k"

	r, err := Build(cfg, &bytes.Buffer{}, otel.NewNullLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := r.Sink.(*publish.ConsoleSink); !ok {
		t.Errorf("sink = %T, want console on dry run", r.Sink)
	}
	sel := r.Selector.(*selection.Selector)
	if sel.Judge == nil {
		t.Error("judge should be wired when enabled")
	}

	cfg.DryRun = false
	cfg.Judge.Enabled = false
	r, err = Build(cfg, &bytes.Buffer{}, otel.NewNullLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Sink.(*publish.LinkedIn); !ok {
		t.Errorf("sink = %T, want LinkedIn", r.Sink)
	}
	if r.Selector.(*selection.Selector).Judge != nil {
		t.Error("disabled judge should leave the interface nil")
	}
}

func TestNewOracleOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Models.Gemini.APIKey = "g"
	cfg.Models.Claude.APIKey = "c"
	cfg.Models.Preferred = "claude"

	got := NewOracle(cfg).ListAvailable()
	if strings.Join(got, ",") != "claude,gemini" {
		t.Errorf("providers = %v, want [claude gemini]", got)
	}
}

func TestSourcesOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	srcs, err := Sources(cfg)
	if err != nil || len(srcs) == 0 {
		t.Fatalf("default sources: %v, %d", err, len(srcs))
	}

	cfg.Sources = []config.SourceConfig{{URL: "https://blog.test/rss", Group: "concept"}}
	srcs, err = Sources(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(srcs) != 1 || srcs[0].Name != "https://blog.test/rss" || srcs[0].Group != feeds.GroupConcept {
		t.Errorf("sources = %+v", srcs)
	}
}
