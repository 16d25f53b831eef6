// Package app wires one linkpost run: wait, select, compose, publish,
// record.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/abelbrown/linkpost/internal/brain"
	"github.com/abelbrown/linkpost/internal/compose"
	"github.com/abelbrown/linkpost/internal/config"
	"github.com/abelbrown/linkpost/internal/extract"
	"github.com/abelbrown/linkpost/internal/feeds"
	"github.com/abelbrown/linkpost/internal/history"
	"github.com/abelbrown/linkpost/internal/httpclient"
	"github.com/abelbrown/linkpost/internal/judge"
	"github.com/abelbrown/linkpost/internal/logging"
	"github.com/abelbrown/linkpost/internal/otel"
	"github.com/abelbrown/linkpost/internal/publish"
	"github.com/abelbrown/linkpost/internal/selection"
)

// ErrPersist is returned when the run finished but history could not be
// written. The post, if any, went out.
var ErrPersist = errors.New("history not saved")

// Selector finds the article to post.
type Selector interface {
	Select(ctx context.Context) (*selection.Item, error)
}

// Composer drafts the post.
type Composer interface {
	Compose(ctx context.Context, item *selection.Item) (compose.Post, error)
}

// Runner holds everything one run needs.
type Runner struct {
	History  *history.Store
	Selector Selector
	Composer Composer
	Sink     publish.Sink
	Events   *otel.Logger
	Rand     *rand.Rand

	DryRun    bool
	JitterMin time.Duration
	JitterMax time.Duration

	// Sleep is swapped out in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run performs one pass. Finding nothing to post is not an error.
func (r *Runner) Run(ctx context.Context) error {
	log := logging.WithPrefix("app")
	start := time.Now()
	r.Events.Emit(otel.Event{Kind: otel.KindRunStart, Comp: "app", Extra: map[string]any{"dry_run": r.DryRun}})

	err := r.run(ctx)

	end := otel.Event{Kind: otel.KindRunEnd, Comp: "app", Dur: time.Since(start)}
	if err != nil {
		end.Level = otel.LevelError
		end.Err = err.Error()
	}
	r.Events.Emit(end)
	if err == nil {
		log.Info("run complete", "elapsed", time.Since(start).Round(time.Millisecond))
	}
	return err
}

func (r *Runner) run(ctx context.Context) error {
	log := logging.WithPrefix("app")

	if err := r.jitter(ctx); err != nil {
		return err
	}

	if r.History.LoadErr != nil {
		log.Warn("history unreadable, starting empty", "path", r.History.Path(), "error", r.History.LoadErr)
	}
	if r.History.LoadErr != nil {
		r.Events.Error(otel.KindHistoryLoad, "history", r.History.LoadErr)
	} else {
		r.Events.Emit(otel.Event{Kind: otel.KindHistoryLoad, Comp: "history", Count: r.History.Len()})
	}

	item, err := r.Selector.Select(ctx)
	if errors.Is(err, selection.ErrExhausted) {
		log.Info("no new content found")
		return r.persist()
	}
	if err != nil {
		return errors.Join(fmt.Errorf("selecting article: %w", err), r.persist())
	}
	log.Info("selected", "title", item.Title, "link", item.Link, "group", item.Group, "score", item.Score)

	post, err := r.Composer.Compose(ctx, item)
	if err != nil {
		return errors.Join(fmt.Errorf("composing post: %w", err), r.persist())
	}
	r.Events.Emit(otel.Event{Kind: otel.KindComposeDone, Comp: "compose", URL: item.Link, Title: item.Title, Count: len([]rune(post.Text)), Msg: post.Model})

	receipt, err := r.Sink.Publish(ctx, post)
	if err != nil {
		r.Events.Emit(otel.Event{Kind: otel.KindPublishError, Level: otel.LevelError, Comp: "publish", URL: item.Link, Err: err.Error()})
		return errors.Join(fmt.Errorf("publishing: %w", err), r.persist())
	}
	r.Events.Emit(otel.Event{
		Kind: otel.KindPublishDone, Comp: "publish", URL: item.Link, Title: item.Title,
		Msg: receipt.ID, Extra: map[string]any{"sink": receipt.Sink, "image": receipt.WithImage},
	})
	log.Info("published", "sink", receipt.Sink, "id", receipt.ID, "image", receipt.WithImage)

	if !r.DryRun {
		r.History.Append(history.Record{
			Link:   item.Link,
			Title:  item.Title,
			Date:   time.Now(),
			Status: history.StatusPublished,
		})
	}
	return r.persist()
}

// jitter waits a random time in [JitterMin, JitterMax] before doing any
// work. Dry runs skip it.
func (r *Runner) jitter(ctx context.Context) error {
	if r.DryRun || r.JitterMax <= 0 {
		return nil
	}
	d := r.JitterMin
	if span := r.JitterMax - r.JitterMin; span > 0 {
		d += time.Duration(r.Rand.Int63n(int64(span) + 1))
	}
	d = d.Round(time.Second)
	logging.Info("waiting before run", "delay", d)

	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return sleep(ctx, d)
}

// persist writes history. Dry runs leave the file untouched.
func (r *Runner) persist() error {
	if r.DryRun {
		return nil
	}
	if err := r.History.Persist(); err != nil {
		logging.Error("saving history failed", "path", r.History.Path(), "error", err)
		r.Events.Error(otel.KindHistoryPersist, "history", err)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	r.Events.Emit(otel.Event{Kind: otel.KindHistoryPersist, Comp: "history", Count: r.History.Len()})
	return nil
}

// Build assembles a Runner from cfg. Dry runs render the post to out
// instead of publishing it.
func Build(cfg *config.Config, out io.Writer, events *otel.Logger) (*Runner, error) {
	srcs, err := Sources(cfg)
	if err != nil {
		return nil, err
	}

	seed := cfg.Selection.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	client := httpclient.New(httpclient.Options{
		Timeout:   time.Duration(cfg.Extract.TimeoutSeconds) * time.Second,
		UserAgent: cfg.Extract.UserAgent,
		MinGap:    time.Duration(cfg.Extract.RequestGapMs) * time.Millisecond,
	})

	hist := history.Load(cfg.HistoryPath, cfg.Selection.HistoryCap)
	oracle := NewOracle(cfg)

	sel := &selection.Selector{
		Sources: feeds.NewRegistry(srcs),
		Reader:  feeds.NewReader(client, cfg.Selection.EntriesPerFeed),
		Extractor: extract.New(client, extract.Options{
			NewsMinChars:    cfg.Extract.NewsMinChars,
			ConceptMinChars: cfg.Extract.ConceptMinChars,
			MaxChars:        cfg.Extract.MaxChars,
			FallbackImages:  cfg.Extract.FallbackImages,
		}, rng),
		History: hist,
		Rand:    rng,
		Events:  events,
		Options: selection.Options{
			MaxAttempts:   cfg.Selection.MaxAttempts,
			ConceptWeight: cfg.Selection.ConceptWeight,
		},
	}
	if cfg.Judge.Enabled {
		sel.Judge = judge.New(oracle, cfg.Judge.Threshold, cfg.Judge.DefaultScore)
	}

	var sink publish.Sink
	if cfg.DryRun {
		sink = publish.NewConsoleSink(out)
	} else {
		sink = publish.NewLinkedIn(publish.LinkedInOptions{
			PersonURN:   cfg.LinkedIn.PersonURN,
			AccessToken: cfg.LinkedIn.AccessToken,
			APIBase:     cfg.LinkedIn.APIBase,
			Images:      client,
		})
	}

	return &Runner{
		History:   hist,
		Selector:  sel,
		Composer:  compose.New(oracle),
		Sink:      sink,
		Events:    events,
		Rand:      rng,
		DryRun:    cfg.DryRun,
		JitterMin: time.Duration(cfg.Jitter.MinSeconds) * time.Second,
		JitterMax: time.Duration(cfg.Jitter.MaxSeconds) * time.Second,
	}, nil
}

// NewOracle registers every provider that has a key, preferred first.
func NewOracle(cfg *config.Config) *brain.Manager {
	m := brain.NewManager()
	m.AddProvider(brain.NewGeminiProvider(brain.GeminiOptions{
		APIKey:        cfg.Models.Gemini.APIKey,
		Model:         cfg.Models.Gemini.Model,
		Endpoint:      cfg.Models.Gemini.Endpoint,
		RateLimitWait: time.Duration(cfg.Models.RateLimitWaitSeconds) * time.Second,
	}))
	m.AddProvider(brain.NewOpenAIProvider(brain.SDKOptions{
		APIKey:   cfg.Models.OpenAI.APIKey,
		Model:    cfg.Models.OpenAI.Model,
		Endpoint: cfg.Models.OpenAI.Endpoint,
	}))
	m.AddProvider(brain.NewClaudeProvider(brain.SDKOptions{
		APIKey:   cfg.Models.Claude.APIKey,
		Model:    cfg.Models.Claude.Model,
		Endpoint: cfg.Models.Claude.Endpoint,
	}))
	m.SetPreferred(cfg.Models.Preferred)
	return m
}

// Sources returns the configured feed list, or the embedded default.
func Sources(cfg *config.Config) ([]feeds.Source, error) {
	if len(cfg.Sources) == 0 {
		return feeds.DefaultSources()
	}
	out := make([]feeds.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		name := s.Name
		if name == "" {
			name = s.URL
		}
		out = append(out, feeds.Source{Name: name, URL: s.URL, Group: feeds.Group(s.Group)})
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
