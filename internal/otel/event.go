// Package otel records a structured trail of one linkpost run.
//
// Events are typed structs serialized as JSONL lines, one per pipeline step,
// all tagged with the run id so a scheduled job's history can be grepped by run.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Run lifecycle
	KindRunStart EventKind = "run.start"
	KindRunEnd   EventKind = "run.end"

	// Selection pipeline
	KindGroupPick     EventKind = "selection.group"
	KindGroupEmpty    EventKind = "selection.exhausted"
	KindFeedFetch     EventKind = "feed.fetch"
	KindFeedError     EventKind = "feed.error"
	KindCandidateSkip EventKind = "candidate.skip"
	KindExtractReject EventKind = "extract.reject"
	KindExtractFail   EventKind = "extract.error"
	KindExtractAccept EventKind = "extract.accept"
	KindJudgeVerdict  EventKind = "judge.verdict"

	// Output
	KindComposeDone  EventKind = "compose.done"
	KindPublishDone  EventKind = "publish.done"
	KindPublishError EventKind = "publish.error"

	// History
	KindHistoryLoad    EventKind = "history.load"
	KindHistoryPersist EventKind = "history.persist"
)

// Event is the universal record. Every field except Kind and Time is
// optional. Serialized as a single JSONL line.
type Event struct {
	Time   time.Time      `json:"t"`
	Level  Level          `json:"level,omitempty"`
	Kind   EventKind      `json:"kind"`
	Comp   string         `json:"comp,omitempty"` // component: "feeds", "extract", "judge", "app"
	RunID  string         `json:"run_id,omitempty"`
	Dur    time.Duration  `json:"-"`
	DurMs  float64        `json:"dur_ms,omitempty"`
	Count  int            `json:"count,omitempty"`
	Source string         `json:"source,omitempty"`
	URL    string         `json:"url,omitempty"`
	Title  string         `json:"title,omitempty"`
	Score  int            `json:"score,omitempty"`
	Err    string         `json:"err,omitempty"`
	Msg    string         `json:"msg,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// MarshalJSON implements json.Marshaler, converting Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
