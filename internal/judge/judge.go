// Package judge asks the generation oracle whether an article is worth
// posting about.
package judge

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/abelbrown/linkpost/internal/brain"
	"github.com/abelbrown/linkpost/internal/logging"
)

// Defaults for the acceptance gate.
const (
	DefaultThreshold = 7
	DefaultScore     = 5
)

// textBudget bounds how much article text goes into the rubric prompt.
const textBudget = 3000

// replyTokens leaves room for models that spend output tokens on thinking
// before the JSON verdict.
const replyTokens = 2048

// Oracle is the generation backend the judge scores with.
type Oracle interface {
	Generate(ctx context.Context, req brain.Request) (brain.Response, error)
}

// Verdict is the judge's decision on one article.
type Verdict struct {
	Score    int
	Reason   string
	Skip     bool
	Accepted bool
	// Unavailable is set when the oracle could not be reached; the score
	// is then the neutral default and no judgement was actually made.
	Unavailable bool
	Source      string
}

// Judge scores articles against a fixed rubric.
type Judge struct {
	oracle       Oracle
	threshold    int
	defaultScore int
}

// New creates a Judge. Zero threshold or default score use the defaults.
func New(oracle Oracle, threshold, defaultScore int) *Judge {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if defaultScore <= 0 {
		defaultScore = DefaultScore
	}
	return &Judge{oracle: oracle, threshold: threshold, defaultScore: defaultScore}
}

// Threshold returns the minimum accepted score.
func (j *Judge) Threshold() int { return j.threshold }

const systemPrompt = `You are the editor of a technical LinkedIn account read by software engineers.
You decide whether an article is worth a post. Judge it on:
- technical substance (architecture, systems, tooling, real engineering tradeoffs)
- relevance to working engineers
- freshness and whether there is something to learn or debate
Marketing copy, product announcements without technical content, listicles,
job posts and paywall stubs score low.

Reply with JSON only: {"score": <integer 1-10>, "reason": "<one sentence>"}
If the article is off-topic or unusable, reply with the single word SKIP.`

// Evaluate scores title and text. It never returns an error: oracle
// failures give a neutral verdict marked Unavailable, and unreadable
// replies fall back to the default score.
func (j *Judge) Evaluate(ctx context.Context, title, text string) Verdict {
	resp, err := j.oracle.Generate(ctx, brain.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   fmt.Sprintf("TITLE: %s\n\nARTICLE:\n%s", title, clip(text, textBudget)),
		MaxTokens:    replyTokens,
	})
	if err != nil {
		logging.Warn("judge unavailable", "title", title, "error", err)
		return j.unavailable()
	}

	r := ParseReply(resp.Content, j.defaultScore)
	if r.Source == SourceDefault && resp.Truncated {
		// a reply cut off at the token limit says nothing about the article
		logging.Warn("judge reply truncated", "title", title, "model", resp.Model)
		return j.unavailable()
	}
	v := Verdict{
		Score:    r.Score,
		Reason:   r.Reason,
		Skip:     r.Skip,
		Source:   r.Source,
		Accepted: !r.Skip && r.Score >= j.threshold,
	}
	logging.Debug("judge verdict", "title", title, "score", v.Score, "skip", v.Skip, "source", v.Source)
	return v
}

func (j *Judge) unavailable() Verdict {
	return Verdict{
		Score:       j.defaultScore,
		Reason:      "judge unavailable",
		Unavailable: true,
		Accepted:    j.defaultScore >= j.threshold,
		Source:      SourceDefault,
	}
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
