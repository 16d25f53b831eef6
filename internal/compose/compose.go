// Package compose drafts the social post for a selected article.
package compose

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/abelbrown/linkpost/internal/brain"
	"github.com/abelbrown/linkpost/internal/feeds"
	"github.com/abelbrown/linkpost/internal/selection"
)

// How much article text each prompt carries.
const (
	conceptBudget = 5000
	newsBudget    = 4000
)

// ErrEmptyPost means the oracle answered but nothing usable was left after
// sanitizing.
var ErrEmptyPost = errors.New("empty post")

// Oracle drafts text.
type Oracle interface {
	Generate(ctx context.Context, req brain.Request) (brain.Response, error)
}

// Post is a finished post ready for a sink.
type Post struct {
	Text     string
	ImageURL string
	Link     string
	Title    string
	Model    string
}

// Composer turns a selected item into a post.
type Composer struct {
	oracle Oracle
}

// New creates a Composer.
func New(oracle Oracle) *Composer {
	return &Composer{oracle: oracle}
}

// Compose drafts, sanitizes and finalizes the post for item.
func (c *Composer) Compose(ctx context.Context, item *selection.Item) (Post, error) {
	resp, err := c.oracle.Generate(ctx, brain.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   Prompt(item),
		MaxTokens:    1024,
	})
	if err != nil {
		return Post{}, fmt.Errorf("drafting post: %w", err)
	}

	text := Sanitize(resp.Content)
	if text == "" {
		return Post{}, ErrEmptyPost
	}
	return Post{
		Text:     EnsureLink(text, item.Link),
		ImageURL: item.ImageURL,
		Link:     item.Link,
		Title:    item.Title,
		Model:    resp.Model,
	}, nil
}

const systemPrompt = `You write LinkedIn posts for software engineers. Plain text only:
no markdown headings, no bold, no tables. Keep it under 1300 characters.`

// Prompt builds the drafting prompt for the item's group.
func Prompt(item *selection.Item) string {
	if item.Group == feeds.GroupConcept {
		return fmt.Sprintf(conceptTemplate, item.Title, clip(item.Text, conceptBudget), item.Link)
	}
	return fmt.Sprintf(newsTemplate, item.Title, clip(item.Text, newsBudget), item.Link)
}

const conceptTemplate = `Act as a Principal Software Architect.
The reader is an engineer who wants to learn system design and DevOps.

TOPIC: %s
SOURCE TEXT: "%s..."

GOAL: Simplify this concept into a "cheat sheet" style post.

RULES:
1. Start with a "Did you know?" or "Stop doing this" hook.
2. Use a Problem -> Solution structure.
3. Use diagram-like emoji flows (e.g. 📱 -> ☁️ -> 💾) to explain the flow.
4. No markdown bold (**). Use 🔹 or 👉 for bullets.

FORMAT:
[Hook: one sentence summary of the architecture or concept]

How it actually works:
1️⃣ [Step 1]
2️⃣ [Step 2]
3️⃣ [Step 3]

💡 Key Takeaway:
[One insight for interviews or production]

👇 Have you used this pattern?

🔗 %s

#systemdesign #devops #architecture #coding`

const newsTemplate = `Act as a Senior Tech Lead giving a "hot take" on industry news.

NEWS: %s
CONTEXT: "%s..."

GOAL: Spark debate. Do not just report; analyze the impact.

RULES:
1. Short, punchy sentences.
2. No markdown bold (**).
3. Focus on what this means for engineers.

FORMAT:
[Provocative hook]

[Summary in one sentence]

👉 Why it matters:
🔹 [Insight 1]
🔹 [Insight 2]

[Your opinion on where this is heading]

👇 Thoughts?

🔗 %s

#tech #news #engineering`

var (
	bulletRe    = regexp.MustCompile(`(?m)^[ \t]*[*-] `)
	blankRunsRe = regexp.MustCompile(`\n{3,}`)
)

// Sanitize strips markdown the platform would show literally.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "##", "")
	s = bulletRe.ReplaceAllString(s, "🔹 ")
	s = blankRunsRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// EnsureLink appends the article link when the draft dropped it.
func EnsureLink(text, link string) string {
	if link == "" || strings.Contains(text, link) {
		return text
	}
	return text + "\n\n🔗 " + link
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
