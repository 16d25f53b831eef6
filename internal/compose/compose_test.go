package compose

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/abelbrown/linkpost/internal/brain"
	"github.com/abelbrown/linkpost/internal/feeds"
	"github.com/abelbrown/linkpost/internal/selection"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "This is **big** news", "This is big news"},
		{"headings", "## Title\nbody", "Title\nbody"},
		{"bullets", "Why:\n* one\n  * two\n- three", "Why:\n🔹 one\n🔹 two\n🔹 three"},
		{"inline star kept", "2 * 3 = 6", "2 * 3 = 6"},
		{"blank runs", "a\n\n\n\nb", "a\n\nb"},
		{"crlf and trim", "  hi\r\nthere  ", "hi\nthere"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEnsureLink(t *testing.T) {
	link := "https://example.com/a"
	if got := EnsureLink("see "+link, link); got != "see "+link {
		t.Errorf("link duplicated: %q", got)
	}
	if got := EnsureLink("no link here", link); !strings.HasSuffix(got, "🔗 "+link) {
		t.Errorf("link not appended: %q", got)
	}
}

func TestPromptByGroup(t *testing.T) {
	item := &selection.Item{Title: "Sharding at scale", Link: "https://x/y", Text: strings.Repeat("~", 9000), Group: feeds.GroupConcept}
	p := Prompt(item)
	if !strings.Contains(p, "Principal Software Architect") || !strings.Contains(p, "🔗 https://x/y") {
		t.Error("concept prompt missing role or link")
	}
	if n := strings.Count(p, "~"); n != 5000 {
		t.Errorf("concept prompt carries %d chars of text, want 5000", n)
	}

	item.Group = feeds.GroupNews
	p = Prompt(item)
	if !strings.Contains(p, "hot take") {
		t.Error("news prompt missing role")
	}
	if strings.Contains(p, strings.Repeat("~", 4001)) {
		t.Error("news prompt not clipped to 4000")
	}
}

type stubOracle struct {
	content string
	err     error
}

func (s stubOracle) Generate(ctx context.Context, req brain.Request) (brain.Response, error) {
	return brain.Response{Content: s.content, Model: "m"}, s.err
}

func TestCompose(t *testing.T) {
	item := &selection.Item{Title: "T", Link: "https://x/y", ImageURL: "https://x/i.jpg", Group: feeds.GroupNews}

	post, err := New(stubOracle{content: "**Hot** take\n* point"}).Compose(context.Background(), item)
	if err != nil {
		t.Fatal(err)
	}
	if post.Text != "Hot take\n🔹 point\n\n🔗 https://x/y" {
		t.Errorf("text = %q", post.Text)
	}
	if post.ImageURL != item.ImageURL || post.Model != "m" {
		t.Errorf("post = %+v", post)
	}

	if _, err := New(stubOracle{content: " ** "}).Compose(context.Background(), item); !errors.Is(err, ErrEmptyPost) {
		t.Errorf("err = %v, want ErrEmptyPost", err)
	}
	if _, err := New(stubOracle{err: brain.ErrNoModels}).Compose(context.Background(), item); !errors.Is(err, brain.ErrNoModels) {
		t.Errorf("err = %v, want wrapped ErrNoModels", err)
	}
}
