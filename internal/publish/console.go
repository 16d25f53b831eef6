package publish

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/linkpost/internal/compose"
)

// ConsoleSink renders the post instead of publishing it. Used for dry runs.
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink creates a ConsoleSink writing to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Publish writes a boxed preview of post.
func (c *ConsoleSink) Publish(ctx context.Context, post compose.Post) (Receipt, error) {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		Width(72)
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	metaStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	header := titleStyle.Render(post.Title)
	meta := metaStyle.Render(fmt.Sprintf("image: %s\nmodel: %s", orNone(post.ImageURL), orNone(post.Model)))
	content := lipgloss.JoinVertical(lipgloss.Left, header, "", post.Text, "", meta)

	if _, err := fmt.Fprintln(c.w, box.Render(content)); err != nil {
		return Receipt{}, fmt.Errorf("writing preview: %w", err)
	}
	return Receipt{Sink: "console", WithImage: post.ImageURL != ""}, nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
