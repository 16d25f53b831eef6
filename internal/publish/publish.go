// Package publish delivers a finished post to its destination.
package publish

import (
	"context"
	"errors"

	"github.com/abelbrown/linkpost/internal/compose"
)

// ErrRejected means the destination refused the post.
var ErrRejected = errors.New("post rejected")

// Receipt describes a delivered post.
type Receipt struct {
	Sink      string
	ID        string
	WithImage bool
}

// Sink accepts a finished post.
type Sink interface {
	Publish(ctx context.Context, post compose.Post) (Receipt, error)
}
