package extract

import "fmt"

// Status classifies an extraction attempt.
type Status int

const (
	// Accepted means text and image were found and passed the gates.
	Accepted Status = iota
	// Rejected means the page was read but failed a quality gate.
	Rejected
	// Failed means the page could not be fetched or parsed.
	Failed
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Rejection reasons.
const (
	ReasonTooShort = "too_short"
	ReasonNoImage  = "no_image"
)

// Content is the usable part of an article.
type Content struct {
	Text     string
	ImageURL string
	// Chars is the rune length of the text before truncation.
	Chars int
	// Container is the selector that produced the text.
	Container string
	// ImageFrom names the image strategy that won.
	ImageFrom string
}

// Outcome is the result of Extract. Content is set only when Accepted.
type Outcome struct {
	Status  Status
	Content *Content
	Reason  string
	Err     error
}

func accepted(c *Content) Outcome { return Outcome{Status: Accepted, Content: c} }

func rejected(reason string) Outcome { return Outcome{Status: Rejected, Reason: reason} }

func failed(err error) Outcome { return Outcome{Status: Failed, Err: err} }

// OK reports whether the outcome carries usable content.
func (o Outcome) OK() bool {
	return o.Status == Accepted && o.Content != nil
}
