package judge

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// SkipToken is the sentinel the oracle replies with to reject outright.
const SkipToken = "SKIP"

var skipRe = regexp.MustCompile(`\b` + SkipToken + `\b`)

// How a reply was understood.
const (
	SourceJSON    = "json"
	SourceSpan    = "span"
	SourceSkip    = "skip"
	SourceDefault = "default"
)

// Reply is a parsed oracle answer.
type Reply struct {
	Score  int
	Reason string
	Skip   bool
	Source string
}

type payload struct {
	Score  interface{} `json:"score"`
	Reason string      `json:"reason"`
	Skip   bool        `json:"skip"`
}

// ParseReply understands the oracle's verdict. It never fails: fenced or
// chatty replies fall back to the first balanced {...} span, and anything
// unreadable yields defaultScore.
func ParseReply(raw string, defaultScore int) Reply {
	cleaned := stripFences(raw)

	if leadingSkip(cleaned) {
		return Reply{Score: 1, Reason: "oracle replied " + SkipToken, Skip: true, Source: SourceSkip}
	}
	if r, ok := decode(cleaned); ok {
		r.Source = SourceJSON
		return r
	}
	if span, ok := firstObject(cleaned); ok {
		if r, ok := decode(span); ok {
			r.Source = SourceSpan
			return r
		}
	}
	if skipRe.MatchString(cleaned) {
		return Reply{Score: 1, Reason: "oracle replied " + SkipToken, Skip: true, Source: SourceSkip}
	}
	return Reply{Score: defaultScore, Reason: "unparseable reply", Source: SourceDefault}
}

// leadingSkip is true when the reply opens with the sentinel, whatever
// follows it.
func leadingSkip(s string) bool {
	s = strings.TrimLeft(s, " \t\r\n\"'`*")
	if !strings.HasPrefix(strings.ToUpper(s), SkipToken) {
		return false
	}
	rest := s[len(SkipToken):]
	return rest == "" || !isWordByte(rest[0])
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func decode(s string) (Reply, bool) {
	var p payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Reply{}, false
	}
	score, ok := toScore(p.Score)
	if !ok && !p.Skip {
		return Reply{}, false
	}
	r := Reply{Score: score, Reason: strings.TrimSpace(p.Reason), Skip: p.Skip}
	if strings.EqualFold(strings.TrimSpace(p.Reason), SkipToken) {
		r.Skip = true
	}
	if r.Skip && r.Score == 0 {
		r.Score = 1
	}
	return r, true
}

func toScore(v interface{}) (int, bool) {
	var f float64
	switch s := v.(type) {
	case float64:
		f = s
	case string:
		s = strings.TrimSpace(s)
		if i := strings.Index(s, "/"); i > 0 {
			s = s[:i]
		}
		if strings.EqualFold(s, SkipToken) {
			return 0, false
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	n := int(f + 0.5)
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	return n, true
}

// stripFences removes markdown code fences and surrounding whitespace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// language tag on the opening fence
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		if tag := strings.TrimSpace(s[:i]); tag == "" || !strings.ContainsAny(tag, "{}") {
			s = s[i+1:]
		}
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// firstObject returns the first balanced {...} span, honoring JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
