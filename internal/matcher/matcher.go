// Package matcher decides whether a live resource name was produced by a
// declared name.
//
// A declared name is either a literal or a template containing the
// placeholders {owner} and {random}. Contexts render templates with Render;
// cleanup recognizes every rendering with a Matcher built from the same
// declaration. Ownership is not part of the match: it is filtered separately.
package matcher

import (
	"regexp"
	"strings"
)

const (
	// PlaceholderOwner is replaced with the run's owner id.
	PlaceholderOwner = "{owner}"
	// PlaceholderRandom is replaced with a random alphanumeric suffix.
	PlaceholderRandom = "{random}"
)

// Owner ids are free-form, so {owner} accepts any non-empty text.
var placeholders = map[string]string{
	PlaceholderOwner:  `(?s:.+)`,
	PlaceholderRandom: `[A-Za-z0-9]+`,
}

// Matcher is a pure predicate over candidate names.
type Matcher interface {
	Match(candidate string) bool
	Declared() string
}

// Factory builds a Matcher for one declared name.
type Factory func(declared string) Matcher

// New returns the matcher for declared.
func New(declared string) Matcher {
	if !IsTemplate(declared) {
		return exact(declared)
	}
	return &pattern{declared: declared, re: compile(declared)}
}

// IsTemplate reports whether declared contains a placeholder.
func IsTemplate(declared string) bool {
	for p := range placeholders {
		if strings.Contains(declared, p) {
			return true
		}
	}
	return false
}

// Render expands the placeholders of declared.
func Render(declared, owner, random string) string {
	return strings.NewReplacer(
		PlaceholderOwner, owner,
		PlaceholderRandom, random,
	).Replace(declared)
}

type exact string

func (e exact) Match(candidate string) bool {
	return string(e) == candidate
}

func (e exact) Declared() string {
	return string(e)
}

type pattern struct {
	declared string
	re       *regexp.Regexp
}

func (p *pattern) Match(candidate string) bool {
	return p.re.MatchString(candidate)
}

func (p *pattern) Declared() string {
	return p.declared
}

func compile(declared string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	rest := declared
	for rest != "" {
		idx, ph := nextPlaceholder(rest)
		if idx < 0 {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		b.WriteString(regexp.QuoteMeta(rest[:idx]))
		b.WriteString(placeholders[ph])
		rest = rest[idx+len(ph):]
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func nextPlaceholder(s string) (int, string) {
	best, which := -1, ""
	for ph := range placeholders {
		if i := strings.Index(s, ph); i >= 0 && (best < 0 || i < best) {
			best, which = i, ph
		}
	}
	return best, which
}
