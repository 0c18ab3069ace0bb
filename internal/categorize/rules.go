package categorize

import (
	"strings"
)

// MatchKind selects how a rule pattern is compared against transaction text.
type MatchKind string

const (
	// MatchContains is a case-insensitive substring match.
	MatchContains MatchKind = "contains"
	// MatchWord only matches whole words, so "76" does not fire on "CHECK #1076".
	MatchWord MatchKind = "word"
)

// Rule maps one pattern to a value (a category or a project label).
type Rule struct {
	Kind    MatchKind `yaml:"match,omitempty"`
	Pattern string    `yaml:"pattern"`
	Value   string    `yaml:"value"`
}

// Contains builds a substring rule.
func Contains(pattern, value string) Rule {
	return Rule{Kind: MatchContains, Pattern: strings.ToLower(pattern), Value: value}
}

// Word builds a whole-word rule.
func Word(pattern, value string) Rule {
	return Rule{Kind: MatchWord, Pattern: strings.ToLower(pattern), Value: value}
}

// matches expects text to be lowercased already.
func (r Rule) matches(text string) bool {
	if r.Pattern == "" {
		return false
	}
	if r.Kind != MatchWord {
		return strings.Contains(text, r.Pattern)
	}

	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], r.Pattern)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(r.Pattern)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		offset = start + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}

// Table is an ordered rule list. The first rule that matches wins.
type Table struct {
	Name  string
	Rules []Rule
}

// Match evaluates the rules in order against each text and returns the value
// of the first rule that matches any of them.
func (t Table) Match(texts ...string) (string, bool) {
	lowered := make([]string, 0, len(texts))
	for _, s := range texts {
		if s != "" {
			lowered = append(lowered, strings.ToLower(s))
		}
	}

	for _, r := range t.Rules {
		for _, s := range lowered {
			if r.matches(s) {
				return r.Value, true
			}
		}
	}
	return "", false
}
