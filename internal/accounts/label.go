package accounts

import (
	"fmt"
	"regexp"
	"strings"
)

const maxLabelLength = 100

var (
	labelDisallowed = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	labelSpaces     = regexp.MustCompile(`\s+`)
)

// destinationLabel turns a display name into a tab title the spreadsheet will
// accept and that no other account in taken already uses. taken keys are lowercased.
func destinationLabel(displayName string, taken map[string]bool) string {
	base := labelDisallowed.ReplaceAllString(displayName, "")
	base = strings.TrimSpace(labelSpaces.ReplaceAllString(base, " "))
	if base == "" {
		base = "Bank Account"
	}
	base = truncateLabel(base, maxLabelLength)

	label := base
	for n := 1; taken[strings.ToLower(label)]; n++ {
		suffix := fmt.Sprintf(" %d", n)
		label = truncateLabel(base, maxLabelLength-len(suffix)) + suffix
	}
	return label
}

func truncateLabel(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-3])) + "..."
}
