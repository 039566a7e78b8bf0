package services

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var spaceRE = regexp.MustCompile(`\s+`)

// normalizeName canonicalizes a chatroom name: NFC, trimmed, inner
// whitespace collapsed to single spaces. Lookups and writes both go through
// it so visually identical names map to the same chatroom.
func normalizeName(s string) string {
	s = norm.NFC.String(s)
	return strings.TrimSpace(spaceRE.ReplaceAllString(s, " "))
}

// sanitizeBody NFC-normalizes a message body, strips control characters
// other than newline and tab, and trims surrounding whitespace.
func sanitizeBody(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// cleanMentions trims, drops empties and de-duplicates, keeping order.
func cleanMentions(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
