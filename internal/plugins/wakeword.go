package plugins

import (
	"regexp"
	"strings"
)

var punctuationRE = regexp.MustCompile(`[^\w\s]`)
var whitespaceRE = regexp.MustCompile(`\s+`)

// normalize lowercases, replaces punctuation with spaces, and collapses
// whitespace (§4.10.3 wake_word condition).
func normalize(s string) string {
	s = strings.ToLower(s)
	s = punctuationRE.ReplaceAllString(s, " ")
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// matchWakeWord checks whether the normalized transcript starts with
// any of the (also normalized) configured wake words, returning the
// command text with the wake-word prefix stripped.
func matchWakeWord(transcript string, wakeWords []string) (command string, matched bool) {
	normalized := normalize(transcript)
	for _, w := range wakeWords {
		nw := normalize(w)
		if nw == "" {
			continue
		}
		if normalized == nw {
			return "", true
		}
		if strings.HasPrefix(normalized, nw+" ") {
			return strings.TrimSpace(normalized[len(nw):]), true
		}
	}
	return "", false
}
