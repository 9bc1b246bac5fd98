package discourse

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// isWordRune reports whether r belongs to a word: letters (including CJK),
// digits, and combining marks.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r)
}

// extractWords replaces every non-word rune in s with a space.
func extractWords(s string) string {
	return strings.Map(func(r rune) rune {
		if isWordRune(r) {
			return r
		}
		return ' '
	}, s)
}

// FirstToken returns the first word token of s, or "" when s contains no
// letters or digits.
func FirstToken(s string) string {
	fields := strings.Fields(extractWords(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// FindBoundary returns the byte offset of the first occurrence of token in
// haystack at or after cursor that is not preceded by a word rune. Matching
// is case-insensitive and literal. The second result is false when there is
// no such occurrence.
func FindBoundary(haystack, token string, cursor int) (int, bool) {
	start, _, ok := findBoundary(haystack, token, cursor)
	return start, ok
}

// findBoundary is [FindBoundary] that also returns the end offset of the
// matched text, which can differ from start+len(token) under case folding.
func findBoundary(haystack, token string, cursor int) (start, end int, ok bool) {
	if token == "" || cursor < 0 || cursor > len(haystack) {
		return 0, 0, false
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(token))
	if err != nil {
		return 0, 0, false
	}
	// Matches never overlap a valid occurrence: a token made of word runes
	// that starts inside an earlier match is preceded by a word rune.
	for _, loc := range re.FindAllStringIndex(haystack[cursor:], -1) {
		at := cursor + loc[0]
		if at > 0 {
			prev, _ := utf8.DecodeLastRuneInString(haystack[:at])
			if isWordRune(prev) {
				continue
			}
		}
		return at, cursor + loc[1], true
	}
	return 0, 0, false
}
