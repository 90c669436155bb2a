// Package textsignal finds keyword signals in customer and seller text.
//
// Matching works on Unicode word tokens rather than regular expressions because
// Go's \b only understands ASCII, and most marketplace text is Cyrillic.
package textsignal

import (
	"strings"
	"unicode"
)

// Tokens splits text into lower-cased letter/digit words
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Sentences splits text into sentences on terminal punctuation and line breaks.
// Terminators stay attached to their sentence; empty pieces are dropped.
func Sentences(text string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' || r == '\r' {
			flush()
			continue
		}
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '…' {
			// keep runs like "?!" or "..." together
			if i+1 < len(runes) && strings.ContainsRune(".!?…", runes[i+1]) {
				continue
			}
			flush()
		}
	}
	flush()
	return out
}
