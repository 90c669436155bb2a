// Package guardrail checks outbound reply text before it may leave the system.
//
// Validate is the single blocking gate shared by the manual-send and auto-reply
// paths. It is pure: the verdict depends only on its arguments. Sanitize is a
// best-effort rewrite that only ever removes text, so it cannot introduce a
// violation class that Validate did not already report for the input.
package guardrail

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/textsignal"
)

// Violation is a single failed rule
type Violation struct {
	Class  Class  `json:"class"`
	Detail string `json:"detail"`
}

// Verdict is the outcome of Validate
type Verdict struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Classes returns the distinct violation classes, sorted
func (v Verdict) Classes() []Class {
	seen := make(map[Class]bool)
	var out []Class
	for _, violation := range v.Violations {
		if !seen[violation.Class] {
			seen[violation.Class] = true
			out = append(out, violation.Class)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings renders violations as "class: detail"
func (v Verdict) Strings() []string {
	out := make([]string, 0, len(v.Violations))
	for _, violation := range v.Violations {
		out = append(out, fmt.Sprintf("%s: %s", violation.Class, violation.Detail))
	}
	return out
}

// Validate checks text against every rule for the given channel.
// source is the customer's message the reply answers.
func Validate(text string, channel models.Channel, source string) Verdict {
	var violations []Violation

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		violations = append(violations, Violation{Class: ClassEmpty, Detail: "reply text is empty"})
	}

	if n, limit := utf8.RuneCountInString(trimmed), LimitFor(channel); n > limit {
		violations = append(violations, Violation{
			Class:  ClassLength,
			Detail: fmt.Sprintf("%d characters exceeds the %s limit of %d", n, channel, limit),
		})
	}

	allowPromise := ReturnRequested(source)
	for _, sentence := range textsignal.Sentences(trimmed) {
		for _, class := range sentenceViolations(sentence, allowPromise) {
			violations = append(violations, Violation{Class: class.class, Detail: fmt.Sprintf("%q matched %q", sentence, class.term)})
		}
	}

	return Verdict{Valid: len(violations) == 0, Violations: violations}
}

// Sanitize removes sentences that break a content rule, normalizes whitespace and
// trims the result to the channel length bound at a sentence or word boundary.
// When nothing usable is left the trimmed input is returned unchanged, so the
// caller's Validate reports the original violations instead of an empty reply.
func Sanitize(text string, channel models.Channel, source string) string {
	allowPromise := ReturnRequested(source)

	var kept []string
	for _, sentence := range textsignal.Sentences(text) {
		if len(sentenceViolations(sentence, allowPromise)) > 0 {
			continue
		}
		sentence = strings.Join(strings.Fields(sentence), " ")
		// joined sentences must split back the same way
		if !strings.ContainsAny(sentence[len(sentence)-1:], ".!?") && !strings.HasSuffix(sentence, "…") {
			sentence += "."
		}
		kept = append(kept, sentence)
	}

	if out := truncate(kept, LimitFor(channel)); out != "" {
		return out
	}
	return strings.TrimSpace(text)
}

type sentenceHit struct {
	class Class
	term  textsignal.Term
}

func sentenceViolations(sentence string, allowPromise bool) []sentenceHit {
	tokens := textsignal.Tokens(sentence)

	var hits []sentenceHit
	if !allowPromise {
		if m, ok := promiseLexicon.FindTokens(tokens); ok {
			hits = append(hits, sentenceHit{class: ClassPromise, term: m.Term})
		}
	}
	if m, ok := aiLexicon.FindTokens(tokens); ok {
		hits = append(hits, sentenceHit{class: ClassAIDisclosure, term: m.Term})
	}
	if m, ok := blameLexicon.FindTokens(tokens); ok {
		hits = append(hits, sentenceHit{class: ClassBlame, term: m.Term})
	}
	return hits
}

// truncate joins whole sentences while they fit, falling back to whole words
// of the first sentence that does not.
func truncate(sentences []string, limit int) string {
	var b strings.Builder
	for _, sentence := range sentences {
		sep := 0
		if b.Len() > 0 {
			sep = 1
		}
		if utf8.RuneCountInString(b.String())+sep+utf8.RuneCountInString(sentence) <= limit {
			if sep == 1 {
				b.WriteByte(' ')
			}
			b.WriteString(sentence)
			continue
		}
		if b.Len() == 0 {
			return truncateWords(sentence, limit)
		}
		break
	}
	return b.String()
}

func truncateWords(sentence string, limit int) string {
	var b strings.Builder
	for _, word := range strings.Fields(sentence) {
		sep := 0
		if b.Len() > 0 {
			sep = 1
		}
		if utf8.RuneCountInString(b.String())+sep+utf8.RuneCountInString(word) > limit {
			break
		}
		if sep == 1 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	return b.String()
}
