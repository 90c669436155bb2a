package textsignal

import (
	"strings"
	"unicode"
)

// Term is a keyword phrase. Each word of a phrase matches a token either exactly or,
// when it ends with '*', as a prefix ("брак*" matches "бракованный").
type Term string

// Lexicon is a named set of terms
type Lexicon struct {
	Name  string
	Terms []Term
}

// Match is a term found in a text
type Match struct {
	Lexicon string
	Term    Term
}

// Find returns the first term of the lexicon present in text
func (l Lexicon) Find(text string) (Match, bool) {
	return l.FindTokens(Tokens(text))
}

// FindTokens is Find over pre-tokenized text
func (l Lexicon) FindTokens(tokens []string) (Match, bool) {
	for _, term := range l.Terms {
		if containsPhrase(tokens, term.words()) {
			return Match{Lexicon: l.Name, Term: term}, true
		}
	}
	return Match{}, false
}

// Contains reports whether any term of the lexicon is present in text
func (l Lexicon) Contains(text string) bool {
	_, ok := l.Find(text)
	return ok
}

func (t Term) words() []string {
	return strings.FieldsFunc(strings.ToLower(string(t)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '*'
	})
}

func containsPhrase(tokens, words []string) bool {
	if len(words) == 0 || len(words) > len(tokens) {
		return false
	}
	for start := 0; start+len(words) <= len(tokens); start++ {
		matched := true
		for j, w := range words {
			if !wordMatches(tokens[start+j], w) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func wordMatches(token, word string) bool {
	if stem, ok := strings.CutSuffix(word, "*"); ok {
		return strings.HasPrefix(token, stem)
	}
	return token == word
}

var (
	// Defect signals mark a broken, damaged or faulty item
	Defect = Lexicon{Name: "defect", Terms: []Term{
		"брак*", "сломан*", "слома*", "разбит*", "поврежд*", "не работает", "не включается",
		"дефект*", "трещин*", "порван*", "протек*", "неисправ*", "испорчен*",
		"broken", "defect*", "damaged", "doesn't work", "does not work", "not working", "faulty", "cracked",
	}}

	// Logistics signals concern delivery, returns and exchanges
	Logistics = Lexicon{Name: "logistics", Terms: []Term{
		"доставк*", "курьер*", "не пришел", "не пришла", "не пришло", "не доставил*", "опоздал*",
		"возврат*", "вернуть", "верну", "обмен*", "пункт выдачи", "потерял*", "задерж*",
		"delivery", "deliver*", "shipping", "courier", "return*", "refund*", "exchange", "late", "lost",
	}}

	// Negative signals reveal a complaint hidden inside an otherwise positive rating
	Negative = Lexicon{Name: "negative", Terms: []Term{
		"но", "однако", "хотя", "жаль", "минус*", "недостат*", "разочаров*", "плох*",
		"маломер*", "большемер*", "не соответств*", "не подош*",
		"but", "however", "although", "though", "unfortunately", "disappoint*", "bad", "worse",
	}}
)

// NegativeSignal reports whether text contains a negative, defect or return signal.
// It is the guard against positive ratings that still carry a complaint.
func NegativeSignal(text string) (Match, bool) {
	tokens := Tokens(text)
	for _, l := range []Lexicon{Negative, Defect, Logistics} {
		if m, ok := l.FindTokens(tokens); ok {
			return m, true
		}
	}
	return Match{}, false
}
