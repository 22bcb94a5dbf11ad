// Package moderation screens outbound chat messages before they reach a
// match. It blocks known scam and abuse terms and the contact-sharing
// patterns that romance scammers use to move victims off the platform.
package moderation

import (
	"strings"
	"unicode"
)

// defaultTerms are blocked outright in any chat message. Phrases match as a
// whole; single words match on word boundaries only.
var defaultTerms = []string{
	"send me money",
	"western union",
	"wire transfer",
	"investment opportunity",
	"sugar daddy",
	"sugar mommy",
	"escort",
}

// FilterResult is the outcome of screening one message. A zero value means
// the message passes.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" or "spam_pattern"
	Term    string // the matched term or pattern name
}

// Filter holds the compiled term lists. Safe for concurrent use after
// construction.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// NewFilter creates a Filter with the default term list.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms creates a Filter from an explicit term list. Terms
// containing whitespace are treated as phrases, others as single words.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsFunc(term, unicode.IsSpace) {
			f.phrases = append(f.phrases, term)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Check screens text and returns the first blocking result, keyword matches
// before spam patterns. A non-blocked result means the message may be sent.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	for _, phrase := range f.phrases {
		if containsPhrase(lower, phrase) {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: phrase}
		}
	}

	for _, word := range tokenize(lower) {
		if _, ok := f.words[word]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: word}
		}
	}

	return f.checkSpamPatterns(text)
}

// containsPhrase reports whether phrase occurs in text on word boundaries,
// so "escort service" matches but "escorting" does not match "escort".
func containsPhrase(text, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		startOK := start == 0 || !isWordRune(rune(text[start-1]))
		endOK := end == len(text) || !isWordRune(rune(text[end]))
		if startOK && endOK {
			return true
		}
		idx = start + 1
	}
}

// tokenize splits lowercased text into words, stripping punctuation so that
// "money!" still matches the term "money".
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r)
	})
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
