package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Patterns are compiled once at package init and shared by every Filter.
var (
	// urlPattern matches http/https URLs, www. URLs, and bare domains with a
	// trailing path. The trailing "/" on the bare-domain form avoids false
	// positives on decimals like "3.14" or version strings like "v2.0".
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|et|xyz|info|biz|ru|cn|tk|ml)/\S*)`)

	// phonePattern matches common phone formats, +251-911-123456 included.
	// Anchored to whitespace or string boundaries so short numbers like
	// "100" inside normal text do not trip it.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)

	// handlePattern matches attempts to move the conversation to an outside
	// messenger: t.me links, or an app name directly followed by a handle as
	// in "telegram: @lily" or "whatsapp @lily". Mentioning an app by itself
	// is fine.
	handlePattern = regexp.MustCompile(`(?i)(t\.me/\S+|(telegram|whatsapp|signal|viber)\s*[:@]\s*@?\w{3,})`)
)

// spamCheck pairs a detection function with the name reported on a match.
type spamCheck struct {
	name  string
	match func(string) bool
}

// spamChecks is applied in order; the first match wins.
var spamChecks = []spamCheck{
	{name: "url", match: urlPattern.MatchString},
	{name: "phone", match: phonePattern.MatchString},
	{name: "messenger_handle", match: handlePattern.MatchString},
	{name: "char_flood", match: hasCharFlood},
	{name: "word_flood", match: hasWordFlood},
}

// checkSpamPatterns runs every spam check against text and returns a
// blocking result on the first match.
func (f *Filter) checkSpamPatterns(text string) FilterResult {
	for _, sc := range spamChecks {
		if sc.match(text) {
			return FilterResult{Blocked: true, Reason: "spam_pattern", Term: sc.name}
		}
	}
	return FilterResult{}
}

// hasCharFlood reports 6 or more consecutive identical characters. RE2 has
// no backreferences, so this is a linear scan.
func hasCharFlood(text string) bool {
	const threshold = 6

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood reports the same word repeated 4 or more times in a row,
// case-insensitive.
func hasWordFlood(text string) bool {
	const threshold = 4

	count := 1
	prev := ""
	for _, w := range strings.FieldsFunc(text, unicode.IsSpace) {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}
