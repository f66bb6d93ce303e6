package merge

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// normalize lowercases with Danish casing rules, turns punctuation into
// spaces and collapses runs of whitespace. Two utterances that differ only
// in casing or punctuation normalize to the same string.
func normalize(text string) string {
	text = cases.Lower(language.Danish).String(text)
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isWordChar(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

// stripFillers removes filler tokens word-wise. The token comparison strips
// non-word characters so "øhm," still matches, but the surviving words keep
// their original punctuation.
func stripFillers(text string) string {
	var kept []string
	for _, token := range strings.Fields(text) {
		word := strings.Map(func(r rune) rune {
			if isWordChar(r) {
				return r
			}
			return -1
		}, cases.Lower(language.Danish).String(token))
		if _, filler := fillerTokens[word]; filler {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Trim(strings.Join(kept, " "), " ,.-")
}

// isBackchannel reports whether text is a short confirming utterance. Empty
// text counts as one so it is dropped by the same rule.
func isBackchannel(text string) bool {
	normalized := normalize(text)
	if normalized == "" {
		return true
	}
	if wordCount(normalized) > shortBackchannelMaxWords {
		return false
	}
	_, ok := backchannels[normalized]
	return ok
}

// isTechnicalMeta reports whether text is call-logistics chatter rather than
// interview content.
func isTechnicalMeta(text string) bool {
	normalized := normalize(text)
	if normalized == "" {
		return true
	}
	words := wordCount(normalized)
	if words <= technicalMetaMaxWords && containsAny(normalized, technicalMetaKeywords) {
		return true
	}
	if words <= technicalMetaStrongMaxWords && containsAny(normalized, technicalMetaStrongKeywords) {
		return true
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
