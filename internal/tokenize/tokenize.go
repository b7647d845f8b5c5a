// Package tokenize implements the §4.9 indexer tokenizer: lowercasing,
// stopword removal and Porter stemming via the teacher's own
// github.com/kljensen/snowball dependency, producing the token list a
// WebDocument carries into the external full-text store.
package tokenize

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

const (
	minTokenLen = 3
	maxTokenLen = 49
	maxTokens   = 1000
)

// stopwords is a closed, hand-rolled English stopword list. No suitable
// small stopword-list dependency appears anywhere in the retrieval pack
// (see DESIGN.md), so this is carried as plain data rather than wired to
// a third-party package.
var stopwords = map[string]bool{
	"a": true, "about": true, "above": true, "after": true, "again": true,
	"against": true, "all": true, "am": true, "an": true, "and": true,
	"any": true, "are": true, "aren't": true, "as": true, "at": true,
	"be": true, "because": true, "been": true, "before": true, "being": true,
	"below": true, "between": true, "both": true, "but": true, "by": true,
	"can": true, "cannot": true, "could": true, "did": true, "do": true,
	"does": true, "doing": true, "don't": true, "down": true, "during": true,
	"each": true, "few": true, "for": true, "from": true, "further": true,
	"had": true, "has": true, "have": true, "having": true, "her": true,
	"here": true, "hers": true, "herself": true, "him": true, "himself": true,
	"his": true, "how": true, "into": true, "its": true, "itself": true,
	"just": true, "more": true, "most": true, "nor": true, "not": true,
	"now": true, "off": true, "once": true, "only": true, "other": true,
	"our": true, "ours": true, "ourselves": true, "out": true, "over": true,
	"own": true, "same": true, "she": true, "should": true, "so": true,
	"some": true, "such": true, "than": true, "that": true, "the": true,
	"their": true, "theirs": true, "them": true, "themselves": true,
	"then": true, "there": true, "these": true, "they": true, "this": true,
	"those": true, "through": true, "too": true, "under": true, "until": true,
	"up": true, "very": true, "was": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "while": true, "who": true,
	"whom": true, "why": true, "will": true, "with": true, "would": true,
	"you": true, "your": true, "yours": true, "yourself": true, "yourselves": true,
	"i": true, "me": true, "my": true, "myself": true, "we": true, "is": true,
	"in": true, "it": true, "of": true, "on": true, "or": true, "to": true,
	"was's": true,
}

// Tokenize implements §4.9's tokenizer: split on runs of characters that
// are neither letters nor digits, lowercase,
// drop stopwords and numerics, keep only tokens of length 3-49, stem with
// Porter, and cap at 1000 distinct tokens.
func Tokenize(text string) []string {
	seen := make(map[string]bool)
	var out []string

	for _, raw := range splitWords(text) {
		word := strings.ToLower(raw)
		if len(word) < minTokenLen || len(word) > maxTokenLen {
			continue
		}
		if isNumeric(word) {
			continue
		}
		if stopwords[word] {
			continue
		}
		stemmed := english.Stem(word, false)
		if stemmed == "" || seen[stemmed] {
			continue
		}
		seen[stemmed] = true
		out = append(out, stemmed)
		if len(out) >= maxTokens {
			break
		}
	}
	return out
}

// splitWords breaks text on runs of non-letter, non-digit runes.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isNumeric(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
