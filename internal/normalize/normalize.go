// Package normalize turns a raw recognized segment into display text.
package normalize

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SentenceDelimiter separates sentences in displayed text and terminates
// every displayed segment.
const SentenceDelimiter = ". "

// Suppressor is the read side of the suppression set.
type Suppressor interface {
	Contains(phrase string) bool
	Phrases() []string
}

// Normalize drops suppressed words from segment, rejoins the survivors with
// single spaces and capitalizes each sentence start. A nil suppressor filters
// nothing.
func Normalize(segment string, set Suppressor) string {
	words := strings.Fields(segment)
	if set != nil {
		words = filter(words, set)
	}
	return CapitalizeSentences(strings.Join(words, " "))
}

// Sentence terminates text for display.
func Sentence(text string) string {
	return text + SentenceDelimiter
}

// CapitalizeSentences upper-cases the first rune of text and the first rune
// after every ". ". Other runes keep their case.
func CapitalizeSentences(text string) string {
	parts := strings.Split(text, SentenceDelimiter)
	for i, part := range parts {
		parts[i] = upperFirst(part)
	}
	return strings.Join(parts, SentenceDelimiter)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	upper := unicode.ToUpper(r)
	if upper == r {
		return s
	}
	return string(upper) + s[size:]
}

// filter removes words equal to a single-word phrase and contiguous word runs
// equal to a multi-word phrase. Longer phrases win at a given position.
func filter(words []string, set Suppressor) []string {
	spans := multiWordPhrases(set.Phrases())

	out := words[:0:0]
	for i := 0; i < len(words); {
		if n := matchSpan(words[i:], spans); n > 0 {
			i += n
			continue
		}
		if !set.Contains(words[i]) {
			out = append(out, words[i])
		}
		i++
	}
	return out
}

// multiWordPhrases tokenizes phrases made of two or more words separated by
// single spaces. Phrases carrying any other whitespace can never equal a run
// of recognized words, so they are skipped.
func multiWordPhrases(phrases []string) [][]string {
	var spans [][]string
	for _, p := range phrases {
		tokens := strings.Fields(p)
		if len(tokens) < 2 || strings.Join(tokens, " ") != p {
			continue
		}
		spans = append(spans, tokens)
	}
	sort.SliceStable(spans, func(i, j int) bool { return len(spans[i]) > len(spans[j]) })
	return spans
}

func matchSpan(words []string, spans [][]string) int {
	for _, span := range spans {
		if len(span) > len(words) {
			continue
		}
		matched := true
		for k, tok := range span {
			if words[k] != tok {
				matched = false
				break
			}
		}
		if matched {
			return len(span)
		}
	}
	return 0
}
