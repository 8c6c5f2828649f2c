package store

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Tokenizer turns text into full-text search terms: case folded words,
// without stopwords and words shorter than the minimum length.
type Tokenizer struct {
	stopwords map[string]struct{}
	minLength int
}

func NewTokenizer(stopwords []string, minLength int) *Tokenizer {
	t := &Tokenizer{
		stopwords: make(map[string]struct{}, len(stopwords)),
		minLength: minLength,
	}
	fold := cases.Fold()
	for _, w := range stopwords {
		t.stopwords[fold.String(w)] = struct{}{}
	}
	return t
}

// Terms returns the distinct terms of text in order of first appearance.
func (t *Tokenizer) Terms(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	fold := cases.Fold()
	seen := make(map[string]struct{}, len(words))
	var terms []string
	for _, w := range words {
		term := fold.String(w)
		if utf8.RuneCountInString(term) < t.minLength {
			continue
		}
		if _, stop := t.stopwords[term]; stop {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}
