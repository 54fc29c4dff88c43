package search

import (
	"strings"
	"unicode"
)

// stopWords are ignored when matching query terms against chunk text.
var stopWords = func() map[string]struct{} {
	words := strings.Fields(`
		the a an be is are was to of and in that have it for not on with as
		you do at this but by from
		der die das den dem des ein eine einer eines und oder ist sind wird
		werden zu zur zum von vom mit für auf im bei wie nicht sich`)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()

// tokenizeAndFilter returns the lowercased words of text without stop words.
// Hyphenated compounds such as "IT-Grundschutz" stay one word.
func tokenizeAndFilter(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '.'
	})
	terms := words[:0]
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".-"))
		if w == "" {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// containsAllQueryWords reports whether every non-stop word of query occurs
// in document. A query made only of stop words never matches.
func containsAllQueryWords(document, query string) bool {
	terms := tokenizeAndFilter(query)
	if len(terms) == 0 {
		return false
	}
	present := make(map[string]struct{})
	for _, w := range tokenizeAndFilter(document) {
		present[w] = struct{}{}
	}
	for _, t := range terms {
		if _, ok := present[t]; !ok {
			return false
		}
	}
	return true
}
