package cache

import (
	"strings"
	"unicode"
)

// NormalizeKey lowercases key and collapses runs of whitespace so that
// trivially different spellings of the same lookup share an entry.
func NormalizeKey(key string) string {
	return strings.Join(strings.Fields(strings.ToLower(key)), " ")
}

var queryStopWords = map[string]bool{
	"the": true,
	"a":   true,
	"an":  true,
}

// QueryKey builds a cache key for a bibliographic query. Each part is
// lowercased, stripped of articles and punctuation, and its words are
// joined with "-". Letters and digits of any script are kept. Parts are
// joined with "|" after the prefix.
//
//	QueryKey("openlibrary:search", "The Name of the Wind", "Patrick Rothfuss")
//	// openlibrary:search|name-of-wind|patrick-rothfuss
func QueryKey(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(cleanQueryPart(prefix, false))
	for _, part := range parts {
		b.WriteByte('|')
		b.WriteString(cleanQueryPart(part, true))
	}
	return b.String()
}

func cleanQueryPart(part string, dropArticles bool) string {
	var words []string
	for _, word := range strings.Fields(strings.ToLower(part)) {
		if dropArticles && queryStopWords[word] {
			continue
		}
		var w strings.Builder
		for _, r := range word {
			if isQueryKeyRune(r) {
				w.WriteRune(r)
			}
		}
		if w.Len() > 0 {
			words = append(words, w.String())
		}
	}
	return strings.Join(words, "-")
}

func isQueryKeyRune(r rune) bool {
	switch {
	case unicode.IsLetter(r), unicode.IsDigit(r):
		return true
	case r == ':' || r == '-':
		return true
	}
	return false
}
