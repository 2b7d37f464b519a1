package book

import (
	"strings"
	"unicode"

	"github.com/lepinkainen/bookmeta/internal/isbn"
)

const (
	isbnKeyPrefix   = "isbn:"
	workKeyPrefix   = "work:"
	recordKeyPrefix = "record:"
)

// KeyFor returns the dedup key for r: "isbn:<13 digits>" when the record
// carries a usable ISBN, otherwise "work:<title>|<first author>". A record
// with neither an ISBN nor a title is keyed by "record:<provider>:<id>" and
// only merges with itself.
func KeyFor(r Record) string {
	if n, ok := primaryISBN(r); ok {
		return isbnKeyPrefix + n
	}
	if normalizeText(r.Title) == "" {
		return recordKeyPrefix + string(r.Provider) + ":" + r.ID
	}
	return workKeyPrefix + WorkKey(r.Title, r.FirstAuthor())
}

// IsISBNKey reports whether key was derived from an ISBN.
func IsISBNKey(key string) bool {
	return strings.HasPrefix(key, isbnKeyPrefix)
}

// WorkKey normalizes title and author into the key shared by every edition
// of a work: lowercase, punctuation dropped, articles removed.
func WorkKey(title, author string) string {
	return normalizeText(title) + "|" + normalizeText(author)
}

func primaryISBN(r Record) (string, bool) {
	if n, ok := isbn.Normalize13(r.ISBN13); ok {
		return n, true
	}
	return isbn.Normalize13(r.ISBN10)
}

var articles = map[string]bool{"the": true, "a": true, "an": true}

func normalizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		if r == '\'' || r == '’' || r == '.' {
			return -1
		}
		return ' '
	}, s)

	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if !articles[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
