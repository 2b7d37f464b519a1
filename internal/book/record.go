// Package book holds the provider-neutral book record model together with
// deduplication, merging and edition grouping across providers.
package book

import (
	"regexp"
	"strconv"
	"strings"
)

// Tag identifies a metadata provider.
type Tag string

const (
	TagOpenLibrary Tag = "openlibrary"
	TagGoogleBooks Tag = "googlebooks"
	TagISBNdb      Tag = "isbndb"
)

// Binding is the physical or digital format of an edition.
type Binding string

const (
	BindingUnknown   Binding = ""
	BindingHardcover Binding = "hardcover"
	BindingPaperback Binding = "paperback"
	BindingEbook     Binding = "ebook"
	BindingAudiobook Binding = "audiobook"
	BindingOther     Binding = "other"
)

// Record is one provider's view of a book, before merging.
type Record struct {
	Provider    Tag      `json:"provider" yaml:"provider"`
	ID          string   `json:"id,omitempty" yaml:"id,omitempty"`
	Title       string   `json:"title" yaml:"title"`
	Subtitle    string   `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	Authors     []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	ISBN10      string   `json:"isbn10,omitempty" yaml:"isbn10,omitempty"`
	ISBN13      string   `json:"isbn13,omitempty" yaml:"isbn13,omitempty"`
	Publisher   string   `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	PublishDate string   `json:"publish_date,omitempty" yaml:"publish_date,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	PageCount   int      `json:"page_count,omitempty" yaml:"page_count,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty" yaml:"cover_url,omitempty"`
	Language    string   `json:"language,omitempty" yaml:"language,omitempty"`
	Subjects    []string `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	Binding     Binding  `json:"binding,omitempty" yaml:"binding,omitempty"`
}

// Year returns the publication year, or 0 when PublishDate has none.
func (r *Record) Year() int {
	return ExtractYear(r.PublishDate)
}

// FirstAuthor returns the first listed author or "".
func (r *Record) FirstAuthor() string {
	if len(r.Authors) == 0 {
		return ""
	}
	return r.Authors[0]
}

// SourceResult is the record list one provider returned for a query.
type SourceResult struct {
	Provider Tag      `json:"provider"`
	Records  []Record `json:"records"`
}

var yearPattern = regexp.MustCompile(`\b(\d{4})\b`)

// ExtractYear returns the first four digit year in a free-form date such as
// "2014", "Oct 28, 2014" or "2014-10-28", or 0 when there is none.
func ExtractYear(date string) int {
	match := yearPattern.FindStringSubmatch(date)
	if match == nil {
		return 0
	}
	year, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return year
}

// ParseBinding maps provider binding text ("Hardcover", "Kindle Edition",
// "Audio CD", "Mass Market Paperback") to a Binding.
func ParseBinding(s string) Binding {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return BindingUnknown
	}

	switch {
	case containsAny(s, "audio", "audible", "mp3"):
		return BindingAudiobook
	case containsAny(s, "ebook", "e-book", "kindle", "epub", "digital", "electronic", "nook"):
		return BindingEbook
	case containsAny(s, "hardcover", "hardback", "hard cover", "library binding", "board book"):
		return BindingHardcover
	case containsAny(s, "paperback", "softcover", "soft cover", "mass market", "trade paper"):
		return BindingPaperback
	}
	return BindingOther
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
