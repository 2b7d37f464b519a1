// Package providers implements the bibliographic metadata sources and the
// request pipeline they share: cache, quota admission, pacing, retries with
// backoff, bounded HTTP calls and failure classification.
package providers

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/lepinkainen/bookmeta/internal/book"
	"github.com/lepinkainen/bookmeta/internal/isbn"
)

const (
	defaultPageSize = 20
	maxPageSize     = 40
)

// ErrInvalidIdentifier is returned for identifiers that are neither an ISBN
// nor a "<provider>:<id>" reference.
var ErrInvalidIdentifier = stdErrors.New("invalid identifier")

// Provider is a bibliographic metadata source.
type Provider interface {
	Tag() book.Tag
	// FetchByIdentifier returns the records matching id. A provider that has
	// no data returns a NotFound provider error.
	FetchByIdentifier(ctx context.Context, id Identifier) ([]book.Record, error)
	// Search returns one page of records matching c.
	Search(ctx context.Context, c Criteria) ([]book.Record, error)
}

// Identifier is a parsed lookup identifier: either an ISBN or a provider's
// own record id.
type Identifier struct {
	ISBN13   string
	Provider book.Tag
	NativeID string
}

// IsISBN reports whether the identifier is an ISBN.
func (id Identifier) IsISBN() bool {
	return id.ISBN13 != ""
}

func (id Identifier) String() string {
	if id.IsISBN() {
		return id.ISBN13
	}
	return string(id.Provider) + ":" + id.NativeID
}

// ParseIdentifier accepts an ISBN-10 or ISBN-13 (hyphens and spaces allowed)
// or a provider reference such as "openlibrary:OL26328361M".
func ParseIdentifier(s string) (Identifier, error) {
	s = strings.TrimSpace(s)
	if n, ok := isbn.Normalize13(s); ok {
		return Identifier{ISBN13: n}, nil
	}

	tag, native, found := strings.Cut(s, ":")
	if found && native != "" {
		switch t := book.Tag(strings.ToLower(tag)); t {
		case book.TagOpenLibrary, book.TagGoogleBooks, book.TagISBNdb:
			return Identifier{Provider: t, NativeID: native}, nil
		case "isbn":
			return ParseIdentifier(native)
		}
	}
	return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
}

// Criteria is a free-text search with pagination.
type Criteria struct {
	Title     string `json:"title,omitempty"`
	Author    string `json:"author,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
}

// IsEmpty reports whether no search term is set.
func (c Criteria) IsEmpty() bool {
	return strings.TrimSpace(c.Title+c.Author+c.Publisher+c.Subject) == ""
}

// Normalize fills in pagination defaults and clamps the page size.
func (c Criteria) Normalize() Criteria {
	if c.Page < 1 {
		c.Page = 1
	}
	if c.PageSize < 1 {
		c.PageSize = defaultPageSize
	}
	if c.PageSize > maxPageSize {
		c.PageSize = maxPageSize
	}
	return c
}

// Offset returns the zero-based index of the first result on the page.
func (c Criteria) Offset() int {
	n := c.Normalize()
	return (n.Page - 1) * n.PageSize
}

// OutcomeQuotaExhausted is the request outcome reported when the quota
// wait cap is exceeded and no request is sent.
const OutcomeQuotaExhausted = "quota_exhausted"

// Observer receives per-request outcomes. Implemented by the metrics package.
type Observer interface {
	ObserveRequest(provider string, outcome string, elapsed time.Duration)
	ObserveCache(provider string, hit bool)
	ObserveRateLimited(provider string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, time.Duration) {}
func (nopObserver) ObserveCache(string, bool)                    {}
func (nopObserver) ObserveRateLimited(string)                    {}
