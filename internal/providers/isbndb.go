package providers

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/lepinkainen/bookmeta/internal/book"
	"github.com/lepinkainen/bookmeta/internal/errors"
	"github.com/lepinkainen/bookmeta/internal/isbn"
)

const isbndbBaseURL = "https://api2.isbndb.com"

// ErrMissingAPIKey is returned when a provider that requires a key has none.
var ErrMissingAPIKey = stdErrors.New("API key not configured")

// ISBNdb queries the ISBNdb v2 API. It requires an API key.
type ISBNdb struct {
	client *Client
}

var _ Provider = (*ISBNdb)(nil)

// NewISBNdb creates an ISBNdb provider. Returns ErrMissingAPIKey when apiKey is empty.
func NewISBNdb(apiKey string, opts ...Option) (*ISBNdb, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	opts = append([]Option{WithHeader("Authorization", apiKey)}, opts...)
	return &ISBNdb{client: NewClient(book.TagISBNdb, isbndbBaseURL, opts...)}, nil
}

func (p *ISBNdb) Tag() book.Tag {
	return book.TagISBNdb
}

// Client returns the underlying request pipeline.
func (p *ISBNdb) Client() *Client {
	return p.client
}

// FetchByIdentifier looks up an ISBN. ISBNdb has no ids of its own, so a
// native id is read as an ISBN.
func (p *ISBNdb) FetchByIdentifier(ctx context.Context, id Identifier) ([]book.Record, error) {
	code := id.ISBN13
	if !id.IsISBN() {
		parsed, err := ParseIdentifier(id.NativeID)
		if err != nil || !parsed.IsISBN() {
			return nil, errors.NewProviderError(string(book.TagISBNdb), errors.KindNotFound,
				fmt.Errorf("%w: isbndb has no record ids, got %s", errors.ErrNotFound, id))
		}
		code = parsed.ISBN13
	}

	return p.client.Get(ctx, "isbndb:isbn:"+code, p.client.endpoint("/book/"+code), decodeISBNdbBook)
}

// Search queries /books/{text} with the criteria joined into one text query.
func (p *ISBNdb) Search(ctx context.Context, c Criteria) ([]book.Record, error) {
	c = c.Normalize()

	var parts []string
	for _, v := range []string{c.Title, c.Author, c.Publisher, c.Subject} {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(c.Page))
	q.Set("pageSize", strconv.Itoa(c.PageSize))
	endpoint := p.client.endpoint("/books/" + url.PathEscape(strings.Join(parts, " ")) + "?" + q.Encode())

	return p.client.Get(ctx, searchCacheKey(book.TagISBNdb, c), endpoint, decodeISBNdbSearch)
}

// isbndbBook matches the ISBNdb book object.
type isbndbBook struct {
	Title         string   `json:"title"`
	TitleLong     string   `json:"title_long"`
	ISBN          string   `json:"isbn"`
	ISBN13        string   `json:"isbn13"`
	Publisher     string   `json:"publisher"`
	Language      string   `json:"language"`
	DatePublished string   `json:"date_published"`
	Binding       string   `json:"binding"`
	Pages         int      `json:"pages"`
	Overview      string   `json:"overview"`
	Synopsis      string   `json:"synopsis"`
	Image         string   `json:"image"`
	ImageOriginal string   `json:"image_original"`
	Authors       []string `json:"authors"`
	Subjects      []string `json:"subjects"`
}

func decodeISBNdbBook(body []byte) ([]book.Record, error) {
	var result struct {
		Book isbndbBook `json:"book"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if rec, ok := isbndbRecord(result.Book); ok {
		return []book.Record{rec}, nil
	}
	return nil, nil
}

func decodeISBNdbSearch(body []byte) ([]book.Record, error) {
	var result struct {
		Total int          `json:"total"`
		Books []isbndbBook `json:"books"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	records := make([]book.Record, 0, len(result.Books))
	for _, b := range result.Books {
		if rec, ok := isbndbRecord(b); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func isbndbRecord(b isbndbBook) (book.Record, bool) {
	if b.Title == "" && b.ISBN == "" && b.ISBN13 == "" {
		return book.Record{}, false
	}

	rec := book.Record{
		Provider:    book.TagISBNdb,
		ID:          isbn.Clean(b.ISBN13),
		Title:       b.Title,
		Authors:     b.Authors,
		ISBN10:      isbn.Clean(b.ISBN),
		ISBN13:      isbn.Clean(b.ISBN13),
		Publisher:   b.Publisher,
		PublishDate: b.DatePublished,
		PageCount:   b.Pages,
		CoverURL:    b.ImageOriginal,
		Language:    b.Language,
		Binding:     book.ParseBinding(b.Binding),
	}
	if rec.Title == "" {
		rec.Title = b.TitleLong
	}
	if rec.CoverURL == "" {
		rec.CoverURL = b.Image
	}

	// Use synopsis for description if available, otherwise use overview
	if b.Synopsis != "" {
		rec.Description = b.Synopsis
	} else {
		rec.Description = b.Overview
	}

	// Filter out generic "Subjects" entry
	for _, s := range b.Subjects {
		if s != "" && s != "Subjects" {
			rec.Subjects = append(rec.Subjects, s)
		}
	}

	return rec, true
}
