package providers

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/lepinkainen/bookmeta/internal/book"
	"github.com/lepinkainen/bookmeta/internal/cache"
	"github.com/lepinkainen/bookmeta/internal/isbn"
)

const (
	openLibraryBaseURL  = "https://openlibrary.org"
	openLibraryCoverURL = "https://covers.openlibrary.org/b/id/%d-L.jpg"
)

// OpenLibrary queries the openlibrary.org books and search APIs. It needs no key.
type OpenLibrary struct {
	client *Client
}

var _ Provider = (*OpenLibrary)(nil)

// NewOpenLibrary creates an OpenLibrary provider.
func NewOpenLibrary(opts ...Option) *OpenLibrary {
	return &OpenLibrary{client: NewClient(book.TagOpenLibrary, openLibraryBaseURL, opts...)}
}

func (p *OpenLibrary) Tag() book.Tag {
	return book.TagOpenLibrary
}

// Client returns the underlying request pipeline.
func (p *OpenLibrary) Client() *Client {
	return p.client
}

// FetchByIdentifier looks up an ISBN or an OpenLibrary edition id (OL...M).
func (p *OpenLibrary) FetchByIdentifier(ctx context.Context, id Identifier) ([]book.Record, error) {
	bibkey := "ISBN:" + id.ISBN13
	cacheKey := "openlibrary:isbn:" + id.ISBN13
	if !id.IsISBN() {
		bibkey = "OLID:" + id.NativeID
		cacheKey = "openlibrary:id:" + id.NativeID
	}

	q := url.Values{}
	q.Set("bibkeys", bibkey)
	q.Set("format", "json")
	q.Set("jscmd", "data")

	return p.client.Get(ctx, cacheKey, p.client.endpoint("/api/books?"+q.Encode()), decodeOpenLibraryBooks)
}

// Search runs a query against /search.json.
func (p *OpenLibrary) Search(ctx context.Context, c Criteria) ([]book.Record, error) {
	c = c.Normalize()

	q := url.Values{}
	if c.Title != "" {
		q.Set("title", c.Title)
	}
	if c.Author != "" {
		q.Set("author", c.Author)
	}
	if c.Publisher != "" {
		q.Set("publisher", c.Publisher)
	}
	if c.Subject != "" {
		q.Set("subject", c.Subject)
	}
	q.Set("page", strconv.Itoa(c.Page))
	q.Set("limit", strconv.Itoa(c.PageSize))
	q.Set("fields", "key,title,subtitle,author_name,isbn,publisher,publish_date,first_publish_year,cover_i,language,subject,number_of_pages_median,edition_key")

	return p.client.Get(ctx, searchCacheKey(book.TagOpenLibrary, c), p.client.endpoint("/search.json?"+q.Encode()), decodeOpenLibrarySearch)
}

type openLibraryNamed struct {
	Name string `json:"name"`
}

// openLibraryBook matches one entry of the /api/books jscmd=data response.
type openLibraryBook struct {
	Key           string             `json:"key"`
	Title         string             `json:"title"`
	Subtitle      string             `json:"subtitle"`
	Authors       []openLibraryNamed `json:"authors"`
	Publishers    []openLibraryNamed `json:"publishers"`
	PublishDate   string             `json:"publish_date"`
	NumberOfPages int                `json:"number_of_pages"`
	Notes         any                `json:"notes"`
	Description   any                `json:"description"`
	Subjects      []openLibraryNamed `json:"subjects"`
	Cover         struct {
		Large  string `json:"large"`
		Medium string `json:"medium"`
	} `json:"cover"`
	Identifiers struct {
		ISBN10 []string `json:"isbn_10"`
		ISBN13 []string `json:"isbn_13"`
	} `json:"identifiers"`
	PhysicalFormat string `json:"physical_format"`
}

func decodeOpenLibraryBooks(body []byte) ([]book.Record, error) {
	var result map[string]openLibraryBook
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]book.Record, 0, len(result))
	for _, k := range keys {
		b := result[k]
		if b.Title == "" && len(b.Identifiers.ISBN13) == 0 && len(b.Identifiers.ISBN10) == 0 {
			continue
		}

		rec := book.Record{
			Provider:    book.TagOpenLibrary,
			ID:          strings.TrimPrefix(b.Key, "/books/"),
			Title:       b.Title,
			Subtitle:    b.Subtitle,
			PublishDate: b.PublishDate,
			PageCount:   b.NumberOfPages,
			Description: textValue(b.Description),
			CoverURL:    b.Cover.Large,
			Binding:     book.ParseBinding(b.PhysicalFormat),
		}
		if rec.Description == "" {
			rec.Description = textValue(b.Notes)
		}
		if rec.CoverURL == "" {
			rec.CoverURL = b.Cover.Medium
		}
		for _, a := range b.Authors {
			rec.Authors = append(rec.Authors, a.Name)
		}
		if len(b.Publishers) > 0 {
			rec.Publisher = b.Publishers[0].Name
		}
		for _, s := range b.Subjects {
			rec.Subjects = append(rec.Subjects, s.Name)
		}
		if len(b.Identifiers.ISBN13) > 0 {
			rec.ISBN13 = isbn.Clean(b.Identifiers.ISBN13[0])
		}
		if len(b.Identifiers.ISBN10) > 0 {
			rec.ISBN10 = isbn.Clean(b.Identifiers.ISBN10[0])
		}
		if rec.ISBN13 == "" && strings.HasPrefix(k, "ISBN:") {
			if n, ok := isbn.Normalize13(strings.TrimPrefix(k, "ISBN:")); ok {
				rec.ISBN13 = n
			}
		}

		records = append(records, rec)
	}
	return records, nil
}

// openLibrarySearchResponse matches /search.json.
type openLibrarySearchResponse struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Key              string   `json:"key"`
		Title            string   `json:"title"`
		Subtitle         string   `json:"subtitle"`
		AuthorName       []string `json:"author_name"`
		ISBN             []string `json:"isbn"`
		Publisher        []string `json:"publisher"`
		PublishDate      []string `json:"publish_date"`
		FirstPublishYear int      `json:"first_publish_year"`
		CoverID          int      `json:"cover_i"`
		Language         []string `json:"language"`
		Subject          []string `json:"subject"`
		PagesMedian      int      `json:"number_of_pages_median"`
		EditionKey       []string `json:"edition_key"`
	} `json:"docs"`
}

func decodeOpenLibrarySearch(body []byte) ([]book.Record, error) {
	var result openLibrarySearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	records := make([]book.Record, 0, len(result.Docs))
	for _, doc := range result.Docs {
		if doc.Title == "" {
			continue
		}

		rec := book.Record{
			Provider:  book.TagOpenLibrary,
			ID:        strings.TrimPrefix(doc.Key, "/works/"),
			Title:     doc.Title,
			Subtitle:  doc.Subtitle,
			Authors:   doc.AuthorName,
			PageCount: doc.PagesMedian,
			Subjects:  firstN(doc.Subject, 10),
		}
		if len(doc.EditionKey) > 0 {
			rec.ID = doc.EditionKey[0]
		}
		if isbns := isbn.ExtractUniqueISBNs(doc.ISBN...); len(isbns) > 0 {
			rec.ISBN13 = isbns[0]
		}
		if len(doc.Publisher) > 0 {
			rec.Publisher = doc.Publisher[0]
		}
		if doc.FirstPublishYear > 0 {
			rec.PublishDate = strconv.Itoa(doc.FirstPublishYear)
		} else if len(doc.PublishDate) > 0 {
			rec.PublishDate = doc.PublishDate[0]
		}
		if doc.CoverID > 0 {
			rec.CoverURL = fmt.Sprintf(openLibraryCoverURL, doc.CoverID)
		}
		if len(doc.Language) > 0 {
			rec.Language = doc.Language[0]
		}

		records = append(records, rec)
	}
	return records, nil
}

// textValue reads OpenLibrary text fields that are either a plain string or
// a {"type": ..., "value": ...} object.
func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["value"].(string); ok {
			return s
		}
	}
	return ""
}

func firstN(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

// searchCacheKey builds the normalized cache key for a criteria search.
func searchCacheKey(tag book.Tag, c Criteria) string {
	return cache.QueryKey(string(tag)+":search",
		c.Title, c.Author, c.Publisher, c.Subject,
		"p"+strconv.Itoa(c.Page), "n"+strconv.Itoa(c.PageSize))
}
