package providers

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/lepinkainen/bookmeta/internal/book"
	"github.com/lepinkainen/bookmeta/internal/isbn"
)

const googleBooksBaseURL = "https://www.googleapis.com/books/v1"

// GoogleBooks queries the Google Books volumes API. The API key is optional.
type GoogleBooks struct {
	client *Client
	apiKey string
}

var _ Provider = (*GoogleBooks)(nil)

// NewGoogleBooks creates a Google Books provider.
func NewGoogleBooks(apiKey string, opts ...Option) *GoogleBooks {
	return &GoogleBooks{
		client: NewClient(book.TagGoogleBooks, googleBooksBaseURL, opts...),
		apiKey: apiKey,
	}
}

func (p *GoogleBooks) Tag() book.Tag {
	return book.TagGoogleBooks
}

// Client returns the underlying request pipeline.
func (p *GoogleBooks) Client() *Client {
	return p.client
}

// FetchByIdentifier looks up an ISBN or a Google volume id.
func (p *GoogleBooks) FetchByIdentifier(ctx context.Context, id Identifier) ([]book.Record, error) {
	if !id.IsISBN() {
		endpoint := p.client.endpoint("/volumes/" + url.PathEscape(id.NativeID) + p.keyQuery("?"))
		return p.client.Get(ctx, "googlebooks:id:"+id.NativeID, endpoint, decodeGoogleVolume)
	}

	q := url.Values{}
	q.Set("q", "isbn:"+id.ISBN13)
	p.addKey(q)
	return p.client.Get(ctx, "googlebooks:isbn:"+id.ISBN13, p.client.endpoint("/volumes?"+q.Encode()), decodeGoogleVolumes)
}

// Search maps the criteria onto intitle:/inauthor:/inpublisher:/subject: terms.
func (p *GoogleBooks) Search(ctx context.Context, c Criteria) ([]book.Record, error) {
	c = c.Normalize()

	var terms []string
	add := func(prefix, value string) {
		if v := strings.TrimSpace(value); v != "" {
			terms = append(terms, prefix+v)
		}
	}
	add("intitle:", c.Title)
	add("inauthor:", c.Author)
	add("inpublisher:", c.Publisher)
	add("subject:", c.Subject)

	q := url.Values{}
	q.Set("q", strings.Join(terms, " "))
	q.Set("startIndex", strconv.Itoa(c.Offset()))
	q.Set("maxResults", strconv.Itoa(c.PageSize))
	p.addKey(q)

	return p.client.Get(ctx, searchCacheKey(book.TagGoogleBooks, c), p.client.endpoint("/volumes?"+q.Encode()), decodeGoogleVolumes)
}

func (p *GoogleBooks) addKey(q url.Values) {
	if p.apiKey != "" {
		q.Set("key", p.apiKey)
	}
}

func (p *GoogleBooks) keyQuery(sep string) string {
	if p.apiKey == "" {
		return ""
	}
	return sep + "key=" + url.QueryEscape(p.apiKey)
}

// googleVolume matches one volume of the Google Books API.
type googleVolume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title               string   `json:"title"`
		Subtitle            string   `json:"subtitle"`
		Authors             []string `json:"authors"`
		Publisher           string   `json:"publisher"`
		PublishedDate       string   `json:"publishedDate"`
		Description         string   `json:"description"`
		PageCount           int      `json:"pageCount"`
		Categories          []string `json:"categories"`
		Language            string   `json:"language"`
		PrintType           string   `json:"printType"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
		ImageLinks struct {
			Thumbnail      string `json:"thumbnail"`
			SmallThumbnail string `json:"smallThumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
	SaleInfo struct {
		IsEbook bool `json:"isEbook"`
	} `json:"saleInfo"`
}

// googleVolumesResponse matches the /volumes search response.
type googleVolumesResponse struct {
	TotalItems int            `json:"totalItems"`
	Items      []googleVolume `json:"items"`
}

func decodeGoogleVolumes(body []byte) ([]book.Record, error) {
	var result googleVolumesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	records := make([]book.Record, 0, len(result.Items))
	for _, item := range result.Items {
		if rec, ok := googleRecord(item); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func decodeGoogleVolume(body []byte) ([]book.Record, error) {
	var item googleVolume
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, err
	}
	if rec, ok := googleRecord(item); ok {
		return []book.Record{rec}, nil
	}
	return nil, nil
}

func googleRecord(item googleVolume) (book.Record, bool) {
	vol := item.VolumeInfo
	if vol.Title == "" && len(vol.IndustryIdentifiers) == 0 {
		return book.Record{}, false
	}

	rec := book.Record{
		Provider:    book.TagGoogleBooks,
		ID:          item.ID,
		Title:       vol.Title,
		Subtitle:    vol.Subtitle,
		Authors:     vol.Authors,
		Publisher:   vol.Publisher,
		PublishDate: vol.PublishedDate,
		Description: vol.Description,
		PageCount:   vol.PageCount,
		Language:    vol.Language,
		Subjects:    vol.Categories,
	}

	for _, ident := range vol.IndustryIdentifiers {
		switch ident.Type {
		case "ISBN_13":
			rec.ISBN13 = isbn.Clean(ident.Identifier)
		case "ISBN_10":
			rec.ISBN10 = isbn.Clean(ident.Identifier)
		}
	}

	// Prefer larger thumbnail
	coverURL := vol.ImageLinks.Thumbnail
	if coverURL == "" {
		coverURL = vol.ImageLinks.SmallThumbnail
	}
	if coverURL != "" {
		coverURL = strings.Replace(coverURL, "zoom=1", "zoom=0", 1)
		coverURL = strings.Replace(coverURL, "http://", "https://", 1)
		rec.CoverURL = coverURL
	}

	if item.SaleInfo.IsEbook {
		rec.Binding = book.BindingEbook
	}

	return rec, true
}
