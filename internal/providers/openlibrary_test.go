package providers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/bookmeta/internal/book"
	"github.com/lepinkainen/bookmeta/internal/errors"
	"github.com/lepinkainen/bookmeta/internal/testutil"
)

const openLibraryBooksFixture = `{
  "ISBN:9780143127550": {
    "key": "/books/OL26328361M",
    "title": "Sapiens",
    "subtitle": "A Brief History of Humankind",
    "authors": [{"name": "Yuval Noah Harari"}],
    "publishers": [{"name": "Harper Perennial"}],
    "publish_date": "2018",
    "number_of_pages": 464,
    "notes": {"type": "/type/text", "value": "Originally published in Hebrew."},
    "subjects": [{"name": "Human beings"}, {"name": "Civilization"}],
    "cover": {"large": "https://covers.openlibrary.org/b/id/8231856-L.jpg"},
    "identifiers": {"isbn_10": ["0062316117"], "isbn_13": ["9780143127550"]}
  }
}`

const openLibrarySearchFixture = `{
  "numFound": 2,
  "docs": [
    {
      "key": "/works/OL27448W",
      "title": "The Hobbit",
      "author_name": ["J.R.R. Tolkien"],
      "isbn": ["0261102214", "9780261102217"],
      "publisher": ["HarperCollins"],
      "first_publish_year": 1937,
      "cover_i": 6979861,
      "language": ["eng"],
      "subject": ["Fantasy"],
      "edition_key": ["OL7353617M"]
    },
    {"key": "/works/empty", "title": ""}
  ]
}`

func newOpenLibraryServer(t *testing.T, mux *http.ServeMux) *OpenLibrary {
	t.Helper()
	server := testutil.NewIPv4TestServer(t, mux)
	return NewOpenLibrary(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
}

func TestOpenLibraryFetchByISBN(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/books", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ISBN:9780143127550", r.URL.Query().Get("bibkeys"))
		assert.Equal(t, "data", r.URL.Query().Get("jscmd"))
		_, _ = w.Write([]byte(openLibraryBooksFixture))
	})
	p := newOpenLibraryServer(t, mux)

	records, err := p.FetchByIdentifier(context.Background(), Identifier{ISBN13: "9780143127550"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, book.TagOpenLibrary, r.Provider)
	assert.Equal(t, "OL26328361M", r.ID)
	assert.Equal(t, "Sapiens", r.Title)
	assert.Equal(t, "A Brief History of Humankind", r.Subtitle)
	assert.Equal(t, []string{"Yuval Noah Harari"}, r.Authors)
	assert.Equal(t, "Harper Perennial", r.Publisher)
	assert.Equal(t, 464, r.PageCount)
	assert.Equal(t, "9780143127550", r.ISBN13)
	assert.Equal(t, "0062316117", r.ISBN10)
	assert.Equal(t, "Originally published in Hebrew.", r.Description)
	assert.Equal(t, []string{"Human beings", "Civilization"}, r.Subjects)
	assert.Equal(t, "https://covers.openlibrary.org/b/id/8231856-L.jpg", r.CoverURL)
}

func TestOpenLibraryFetchByNativeID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/books", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "OLID:OL26328361M", r.URL.Query().Get("bibkeys"))
		_, _ = w.Write([]byte(`{"OLID:OL26328361M": {"title": "Sapiens", "key": "/books/OL26328361M"}}`))
	})
	p := newOpenLibraryServer(t, mux)

	records, err := p.FetchByIdentifier(context.Background(), Identifier{Provider: book.TagOpenLibrary, NativeID: "OL26328361M"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Sapiens", records[0].Title)
	assert.Empty(t, records[0].ISBN13)
}

func TestOpenLibraryUnknownISBNIsNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/books", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	p := newOpenLibraryServer(t, mux)

	_, err := p.FetchByIdentifier(context.Background(), Identifier{ISBN13: "9780000000002"})
	assert.True(t, errors.IsNotFound(err))
}

func TestOpenLibrarySearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "The Hobbit", q.Get("title"))
		assert.Equal(t, "Tolkien", q.Get("author"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Empty(t, q.Get("publisher"))
		_, _ = w.Write([]byte(openLibrarySearchFixture))
	})
	p := newOpenLibraryServer(t, mux)

	records, err := p.Search(context.Background(), Criteria{Title: "The Hobbit", Author: "Tolkien", Page: 2, PageSize: 5})
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "OL7353617M", r.ID)
	assert.Equal(t, "The Hobbit", r.Title)
	assert.Equal(t, "9780261102217", r.ISBN13)
	assert.Equal(t, "1937", r.PublishDate)
	assert.Equal(t, "https://covers.openlibrary.org/b/id/6979861-L.jpg", r.CoverURL)
	assert.Equal(t, "eng", r.Language)
}

func TestOpenLibraryMalformed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/books", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[1,2,3]`))
	})
	p := newOpenLibraryServer(t, mux)

	_, err := p.FetchByIdentifier(context.Background(), Identifier{ISBN13: "9780143127550"})
	assert.Equal(t, errors.KindMalformedResponse, errors.KindOf(err))
}

func TestTextValue(t *testing.T) {
	assert.Equal(t, "plain", textValue("plain"))
	assert.Equal(t, "typed", textValue(map[string]any{"type": "/type/text", "value": "typed"}))
	assert.Equal(t, "", textValue(nil))
	assert.Equal(t, "", textValue(42.0))
}
