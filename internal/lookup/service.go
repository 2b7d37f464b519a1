// Package lookup resolves book metadata by fanning a query out to every
// configured provider and reconciling the answers into edition groups.
package lookup

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lepinkainen/bookmeta/internal/book"
	"github.com/lepinkainen/bookmeta/internal/errors"
	"github.com/lepinkainen/bookmeta/internal/providers"
)

var (
	// ErrEmptyCriteria is returned by ByCriteria when no search term is set.
	ErrEmptyCriteria = stdErrors.New("search criteria are empty")
	// ErrUnknownProvider is returned for a native id of a provider that is not configured.
	ErrUnknownProvider = stdErrors.New("provider not configured")
)

// Failure records why one provider contributed nothing to a query.
type Failure struct {
	Provider book.Tag `json:"provider" yaml:"provider"`
	Kind     string   `json:"kind" yaml:"kind"`
	Message  string   `json:"message" yaml:"message"`
	Err      error    `json:"-" yaml:"-"`
}

// PageInfo describes the page a criteria search returned.
type PageInfo struct {
	Page     int `json:"page" yaml:"page"`
	PageSize int `json:"page_size" yaml:"page_size"`
	// Returned is the number of merged records on this page.
	Returned int `json:"returned" yaml:"returned"`
}

// Result is the reconciled answer to one query.
type Result struct {
	Query    string              `json:"query" yaml:"query"`
	Editions []book.EditionGroup `json:"editions" yaml:"editions"`
	Records  []book.MergedRecord `json:"records" yaml:"records"`
	Sources  []book.Tag          `json:"sources" yaml:"sources"`
	Failures []Failure           `json:"failures,omitempty" yaml:"failures,omitempty"`
	Page     *PageInfo           `json:"page,omitempty" yaml:"page,omitempty"`
}

// Partial reports whether at least one provider failed.
func (r *Result) Partial() bool {
	return len(r.Failures) > 0
}

// NotFoundError is returned when no provider produced a usable record. It
// matches errors.ErrNotFound and keeps each provider's failure.
type NotFoundError struct {
	Query    string
	Failures []Failure
}

func (e *NotFoundError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("%s: no providers answered", e.Query)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s=%s", f.Provider, f.Kind))
	}
	return fmt.Sprintf("no records for %s (%s)", e.Query, strings.Join(parts, ", "))
}

func (e *NotFoundError) Unwrap() error {
	return errors.ErrNotFound
}

// PrewarmHook receives pre-warm failures.
type PrewarmHook func(query string, err error)

// Service runs lookups across providers.
type Service struct {
	providers []providers.Provider
	merger    *book.Merger
	logger    *slog.Logger
	onPrewarm PrewarmHook
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPrewarmHook sets the callback for failed pre-warm queries.
func WithPrewarmHook(hook PrewarmHook) Option {
	return func(s *Service) {
		s.onPrewarm = hook
	}
}

// NewService creates a Service. A nil merger uses the default policy and scorer.
func NewService(ps []providers.Provider, merger *book.Merger, opts ...Option) *Service {
	if merger == nil {
		merger = book.NewMerger(book.DefaultPolicy(), nil)
	}
	s := &Service{
		providers: ps,
		merger:    merger,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Providers returns the configured provider tags in registration order.
func (s *Service) Providers() []book.Tag {
	tags := make([]book.Tag, 0, len(s.providers))
	for _, p := range s.providers {
		tags = append(tags, p.Tag())
	}
	return tags
}

// ByIdentifier resolves an ISBN or "<provider>:<id>" reference. ISBNs go to
// every provider; a native id only to the provider that owns it.
func (s *Service) ByIdentifier(ctx context.Context, raw string) (*Result, error) {
	id, err := providers.ParseIdentifier(raw)
	if err != nil {
		return nil, err
	}

	targets := s.providers
	if !id.IsISBN() {
		targets = nil
		for _, p := range s.providers {
			if p.Tag() == id.Provider {
				targets = append(targets, p)
			}
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id.Provider)
		}
	}

	return s.run(ctx, id.String(), targets, func(ctx context.Context, p providers.Provider) ([]book.Record, error) {
		return p.FetchByIdentifier(ctx, id)
	})
}

// ByCriteria runs one page of a free-text search.
func (s *Service) ByCriteria(ctx context.Context, c providers.Criteria) (*Result, error) {
	if c.IsEmpty() {
		return nil, ErrEmptyCriteria
	}
	c = c.Normalize()

	res, err := s.run(ctx, describeCriteria(c), s.providers, func(ctx context.Context, p providers.Provider) ([]book.Record, error) {
		return p.Search(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	res.Page = &PageInfo{Page: c.Page, PageSize: c.PageSize, Returned: len(res.Records)}
	return res, nil
}

// Prewarm issues each query once so the provider caches are populated
// before real traffic. A query that parses as an identifier is looked up as
// one; anything else is read as "title|author" and searched. Failures are
// logged and passed to the pre-warm hook. Returns the number of queries that
// produced records.
func (s *Service) Prewarm(ctx context.Context, queries []string) int {
	warmed := 0
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		var err error
		if _, perr := providers.ParseIdentifier(q); perr == nil {
			_, err = s.ByIdentifier(ctx, q)
		} else {
			title, author, _ := strings.Cut(q, "|")
			_, err = s.ByCriteria(ctx, providers.Criteria{Title: strings.TrimSpace(title), Author: strings.TrimSpace(author)})
		}

		if err != nil {
			s.logger.Warn("Pre-warm query failed", "query", q, "error", err)
			if s.onPrewarm != nil {
				s.onPrewarm(q, err)
			}
			continue
		}
		warmed++
	}

	s.logger.Info("Cache pre-warm finished", "queries", len(queries), "warmed", warmed)
	return warmed
}

type fetchFunc func(ctx context.Context, p providers.Provider) ([]book.Record, error)

type outcome struct {
	records []book.Record
	err     error
}

// run fans the query out, merges whatever came back and groups editions.
// A provider failure never cancels its siblings.
func (s *Service) run(ctx context.Context, query string, targets []providers.Provider, fetch fetchFunc) (*Result, error) {
	outcomes := make([]outcome, len(targets))

	var g errgroup.Group
	for i, p := range targets {
		g.Go(func() error {
			records, err := fetch(ctx, p)
			outcomes[i] = outcome{records: records, err: err}
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Query: query}
	var results []book.SourceResult
	for i, p := range targets {
		o := outcomes[i]
		tag := p.Tag()
		if o.err != nil {
			s.logger.Debug("Provider failed", "provider", tag, "query", query, "error", o.err)
			res.Failures = append(res.Failures, newFailure(tag, o.err))
			continue
		}
		if len(o.records) == 0 {
			continue
		}
		s.logger.Debug("Provider returned records", "provider", tag, "query", query, "count", len(o.records))
		results = append(results, book.SourceResult{Provider: tag, Records: o.records})
		res.Sources = append(res.Sources, tag)
	}

	if len(results) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("lookup %s: %w", query, err)
		}
		return nil, &NotFoundError{Query: query, Failures: res.Failures}
	}

	res.Records = s.merger.Merge(results)
	res.Editions = book.GroupEditions(res.Records)
	return res, nil
}

func newFailure(tag book.Tag, err error) Failure {
	return Failure{
		Provider: tag,
		Kind:     errors.KindOf(err).String(),
		Message:  err.Error(),
		Err:      err,
	}
}

func describeCriteria(c providers.Criteria) string {
	var parts []string
	add := func(name, value string) {
		if value != "" {
			parts = append(parts, name+"="+value)
		}
	}
	add("title", c.Title)
	add("author", c.Author)
	add("publisher", c.Publisher)
	add("subject", c.Subject)
	parts = append(parts, fmt.Sprintf("page=%d", c.Page), fmt.Sprintf("page_size=%d", c.PageSize))
	return strings.Join(parts, " ")
}
