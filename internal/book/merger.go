package book

import (
	"sort"
	"strconv"
	"strings"

	"github.com/lepinkainen/bookmeta/internal/isbn"
)

// Field names a mergeable record field.
type Field string

const (
	FieldTitle       Field = "title"
	FieldSubtitle    Field = "subtitle"
	FieldAuthors     Field = "authors"
	FieldPublisher   Field = "publisher"
	FieldPublishDate Field = "publish_date"
	FieldDescription Field = "description"
	FieldPageCount   Field = "page_count"
	FieldCover       Field = "cover"
	FieldLanguage    Field = "language"
	FieldBinding     Field = "binding"
)

// Policy decides which provider wins each field. Providers missing from an
// ordering rank after the listed ones, alphabetically.
type Policy struct {
	Precedence      []Tag           `json:"precedence" yaml:"precedence"`
	FieldPrecedence map[Field][]Tag `json:"field_precedence,omitempty" yaml:"field_precedence,omitempty"`
}

// DefaultPolicy prefers ISBNdb, then OpenLibrary, then Google Books, except
// for covers where Google Books comes first.
func DefaultPolicy() Policy {
	return Policy{
		Precedence: []Tag{TagISBNdb, TagOpenLibrary, TagGoogleBooks},
		FieldPrecedence: map[Field][]Tag{
			FieldCover: {TagGoogleBooks, TagOpenLibrary, TagISBNdb},
		},
	}
}

func (p Policy) order(field Field) []Tag {
	if tags, ok := p.FieldPrecedence[field]; ok && len(tags) > 0 {
		return tags
	}
	return p.Precedence
}

func (p Policy) rank(field Field, tag Tag) int {
	for i, t := range p.order(field) {
		if t == tag {
			return i
		}
	}
	return len(p.order(field))
}

// sortByRank orders records for field, keeping input order within a provider.
func (p Policy) sortByRank(field Field, records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := p.rank(field, out[i].Provider), p.rank(field, out[j].Provider)
		if ri != rj {
			return ri < rj
		}
		if ri == len(p.order(field)) {
			return out[i].Provider < out[j].Provider
		}
		return false
	})
	return out
}

// ScoreInput is what a Scorer sees about one merged group.
type ScoreInput struct {
	Key       string
	ByISBN    bool
	Sources   int
	Records   int
	Conflicts int
}

// Scorer turns agreement information into a confidence in [0,1].
type Scorer func(ScoreInput) float64

// DefaultScorer starts at 0.5 for ISBN keys (0.35 for title/author keys),
// adds 0.15 per additional independent source, and subtracts 0.05 per
// conflicting field.
func DefaultScorer(in ScoreInput) float64 {
	score := 0.35
	if in.ByISBN {
		score = 0.5
	}
	if in.Sources > 1 {
		score += 0.15 * float64(in.Sources-1)
	}
	score -= 0.05 * float64(in.Conflicts)
	return clamp01(score)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// MergedRecord is the union of every record that shares a dedup key.
type MergedRecord struct {
	Key         string   `json:"key" yaml:"key"`
	Title       string   `json:"title" yaml:"title"`
	Subtitle    string   `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	Authors     []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	ISBN10      string   `json:"isbn10,omitempty" yaml:"isbn10,omitempty"`
	ISBN13      string   `json:"isbn13,omitempty" yaml:"isbn13,omitempty"`
	ISBNs       []string `json:"isbns,omitempty" yaml:"isbns,omitempty"`
	Publisher   string   `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	PublishDate string   `json:"publish_date,omitempty" yaml:"publish_date,omitempty"`
	Year        int      `json:"year,omitempty" yaml:"year,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	PageCount   int      `json:"page_count,omitempty" yaml:"page_count,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty" yaml:"cover_url,omitempty"`
	Language    string   `json:"language,omitempty" yaml:"language,omitempty"`
	Subjects    []string `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	Binding     Binding  `json:"binding,omitempty" yaml:"binding,omitempty"`
	Sources     []Tag    `json:"sources" yaml:"sources"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
	Conflicts   []Field  `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

// HasSource reports whether tag contributed to the record.
func (m *MergedRecord) HasSource(tag Tag) bool {
	for _, s := range m.Sources {
		if s == tag {
			return true
		}
	}
	return false
}

// Merger deduplicates provider results and merges each group.
type Merger struct {
	policy Policy
	scorer Scorer
}

// NewMerger creates a Merger. A nil scorer uses DefaultScorer and an empty
// precedence uses DefaultPolicy.
func NewMerger(policy Policy, scorer Scorer) *Merger {
	if len(policy.Precedence) == 0 {
		defaults := DefaultPolicy()
		policy.Precedence = defaults.Precedence
		if policy.FieldPrecedence == nil {
			policy.FieldPrecedence = defaults.FieldPrecedence
		}
	}
	if scorer == nil {
		scorer = DefaultScorer
	}
	return &Merger{policy: policy, scorer: scorer}
}

// Policy returns the merge policy in use.
func (m *Merger) Policy() Policy {
	return m.policy
}

// Merge groups every record by KeyFor and returns one MergedRecord per key.
// Output follows the order in which keys first appear once the results are
// arranged by provider precedence.
func (m *Merger) Merge(results []SourceResult) []MergedRecord {
	ordered := make([]SourceResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return m.policy.rank("", ordered[i].Provider) < m.policy.rank("", ordered[j].Provider)
	})

	groups := make(map[string][]Record)
	var keys []string
	for _, result := range ordered {
		for _, rec := range result.Records {
			if rec.Provider == "" {
				rec.Provider = result.Provider
			}
			key := KeyFor(rec)
			if _, ok := groups[key]; !ok {
				keys = append(keys, key)
			}
			groups[key] = append(groups[key], rec)
		}
	}

	merged := make([]MergedRecord, 0, len(keys))
	for _, key := range keys {
		merged = append(merged, m.mergeGroup(key, groups[key]))
	}
	return merged
}

func (m *Merger) mergeGroup(key string, records []Record) MergedRecord {
	out := MergedRecord{Key: key}

	out.Title = pickString(m.policy.sortByRank(FieldTitle, records), func(r Record) string { return r.Title })
	out.Subtitle = pickString(m.policy.sortByRank(FieldSubtitle, records), func(r Record) string { return r.Subtitle })
	out.Publisher = pickString(m.policy.sortByRank(FieldPublisher, records), func(r Record) string { return r.Publisher })
	out.PublishDate = pickString(m.policy.sortByRank(FieldPublishDate, records), func(r Record) string { return r.PublishDate })
	out.Description = pickString(m.policy.sortByRank(FieldDescription, records), func(r Record) string { return r.Description })
	out.CoverURL = pickString(m.policy.sortByRank(FieldCover, records), func(r Record) string { return r.CoverURL })
	out.Language = pickString(m.policy.sortByRank(FieldLanguage, records), func(r Record) string { return r.Language })
	out.Binding = Binding(pickString(m.policy.sortByRank(FieldBinding, records), func(r Record) string { return string(r.Binding) }))

	for _, r := range m.policy.sortByRank(FieldAuthors, records) {
		if len(r.Authors) > 0 {
			out.Authors = r.Authors
			break
		}
	}
	for _, r := range m.policy.sortByRank(FieldPageCount, records) {
		if r.PageCount > 0 {
			out.PageCount = r.PageCount
			break
		}
	}

	out.Year = ExtractYear(out.PublishDate)

	var rawISBNs []string
	for _, r := range m.policy.sortByRank("", records) {
		rawISBNs = append(rawISBNs, r.ISBN13, r.ISBN10)
		out.Subjects = mergeStringSlices(out.Subjects, r.Subjects)
	}
	out.ISBNs = isbn.ExtractUniqueISBNs(rawISBNs...)
	if IsISBNKey(key) {
		out.ISBN13 = strings.TrimPrefix(key, isbnKeyPrefix)
	} else if len(out.ISBNs) > 0 {
		out.ISBN13 = out.ISBNs[0]
	}
	if out.ISBN13 != "" {
		if isbn10, err := isbn.ToISBN10(out.ISBN13); err == nil {
			out.ISBN10 = isbn10
		}
	}

	out.Sources = m.sources(records)
	out.Conflicts = conflicts(records)
	out.Confidence = m.scorer(ScoreInput{
		Key:       key,
		ByISBN:    IsISBNKey(key),
		Sources:   len(out.Sources),
		Records:   len(records),
		Conflicts: len(out.Conflicts),
	})

	return out
}

func (m *Merger) sources(records []Record) []Tag {
	seen := make(map[Tag]bool)
	var tags []Tag
	for _, r := range m.policy.sortByRank("", records) {
		if !seen[r.Provider] {
			seen[r.Provider] = true
			tags = append(tags, r.Provider)
		}
	}
	return tags
}

func pickString(records []Record, get func(Record) string) string {
	for _, r := range records {
		if v := strings.TrimSpace(get(r)); v != "" {
			return v
		}
	}
	return ""
}

// conflicts lists the fields where two providers report different non-empty
// values. Descriptions, covers and subjects legitimately differ and are
// never counted.
func conflicts(records []Record) []Field {
	checks := []struct {
		field Field
		value func(Record) string
	}{
		{FieldTitle, func(r Record) string { return normalizeText(r.Title) }},
		{FieldAuthors, func(r Record) string { return normalizeText(strings.Join(r.Authors, " ")) }},
		{FieldPublisher, func(r Record) string { return normalizeText(r.Publisher) }},
		{FieldPublishDate, func(r Record) string {
			if y := r.Year(); y > 0 {
				return strconv.Itoa(y)
			}
			return ""
		}},
		{FieldPageCount, func(r Record) string {
			if r.PageCount > 0 {
				return strconv.Itoa(r.PageCount)
			}
			return ""
		}},
		{FieldLanguage, func(r Record) string { return strings.ToLower(strings.TrimSpace(r.Language)) }},
	}

	var out []Field
	for _, check := range checks {
		values := make(map[Tag]string)
		distinct := make(map[string]bool)
		for _, r := range records {
			v := check.value(r)
			if v == "" {
				continue
			}
			if _, ok := values[r.Provider]; ok {
				continue
			}
			values[r.Provider] = v
			distinct[v] = true
		}
		if len(distinct) > 1 {
			out = append(out, check.field)
		}
	}
	return out
}

// mergeStringSlices merges two string slices, removing duplicates.
func mergeStringSlices(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	return result
}
