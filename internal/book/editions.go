package book

import (
	"sort"
)

// BindingGroup holds the merged records of one binding within an edition.
type BindingGroup struct {
	Binding Binding        `json:"binding" yaml:"binding"`
	Records []MergedRecord `json:"records" yaml:"records"`
}

// EditionGroup is one edition of a work: the same title, author and
// publication year, with each binding kept as a distinct sibling.
type EditionGroup struct {
	WorkKey  string         `json:"work_key" yaml:"work_key"`
	Title    string         `json:"title" yaml:"title"`
	Authors  []string       `json:"authors,omitempty" yaml:"authors,omitempty"`
	Year     int            `json:"year,omitempty" yaml:"year,omitempty"`
	HasCover bool           `json:"has_cover" yaml:"has_cover"`
	Sources  []Tag          `json:"sources" yaml:"sources"`
	Bindings []BindingGroup `json:"bindings" yaml:"bindings"`
}

// Records returns every record in the group, binding by binding.
func (g *EditionGroup) Records() []MergedRecord {
	var out []MergedRecord
	for _, b := range g.Bindings {
		out = append(out, b.Records...)
	}
	return out
}

var bindingOrder = map[Binding]int{
	BindingHardcover: 0,
	BindingPaperback: 1,
	BindingEbook:     2,
	BindingAudiobook: 3,
	BindingOther:     4,
	BindingUnknown:   5,
}

// GroupEditions buckets records by work, then by publication year, then by
// binding. A record without a year joins its work's only dated edition when
// there is exactly one; otherwise undated records form their own group.
//
// Groups are ordered most recent year first (undated last), then groups with
// a cover, then groups corroborated by more sources.
func GroupEditions(records []MergedRecord) []EditionGroup {
	works := make(map[string][]MergedRecord)
	var workKeys []string
	for _, r := range records {
		author := ""
		if len(r.Authors) > 0 {
			author = r.Authors[0]
		}
		wk := WorkKey(r.Title, author)
		if normalizeText(r.Title) == "" {
			// Untitled records cannot be matched to a work
			wk = r.Key
		}
		if _, ok := works[wk]; !ok {
			workKeys = append(workKeys, wk)
		}
		works[wk] = append(works[wk], r)
	}

	var groups []EditionGroup
	for _, wk := range workKeys {
		groups = append(groups, groupWork(wk, works[wk])...)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Year != b.Year {
			if a.Year == 0 || b.Year == 0 {
				return b.Year == 0
			}
			return a.Year > b.Year
		}
		if a.HasCover != b.HasCover {
			return a.HasCover
		}
		return len(a.Sources) > len(b.Sources)
	})
	return groups
}

func groupWork(workKey string, records []MergedRecord) []EditionGroup {
	byYear := make(map[int][]MergedRecord)
	var years []int
	var undated []MergedRecord
	for _, r := range records {
		if r.Year == 0 {
			undated = append(undated, r)
			continue
		}
		if _, ok := byYear[r.Year]; !ok {
			years = append(years, r.Year)
		}
		byYear[r.Year] = append(byYear[r.Year], r)
	}

	if len(undated) > 0 {
		if len(years) == 1 {
			byYear[years[0]] = append(byYear[years[0]], undated...)
		} else {
			years = append(years, 0)
			byYear[0] = undated
		}
	}

	groups := make([]EditionGroup, 0, len(years))
	for _, year := range years {
		groups = append(groups, newEditionGroup(workKey, year, byYear[year]))
	}
	return groups
}

func newEditionGroup(workKey string, year int, records []MergedRecord) EditionGroup {
	g := EditionGroup{WorkKey: workKey, Year: year}

	lead := records[0]
	for _, r := range records[1:] {
		if r.Confidence > lead.Confidence {
			lead = r
		}
	}
	g.Title = lead.Title
	g.Authors = lead.Authors

	byBinding := make(map[Binding][]MergedRecord)
	seen := make(map[Tag]bool)
	for _, r := range records {
		byBinding[r.Binding] = append(byBinding[r.Binding], r)
		if r.CoverURL != "" {
			g.HasCover = true
		}
		for _, s := range r.Sources {
			if !seen[s] {
				seen[s] = true
				g.Sources = append(g.Sources, s)
			}
		}
	}

	for binding, recs := range byBinding {
		g.Bindings = append(g.Bindings, BindingGroup{Binding: binding, Records: recs})
	}
	sort.Slice(g.Bindings, func(i, j int) bool {
		ri, rj := bindingRank(g.Bindings[i].Binding), bindingRank(g.Bindings[j].Binding)
		if ri != rj {
			return ri < rj
		}
		return g.Bindings[i].Binding < g.Bindings[j].Binding
	})
	return g
}

func bindingRank(b Binding) int {
	if r, ok := bindingOrder[b]; ok {
		return r
	}
	return len(bindingOrder)
}
