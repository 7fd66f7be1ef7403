// Package listview holds the client-side view state of a list page: filter
// predicates, sort order, the pagination cursor and the selection set. The
// visible page is always derived from the full source collection.
//
// A ViewModel is not safe for concurrent use; callers that share one across
// goroutines must serialise access.
package listview

import (
	"cmp"
	"slices"
	"strings"

	"github.com/pitabwire/vigil/model"
)

// DefaultPageSize is used when a page definition does not set one.
const DefaultPageSize = 10

// Sort orders the filtered collection before paging.
type Sort struct {
	Field string `json:"field,omitempty"`
	Desc  bool   `json:"desc,omitempty"`
}

// Options configure which item fields the predicates look at.
type Options struct {
	SearchFields  []string
	TagField      string
	NumericFields []string
	PageSize      int
	Sort          Sort
}

// Visible is the derived view of one page.
type Visible struct {
	Items      []model.Item `json:"items"`
	TotalCount int          `json:"total_count"`
	// PageStart and PageEnd are the 1-based positions of the first and last
	// visible item within the filtered set, or 0 when it is empty.
	PageStart  int `json:"page_start"`
	PageEnd    int `json:"page_end"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// ViewModel maintains filter predicates and the pagination cursor over a
// source collection.
type ViewModel struct {
	source       []model.Item
	filters      FilterState
	sort         Sort
	searchFields []string
	tagField     string
	numeric      map[string]bool
	pageSize     int
	currentPage  int
}

// New creates an empty ViewModel.
func New(opts Options) *ViewModel {
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	numeric := make(map[string]bool, len(opts.NumericFields))
	for _, f := range opts.NumericFields {
		numeric[f] = true
	}
	return &ViewModel{
		sort:         opts.Sort,
		searchFields: slices.Clone(opts.SearchFields),
		tagField:     opts.TagField,
		numeric:      numeric,
		pageSize:     pageSize,
		currentPage:  1,
	}
}

// SetSource replaces the whole source collection. The current page is kept
// if it is still in range and clamped otherwise.
func (v *ViewModel) SetSource(items []model.Item) {
	v.source = slices.Clone(items)
	v.clampPage()
}

// Find returns the source item with the given id, whether or not the
// current filters show it.
func (v *ViewModel) Find(id string) (model.Item, bool) {
	for _, it := range v.source {
		if it.ID == id {
			return it, true
		}
	}
	return model.Item{}, false
}

// SetFilter sets one equality predicate, or a lower bound when the field is
// numeric. An empty value clears the predicate, as does numeric input that
// does not parse. The page is reset to 1.
func (v *ViewModel) SetFilter(field, value string) {
	field = strings.TrimSpace(field)
	if field == "" {
		return
	}
	if v.numeric[field] {
		delete(v.filters.MinNumbers, field)
		if n, ok := parseLenientNumber(value); ok {
			if v.filters.MinNumbers == nil {
				v.filters.MinNumbers = make(map[string]float64)
			}
			v.filters.MinNumbers[field] = n
		}
	} else {
		delete(v.filters.Equals, field)
		if value != "" {
			if v.filters.Equals == nil {
				v.filters.Equals = make(map[string]string)
			}
			v.filters.Equals[field] = value
		}
	}
	v.currentPage = 1
}

// SetTagFilter sets the tag-membership predicate and resets the page.
func (v *ViewModel) SetTagFilter(tag string) {
	v.filters.Tag = strings.TrimSpace(tag)
	v.currentPage = 1
}

// SetSearchText sets the free-text predicate and resets the page.
func (v *ViewModel) SetSearchText(text string) {
	v.filters.Query = text
	v.currentPage = 1
}

// ClearFilters removes every predicate and resets the page.
func (v *ViewModel) ClearFilters() {
	v.filters = FilterState{}
	v.currentPage = 1
}

// Filters returns a copy of the current predicates.
func (v *ViewModel) Filters() FilterState { return v.filters.clone() }

// SetSort changes the ordering of the filtered collection. The page is kept.
func (v *ViewModel) SetSort(field string, desc bool) {
	v.sort = Sort{Field: strings.TrimSpace(field), Desc: desc}
}

// Sort returns the current ordering.
func (v *ViewModel) Sort() Sort { return v.sort }

// GoToPage moves the cursor to page n clamped into [1, TotalPages].
func (v *ViewModel) GoToPage(n int) {
	v.currentPage = clamp(n, 1, v.TotalPages())
}

// SetPageSize changes the page size and resets the page. Values below 1 are
// ignored.
func (v *ViewModel) SetPageSize(n int) {
	if n < 1 {
		return
	}
	v.pageSize = n
	v.currentPage = 1
}

// PageSize returns the current page size.
func (v *ViewModel) PageSize() int { return v.pageSize }

// CurrentPage returns the 1-based current page.
func (v *ViewModel) CurrentPage() int { return v.currentPage }

// Filtered returns the source items that satisfy every predicate, in sort
// order. Source items are never modified.
func (v *ViewModel) Filtered() []model.Item {
	m := newMatcher(v.filters, v.searchFields, v.tagField)
	out := make([]model.Item, 0, len(v.source))
	for _, it := range v.source {
		if m.match(it) {
			out = append(out, it)
		}
	}
	if v.sort.Field != "" {
		slices.SortStableFunc(out, v.compare)
	}
	return out
}

// TotalPages returns max(1, ceil(filtered/pageSize)).
func (v *ViewModel) TotalPages() int {
	return totalPages(len(v.Filtered()), v.pageSize)
}

// ComputeVisible derives the current page. It does not change any state.
func (v *ViewModel) ComputeVisible() Visible {
	filtered := v.Filtered()
	total := len(filtered)
	pages := totalPages(total, v.pageSize)
	page := clamp(v.currentPage, 1, pages)

	vis := Visible{
		Items:      []model.Item{},
		TotalCount: total,
		Page:       page,
		PageSize:   v.pageSize,
		TotalPages: pages,
	}
	if total == 0 {
		return vis
	}
	start := (page - 1) * v.pageSize
	end := min(start+v.pageSize, total)
	vis.Items = filtered[start:end]
	vis.PageStart = start + 1
	vis.PageEnd = end
	return vis
}

// VisibleIDs returns the ids of the items on the current page.
func (v *ViewModel) VisibleIDs() []string {
	return ids(v.ComputeVisible().Items)
}

// FilteredIDs returns the ids of every item in the filtered set.
func (v *ViewModel) FilteredIDs() []string {
	return ids(v.Filtered())
}

func (v *ViewModel) clampPage() {
	v.currentPage = clamp(v.currentPage, 1, v.TotalPages())
}

func (v *ViewModel) compare(a, b model.Item) int {
	var c int
	an, aok := a.Number(v.sort.Field)
	bn, bok := b.Number(v.sort.Field)
	if aok && bok {
		c = cmp.Compare(an, bn)
	} else {
		c = strings.Compare(strings.ToLower(a.String(v.sort.Field)), strings.ToLower(b.String(v.sort.Field)))
	}
	if v.sort.Desc {
		return -c
	}
	return c
}

func totalPages(count, pageSize int) int {
	if pageSize < 1 || count == 0 {
		return 1
	}
	return (count + pageSize - 1) / pageSize
}

func clamp(n, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return max(lo, min(n, hi))
}

func ids(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
