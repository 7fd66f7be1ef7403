package listview

import (
	"slices"
	"strconv"
	"strings"

	"github.com/pitabwire/vigil/model"
)

// FilterState is the tuple of independent predicates applied to the source
// collection. All predicates are ANDed; an unset predicate always matches.
type FilterState struct {
	// Query is a case-insensitive substring matched against the search
	// fields and every tag. A match in any of them satisfies the predicate.
	Query string `json:"query,omitempty"`
	// Equals holds categorical equality predicates keyed by field.
	Equals map[string]string `json:"equals,omitempty"`
	// Tag requires the item's tag list to contain this value.
	Tag string `json:"tag,omitempty"`
	// MinNumbers holds lower bounds for numeric fields.
	MinNumbers map[string]float64 `json:"min_numbers,omitempty"`
}

// IsZero reports whether no predicate is set.
func (f FilterState) IsZero() bool {
	return f.Query == "" && f.Tag == "" && len(f.Equals) == 0 && len(f.MinNumbers) == 0
}

func (f FilterState) clone() FilterState {
	out := FilterState{Query: f.Query, Tag: f.Tag}
	if len(f.Equals) > 0 {
		out.Equals = make(map[string]string, len(f.Equals))
		for k, v := range f.Equals {
			out.Equals[k] = v
		}
	}
	if len(f.MinNumbers) > 0 {
		out.MinNumbers = make(map[string]float64, len(f.MinNumbers))
		for k, v := range f.MinNumbers {
			out.MinNumbers[k] = v
		}
	}
	return out
}

// matcher evaluates a FilterState against items. The query is lowered once.
type matcher struct {
	state        FilterState
	query        string
	searchFields []string
	tagField     string
}

func newMatcher(state FilterState, searchFields []string, tagField string) matcher {
	return matcher{
		state:        state,
		query:        strings.ToLower(strings.TrimSpace(state.Query)),
		searchFields: searchFields,
		tagField:     tagField,
	}
}

func (m matcher) match(it model.Item) bool {
	for field, want := range m.state.Equals {
		if it.String(field) != want {
			return false
		}
	}
	for field, min := range m.state.MinNumbers {
		n, ok := it.Number(field)
		if !ok || n < min {
			return false
		}
	}
	if m.state.Tag != "" {
		if m.tagField == "" || !slices.Contains(it.Strings(m.tagField), m.state.Tag) {
			return false
		}
	}
	if m.query != "" && !m.matchQuery(it) {
		return false
	}
	return true
}

func (m matcher) matchQuery(it model.Item) bool {
	for _, field := range m.searchFields {
		if strings.Contains(strings.ToLower(it.String(field)), m.query) {
			return true
		}
	}
	if m.tagField != "" {
		for _, tag := range it.Strings(m.tagField) {
			if strings.Contains(strings.ToLower(tag), m.query) {
				return true
			}
		}
	}
	return false
}

// parseLenientNumber parses user input for a numeric filter. Input that does
// not parse means "no constraint".
func parseLenientNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
