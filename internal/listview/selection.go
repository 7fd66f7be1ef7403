package listview

import "slices"

// Selection is a set of item ids chosen for batch operations. Ids are not
// validated against any collection when added; use Resolve at the moment an
// action runs to interpret the selection against the current view.
type Selection struct {
	ids map[string]struct{}
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

// Toggle adds id if absent and removes it otherwise.
func (s *Selection) Toggle(id string) {
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return
	}
	s.ids[id] = struct{}{}
}

// IsSelected reports whether id is in the selection.
func (s *Selection) IsSelected(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// SelectAllVisible adds every visible id, unless all of them are already
// selected, in which case the whole selection is cleared. With no visible
// ids it does nothing.
func (s *Selection) SelectAllVisible(visible []string) {
	if len(visible) == 0 {
		return
	}
	if s.allSelected(visible) {
		s.Clear()
		return
	}
	for _, id := range visible {
		s.ids[id] = struct{}{}
	}
}

// AllSelected reports whether every id in visible is selected.
func (s *Selection) AllSelected(visible []string) bool {
	return len(visible) > 0 && s.allSelected(visible)
}

func (s *Selection) allSelected(visible []string) bool {
	for _, id := range visible {
		if _, ok := s.ids[id]; !ok {
			return false
		}
	}
	return true
}

// Clear empties the selection.
func (s *Selection) Clear() {
	clear(s.ids)
}

// Len returns the number of selected ids, including ones no longer in view.
func (s *Selection) Len() int { return len(s.ids) }

// IDs returns all selected ids in sorted order.
func (s *Selection) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Resolve returns the selected ids that are present in valid, in the order
// of valid. Ids hidden by the current filters are left out but stay selected.
func (s *Selection) Resolve(valid []string) []string {
	out := make([]string, 0, min(len(valid), len(s.ids)))
	for _, id := range valid {
		if _, ok := s.ids[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Prune drops every selected id not present in valid and returns how many
// were removed.
func (s *Selection) Prune(valid []string) int {
	keep := make(map[string]struct{}, len(valid))
	for _, id := range valid {
		keep[id] = struct{}{}
	}
	removed := 0
	for id := range s.ids {
		if _, ok := keep[id]; !ok {
			delete(s.ids, id)
			removed++
		}
	}
	return removed
}
