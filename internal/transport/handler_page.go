package transport

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/vigil/internal/console"
	"github.com/pitabwire/vigil/internal/listview"
	"github.com/pitabwire/vigil/model"
)

func handleListPages(c *console.Console) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"pages": c.Pages()})
	}
}

// lookupPage resolves the {pageId} URL parameter, writing a 404 when the
// page does not exist.
func lookupPage(c *console.Console, w http.ResponseWriter, r *http.Request) (*console.ListPage, bool) {
	id := chi.URLParam(r, "pageId")
	p, ok := c.Page(id)
	if !ok {
		WriteNotFound(w, r, "page "+id+" not found")
	}
	return p, ok
}

func handleGetPage(c *console.Console) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := lookupPage(c, w, r)
		if !ok {
			return
		}
		q, err := parseQuery(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, p.Apply(q))
	}
}

func handleRefreshPage(c *console.Console) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := lookupPage(c, w, r)
		if !ok {
			return
		}
		if err := p.Refresh(r.Context()); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, p.View())
	}
}

type searchRequest struct {
	Text  string `json:"text"`
	Flush bool   `json:"flush"`
}

// handleTypeSearch feeds keystrokes to the page's debounced search input.
// The new predicate applies once input has been quiet, or at once with
// flush set.
func handleTypeSearch(c *console.Console) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := lookupPage(c, w, r)
		if !ok {
			return
		}
		var req searchRequest
		if err := decodeBody(r, &req, false); err != nil {
			WriteError(w, r, err)
			return
		}
		p.TypeSearch(req.Text)
		if req.Flush {
			p.FlushSearch()
			WriteJSON(w, http.StatusOK, p.View())
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleGetSelection(c *console.Console) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, ok := lookupPage(c, w, r); ok {
			WriteJSON(w, http.StatusOK, p.SelectionView())
		}
	}
}

func handleClearSelection(c *console.Console) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, ok := lookupPage(c, w, r); ok {
			WriteJSON(w, http.StatusOK, p.ClearSelection())
		}
	}
}

func handleToggleSelection(c *console.Console) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := lookupPage(c, w, r)
		if !ok {
			return
		}
		if !p.Definition().Selectable {
			WriteError(w, r, model.NewBadRequestError("page "+p.ID()+" does not support selection"))
			return
		}
		WriteJSON(w, http.StatusOK, p.ToggleSelected(chi.URLParam(r, "itemId")))
	}
}

func handleSelectVisible(c *console.Console) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := lookupPage(c, w, r)
		if !ok {
			return
		}
		if !p.Definition().Selectable {
			WriteError(w, r, model.NewBadRequestError("page "+p.ID()+" does not support selection"))
			return
		}
		WriteJSON(w, http.StatusOK, p.SelectAllVisible())
	}
}

// parseQuery reads the view changes carried by the query string. Absent
// parameters leave the view as it is; filter.<field> sets one filter and an
// empty value clears it.
func parseQuery(r *http.Request) (console.Query, error) {
	values := r.URL.Query()
	var q console.Query
	var bad []model.FieldError

	if values.Has("q") {
		s := values.Get("q")
		q.Search = &s
	}
	if values.Has("tag") {
		s := values.Get("tag")
		q.Tag = &s
	}
	if n, ok, err := queryInt(values.Get("page"), values.Has("page")); err != nil {
		bad = append(bad, model.FieldError{Field: "page", Code: "INVALID_TYPE", Message: "page must be an integer"})
	} else if ok {
		q.Page = &n
	}
	if n, ok, err := queryInt(values.Get("page_size"), values.Has("page_size")); err != nil {
		bad = append(bad, model.FieldError{Field: "page_size", Code: "INVALID_TYPE", Message: "page_size must be an integer"})
	} else if ok {
		q.PageSize = &n
	}
	if values.Has("sort") {
		dir := strings.ToLower(values.Get("sort_dir"))
		if dir != "" && dir != "asc" && dir != "desc" {
			bad = append(bad, model.FieldError{Field: "sort_dir", Code: "INVALID", Message: "sort_dir must be asc or desc"})
		}
		q.Sort = &listview.Sort{Field: values.Get("sort"), Desc: dir == "desc"}
	}
	if v, err := strconv.ParseBool(values.Get("clear")); err == nil && v {
		q.Clear = true
	}
	for key, vals := range values {
		field, ok := strings.CutPrefix(key, "filter.")
		if !ok || field == "" || len(vals) == 0 {
			continue
		}
		if q.Filters == nil {
			q.Filters = make(map[string]string)
		}
		q.Filters[field] = vals[0]
	}

	if len(bad) > 0 {
		return console.Query{}, model.NewValidationError(bad)
	}
	return q, nil
}

func queryInt(s string, present bool) (int, bool, error) {
	if !present || s == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
