// Package console holds the page view-models of the console: list pages
// over backend collections and the plugin review workflow built on them.
// View-models are safe for concurrent use; HTTP handlers and event
// listeners call into them from different goroutines.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/vigil/internal/events"
	"github.com/pitabwire/vigil/internal/gateway"
	"github.com/pitabwire/vigil/internal/listview"
	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/model"
)

// DefaultRefreshTimeout bounds refreshes triggered by backend events.
const DefaultRefreshTimeout = 30 * time.Second

// PageOption configures a ListPage.
type PageOption func(*ListPage)

// WithBus subscribes the page to its refresh_on events.
func WithBus(bus events.Bus) PageOption {
	return func(p *ListPage) { p.bus = bus }
}

// WithNotifier sets where refresh failures are reported.
func WithNotifier(n Notifier) PageOption {
	return func(p *ListPage) { p.notifier = n }
}

// WithPageLogger sets the page logger.
func WithPageLogger(l *zap.Logger) PageOption {
	return func(p *ListPage) { p.logger = l }
}

// WithPageMetrics records refresh outcomes.
func WithPageMetrics(m *observability.Metrics) PageOption {
	return func(p *ListPage) { p.metrics = m }
}

// WithSearchDebounce sets the quiet period applied to typed search input.
func WithSearchDebounce(d time.Duration) PageOption {
	return func(p *ListPage) { p.debounce = d }
}

// WithRefreshTimeout bounds event-triggered refreshes.
func WithRefreshTimeout(d time.Duration) PageOption {
	return func(p *ListPage) {
		if d > 0 {
			p.refreshTimeout = d
		}
	}
}

// ListPage is one list page: its definition, the full item collection
// fetched through the gateway, and the filter, paging and selection state
// derived from it.
type ListPage struct {
	def            model.PageDefinition
	caller         gateway.Caller
	bus            events.Bus
	notifier       Notifier
	logger         *zap.Logger
	metrics        *observability.Metrics
	debounce       time.Duration
	refreshTimeout time.Duration

	mu          sync.Mutex
	view        *listview.ViewModel
	selection   *listview.Selection
	loading     bool
	lastErr     error
	refreshedAt time.Time

	search  *listview.Debouncer
	flight  singleflight.Group
	unsubs  []func()
	closeMu sync.Mutex
	closed  bool
}

// NewListPage creates a page and subscribes it to the definition's
// refresh_on events. It does not fetch; call Refresh.
func NewListPage(def model.PageDefinition, caller gateway.Caller, opts ...PageOption) (*ListPage, error) {
	p := &ListPage{
		def:            def,
		caller:         caller,
		logger:         zap.NewNop(),
		refreshTimeout: DefaultRefreshTimeout,
		selection:      listview.NewSelection(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("page_id", def.ID))
	p.view = listview.New(viewOptions(def))
	p.search = listview.NewDebouncer(p.debounce, func(text string) {
		p.mu.Lock()
		p.view.SetSearchText(text)
		p.mu.Unlock()
	})

	if p.bus != nil {
		for _, name := range def.RefreshOn {
			unsub, err := p.bus.Listen(name, p.onEvent)
			if err != nil {
				p.Close()
				return nil, fmt.Errorf("console: page %s: listening for %s: %w", def.ID, name, err)
			}
			p.unsubs = append(p.unsubs, unsub)
		}
	}
	return p, nil
}

func viewOptions(def model.PageDefinition) listview.Options {
	opts := listview.Options{
		SearchFields: def.SearchFields,
		TagField:     def.TagField,
		PageSize:     def.PageSize,
		Sort:         listview.Sort{Field: def.DefaultSort, Desc: def.SortDir == "desc"},
	}
	for _, f := range def.Filters {
		if f.Type == model.FilterNumber {
			opts.NumericFields = append(opts.NumericFields, f.Field)
		}
	}
	return opts
}

// ID returns the page id.
func (p *ListPage) ID() string { return p.def.ID }

// Definition returns the page definition.
func (p *ListPage) Definition() model.PageDefinition { return p.def }

func (p *ListPage) onEvent(ev model.Event) {
	p.logger.Debug("refreshing on event", zap.String("event", ev.Name))
	ctx, cancel := context.WithTimeout(context.Background(), p.refreshTimeout)
	defer cancel()
	_ = p.Refresh(ctx)
}

// Refresh fetches the whole collection and replaces the page source.
// Concurrent refreshes share one backend call. On failure the previous
// items stay in place, the error is kept for the view and the notifier is
// told; the loading flag is cleared on every path.
func (p *ListPage) Refresh(ctx context.Context) error {
	_, err, _ := p.flight.Do("refresh", func() (any, error) {
		return nil, p.refresh(ctx)
	})
	return err
}

func (p *ListPage) refresh(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, "page.refresh", observability.AttrPageID.String(p.def.ID))
	start := time.Now()

	p.mu.Lock()
	p.loading = true
	p.mu.Unlock()

	var items []model.Item
	defer func() {
		p.mu.Lock()
		p.loading = false
		p.lastErr = err
		if err == nil {
			p.view.SetSource(items)
			p.refreshedAt = time.Now()
		}
		p.mu.Unlock()

		outcome := "success"
		if err != nil {
			outcome = model.ErrorCode(err)
			if outcome == "" {
				outcome = "error"
			}
			p.logger.Warn("page refresh failed", zap.Error(err))
			notifyErr(ctx, p.notifier, "Failed to load "+p.def.Title, err)
		} else {
			p.logger.Info("page refreshed", zap.Int("items", len(items)), zap.Duration("duration", time.Since(start)))
		}
		if p.metrics != nil {
			p.metrics.RecordPageRefresh(p.def.ID, outcome, len(items), time.Since(start))
		}
		observability.EndSpanWithError(span, err)
	}()

	raw, err := p.caller.Call(ctx, p.def.DataSource.Command, p.def.DataSource.Args)
	if err != nil {
		return err
	}
	items, err = decodeItems(raw, p.def.DataSource.ItemsPath, p.def.IDField)
	return err
}

// decodeItems reads the list at path. A null list is empty.
func decodeItems(raw json.RawMessage, path, idField string) ([]model.Item, error) {
	list, err := gateway.Extract(raw, path)
	if err != nil {
		return nil, err
	}
	records, err := gateway.Decode[[]map[string]any](list)
	if err != nil {
		return nil, err
	}
	items := make([]model.Item, 0, len(records))
	for _, r := range records {
		items = append(items, model.ItemFromMap(r, idField))
	}
	return items, nil
}

// Query changes the view. Nil fields are left as they are.
type Query struct {
	Search   *string
	Page     *int
	PageSize *int
	Sort     *listview.Sort
	Tag      *string
	Filters  map[string]string
	Clear    bool
}

// PageView is a snapshot of the page for rendering.
type PageView struct {
	ID          string                   `json:"id"`
	Title       string                   `json:"title"`
	Loading     bool                     `json:"loading"`
	Error       string                   `json:"error,omitempty"`
	RefreshedAt *time.Time               `json:"refreshed_at,omitempty"`
	Filters     listview.FilterState     `json:"filters"`
	Sort        listview.Sort            `json:"sort"`
	Selection   SelectionView            `json:"selection"`
	FilterDefs  []model.FilterDefinition `json:"filter_definitions,omitempty"`
	listview.Visible
}

// SelectionView summarises the selection against the current view.
type SelectionView struct {
	// Count includes ids hidden by the current filters.
	Count int `json:"count"`
	// Effective lists the selected ids within the filtered set; batch
	// actions act on these.
	Effective          []string `json:"effective"`
	AllVisibleSelected bool     `json:"all_visible_selected"`
}

// Apply updates the view from q and returns the resulting snapshot.
// Filter changes reset the page to 1.
func (p *ListPage) Apply(q Query) PageView {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q.Clear {
		p.view.ClearFilters()
	}
	if q.Search != nil {
		p.search.Stop()
		p.view.SetSearchText(*q.Search)
	}
	if q.Tag != nil {
		p.view.SetTagFilter(*q.Tag)
	}
	for field, value := range q.Filters {
		p.view.SetFilter(field, value)
	}
	if q.Sort != nil {
		p.view.SetSort(q.Sort.Field, q.Sort.Desc)
	}
	if q.PageSize != nil {
		p.view.SetPageSize(*q.PageSize)
	}
	if q.Page != nil {
		p.view.GoToPage(*q.Page)
	}
	return p.snapshot()
}

// View returns the current snapshot without changing anything.
func (p *ListPage) View() PageView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

func (p *ListPage) snapshot() PageView {
	vis := p.view.ComputeVisible()
	v := PageView{
		ID:         p.def.ID,
		Title:      p.def.Title,
		Loading:    p.loading,
		Filters:    p.view.Filters(),
		Sort:       p.view.Sort(),
		FilterDefs: p.def.Filters,
		Visible:    vis,
		Selection: SelectionView{
			Count:              p.selection.Len(),
			Effective:          p.selection.Resolve(p.view.FilteredIDs()),
			AllVisibleSelected: p.selection.AllSelected(visibleIDs(vis)),
		},
	}
	if p.lastErr != nil {
		v.Error = message(p.lastErr)
	}
	if !p.refreshedAt.IsZero() {
		t := p.refreshedAt
		v.RefreshedAt = &t
	}
	return v
}

func visibleIDs(vis listview.Visible) []string {
	out := make([]string, len(vis.Items))
	for i, it := range vis.Items {
		out[i] = it.ID
	}
	return out
}

// TypeSearch feeds keystroke input; the search predicate changes once the
// input has been quiet for the debounce period.
func (p *ListPage) TypeSearch(text string) {
	p.search.Push(text)
}

// FlushSearch applies pending search input immediately.
func (p *ListPage) FlushSearch() {
	p.search.Flush()
}

// Item returns the source item with the given id.
func (p *ListPage) Item(id string) (model.Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view.Find(id)
}

// ToggleSelected flips the selection of one item.
func (p *ListPage) ToggleSelected(id string) SelectionView {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selection.Toggle(id)
	return p.snapshot().Selection
}

// SelectAllVisible selects every item on the current page, or clears the
// selection when they are all selected already.
func (p *ListPage) SelectAllVisible() SelectionView {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selection.SelectAllVisible(p.view.VisibleIDs())
	return p.snapshot().Selection
}

// ClearSelection empties the selection.
func (p *ListPage) ClearSelection() SelectionView {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selection.Clear()
	return p.snapshot().Selection
}

// SelectionView returns the current selection summary.
func (p *ListPage) SelectionView() SelectionView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot().Selection
}

// ResolveSelection returns the selected ids within the filtered set. Ids
// hidden by filters stay selected but are not returned.
func (p *ListPage) ResolveSelection() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection.Resolve(p.view.FilteredIDs())
}

// Deselect removes ids from the selection, typically after a batch action
// succeeded on them.
func (p *ListPage) Deselect(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if p.selection.IsSelected(id) {
			p.selection.Toggle(id)
		}
	}
}

// Close unsubscribes from events and drops pending search input. It is
// safe to call more than once.
func (p *ListPage) Close() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, unsub := range p.unsubs {
		unsub()
	}
	p.unsubs = nil
	p.search.Stop()
}
