package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/vigil/internal/console"
	"github.com/pitabwire/vigil/internal/events"
	"github.com/pitabwire/vigil/model"
)

// --- stub caller ---

type stubCaller struct {
	mu       sync.Mutex
	handlers map[string]func(ctx context.Context, args map[string]any) (json.RawMessage, error)
	args     map[string]map[string]any
}

func newStubCaller() *stubCaller {
	return &stubCaller{
		handlers: make(map[string]func(context.Context, map[string]any) (json.RawMessage, error)),
		args:     make(map[string]map[string]any),
	}
}

func (s *stubCaller) reply(command, body string) *stubCaller {
	return s.on(command, func(context.Context, map[string]any) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	})
}

func (s *stubCaller) on(command string, h func(ctx context.Context, args map[string]any) (json.RawMessage, error)) *stubCaller {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = h
	return s
}

func (s *stubCaller) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	s.args[command] = args
	h := s.handlers[command]
	s.mu.Unlock()
	if h == nil {
		return nil, model.NewCommandRejectedError(command, http.StatusNotFound)
	}
	return h(ctx, args)
}

func (s *stubCaller) lastArgs(command string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.args[command]
}

const pluginList = `{"plugins":[
	{"plugin_id":"p-1","name":"SQLi Scanner","status":"PendingReview","quality":82},
	{"plugin_id":"p-2","name":"XSS Probe","status":"PendingReview","quality":40},
	{"plugin_id":"p-3","name":"Port Sweep","status":"Approved","quality":65}
]}`

func testPages() []model.PageDefinition {
	return []model.PageDefinition{
		{
			ID:           console.ReviewPageID,
			Title:        "Plugin Review",
			DataSource:   model.DataSourceDefinition{Command: "list_plugins", ItemsPath: "plugins"},
			IDField:      "plugin_id",
			SearchFields: []string{"name"},
			Filters: []model.FilterDefinition{
				{Field: "status", Type: model.FilterSelect, Options: []model.StaticOption{{Label: "Pending", Value: "PendingReview"}}},
				{Field: "quality", Type: model.FilterNumber},
			},
			PageSize:    10,
			DefaultSort: "name",
			Selectable:  true,
		},
		{
			ID:         "assets",
			Title:      "Assets",
			DataSource: model.DataSourceDefinition{Command: "list_assets"},
			IDField:    "id",
		},
	}
}

// testServer builds a router over a loaded and refreshed console.
type testServer struct {
	t      *testing.T
	router http.Handler
	caller *stubCaller
	inbox  *console.Inbox
}

func newTestServer(t *testing.T, caller *stubCaller) *testServer {
	t.Helper()
	caller.reply("list_plugins", pluginList).reply("list_assets", `[{"id":"a-1"}]`)
	inbox := console.NewInbox(0, nil)
	c := console.New(caller, nil,
		[]console.PageOption{console.WithNotifier(inbox)},
		[]console.ReviewOption{console.WithReviewNotifier(inbox)},
	)
	t.Cleanup(c.Close)
	if err := c.Load(testPages()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := c.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}

	deps := testDeps()
	deps.Console = c
	deps.Gateway = caller
	deps.Inbox = inbox
	return &testServer{t: t, router: NewRouter(deps), caller: caller, inbox: inbox}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(HeaderUserID, "alice")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeAs[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, w.Body.String())
	}
	return v
}

type pageResponse struct {
	Items []struct {
		ID string `json:"id"`
	} `json:"items"`
	TotalCount int    `json:"total_count"`
	Page       int    `json:"page"`
	Error      string `json:"error"`
	Selection  struct {
		Count     int      `json:"count"`
		Effective []string `json:"effective"`
	} `json:"selection"`
}

func (p pageResponse) ids() []string {
	out := make([]string, len(p.Items))
	for i, it := range p.Items {
		out[i] = it.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- page handlers ---

func TestHandleListPages(t *testing.T) {
	s := newTestServer(t, newStubCaller())
	w := s.do("GET", "/ui/pages", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeAs[struct {
		Pages []model.PageDefinition `json:"pages"`
	}](t, w)
	if len(body.Pages) != 2 || body.Pages[0].ID != "assets" {
		t.Errorf("pages = %+v", body.Pages)
	}
}

func TestHandleGetPage_query(t *testing.T) {
	s := newTestServer(t, newStubCaller())

	w := s.do("GET", "/ui/pages/plugins?filter.status=PendingReview&sort=quality&sort_dir=desc", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	page := decodeAs[pageResponse](t, w)
	if !equalIDs(page.ids(), []string{"p-1", "p-2"}) {
		t.Errorf("ids = %v", page.ids())
	}

	// The view keeps its state between requests.
	page = decodeAs[pageResponse](t, s.do("GET", "/ui/pages/plugins?q=xss", nil))
	if !equalIDs(page.ids(), []string{"p-2"}) {
		t.Errorf("ids after search = %v", page.ids())
	}

	page = decodeAs[pageResponse](t, s.do("GET", "/ui/pages/plugins?clear=true&page_size=1&page=3", nil))
	if page.TotalCount != 3 || page.Page != 3 || len(page.Items) != 1 {
		t.Errorf("page = %+v", page)
	}
}

func TestHandleGetPage_invalidQuery(t *testing.T) {
	s := newTestServer(t, newStubCaller())

	w := s.do("GET", "/ui/pages/plugins?page=two&sort=name&sort_dir=sideways", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if got := decodeError(t, w); len(got.Details) != 2 {
		t.Errorf("details = %+v", got.Details)
	}
}

func TestHandleGetPage_unknown(t *testing.T) {
	s := newTestServer(t, newStubCaller())
	if w := s.do("GET", "/ui/pages/ghost", nil); w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleRefreshPage(t *testing.T) {
	caller := newStubCaller()
	s := newTestServer(t, caller)

	caller.reply("list_assets", `[{"id":"a-1"},{"id":"a-2"}]`)
	w := s.do("POST", "/ui/pages/assets/refresh", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if page := decodeAs[pageResponse](t, w); page.TotalCount != 2 {
		t.Errorf("total = %d, want 2", page.TotalCount)
	}

	caller.on("list_assets", func(context.Context, map[string]any) (json.RawMessage, error) {
		return nil, model.NewCommandFailedError("list_assets", "scanner offline")
	})
	w = s.do("POST", "/ui/pages/assets/refresh", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}

	page := decodeAs[pageResponse](t, s.do("GET", "/ui/pages/assets", nil))
	if page.TotalCount != 2 || page.Error == "" {
		t.Errorf("after failure: total = %d, error = %q", page.TotalCount, page.Error)
	}
}

func TestHandleTypeSearch_flush(t *testing.T) {
	s := newTestServer(t, newStubCaller())

	w := s.do("PUT", "/ui/pages/plugins/search", map[string]any{"text": "port", "flush": true})
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if page := decodeAs[pageResponse](t, w); !equalIDs(page.ids(), []string{"p-3"}) {
		t.Errorf("ids = %v", page.ids())
	}

	if w := s.do("PUT", "/ui/pages/plugins/search", map[string]any{"text": "sq"}); w.Code != http.StatusAccepted {
		t.Errorf("debounced status = %d, want 202", w.Code)
	}
}

func TestHandleSelection(t *testing.T) {
	s := newTestServer(t, newStubCaller())

	s.do("POST", "/ui/pages/plugins/selection/toggle/p-1", nil)
	s.do("POST", "/ui/pages/plugins/selection/toggle/p-3", nil)
	s.do("GET", "/ui/pages/plugins?filter.status=PendingReview", nil)

	sel := decodeAs[pageResponse](t, s.do("GET", "/ui/pages/plugins", nil)).Selection
	if sel.Count != 2 || !equalIDs(sel.Effective, []string{"p-1"}) {
		t.Errorf("selection = %+v", sel)
	}

	w := s.do("DELETE", "/ui/pages/plugins/selection", nil)
	if got := decodeAs[console.SelectionView](t, w); got.Count != 0 {
		t.Errorf("count after clear = %d", got.Count)
	}

	w = s.do("POST", "/ui/pages/plugins/selection/visible", nil)
	if got := decodeAs[console.SelectionView](t, w); got.Count != 2 || !got.AllVisibleSelected {
		t.Errorf("select visible = %+v", got)
	}

	if w := s.do("POST", "/ui/pages/assets/selection/toggle/a-1", nil); w.Code != 400 {
		t.Errorf("toggle on non-selectable page = %d, want 400", w.Code)
	}
}

// --- review handlers ---

func TestHandleApprove(t *testing.T) {
	caller := newStubCaller().reply(console.CmdApprovePlugin, `{}`)
	s := newTestServer(t, caller)

	w := s.do("POST", "/ui/plugins/p-2/approve", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if got := caller.lastArgs(console.CmdApprovePlugin)["plugin_id"]; got != "p-2" {
		t.Errorf("plugin_id = %v", got)
	}

	notes := decodeAs[struct {
		Notifications []model.Notification `json:"notifications"`
	}](t, s.do("GET", "/ui/notifications", nil)).Notifications
	if len(notes) != 1 || notes[0].Level != model.LevelSuccess {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestHandleReject_requiresReason(t *testing.T) {
	s := newTestServer(t, newStubCaller().reply(console.CmdRejectPlugin, `{}`))

	if w := s.do("POST", "/ui/plugins/p-1/reject", map[string]any{}); w.Code != 422 {
		t.Errorf("status without reason = %d, want 422", w.Code)
	}
	if w := s.do("POST", "/ui/plugins/p-1/reject", nil); w.Code != 400 {
		t.Errorf("status without body = %d, want 400", w.Code)
	}
	if w := s.do("POST", "/ui/plugins/p-1/reject", map[string]any{"reason": "leaks credentials"}); w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestHandleBatchApprove(t *testing.T) {
	caller := newStubCaller().reply(console.CmdBatchApprovePlugins, `{"approved_count":1,"failed_ids":["p-2"]}`)
	s := newTestServer(t, caller)

	if w := s.do("POST", "/ui/plugins/batch/approve", nil); w.Code != 400 {
		t.Errorf("empty selection status = %d, want 400", w.Code)
	}

	s.do("POST", "/ui/pages/plugins/selection/toggle/p-1", nil)
	s.do("POST", "/ui/pages/plugins/selection/toggle/p-2", nil)
	w := s.do("POST", "/ui/plugins/batch/approve", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	res := decodeAs[model.BatchResult](t, w)
	if res.Succeeded != 1 || len(res.FailedIDs) != 1 || res.FailedIDs[0] != "p-2" {
		t.Errorf("result = %+v", res)
	}
	sel := decodeAs[console.SelectionView](t, s.do("GET", "/ui/pages/plugins/selection", nil))
	if !equalIDs(sel.Effective, []string{"p-2"}) {
		t.Errorf("remaining selection = %v", sel.Effective)
	}
}

func TestHandleBatchReject(t *testing.T) {
	caller := newStubCaller().reply(console.CmdBatchRejectPlugins, `{"rejected_count":3}`)
	s := newTestServer(t, caller)
	s.do("POST", "/ui/pages/plugins/selection/visible", nil)

	w := s.do("POST", "/ui/plugins/batch/reject", map[string]any{"reason": "stale"})
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if got := caller.lastArgs(console.CmdBatchRejectPlugins)["reason"]; got != "stale" {
		t.Errorf("reason = %v", got)
	}
}

func TestHandleDeleteAndFavorite(t *testing.T) {
	caller := newStubCaller().
		reply(console.CmdDeletePlugin, `{}`).
		reply(console.CmdTogglePluginFavorite, `{"is_favorited":true}`)
	s := newTestServer(t, caller)

	if w := s.do("DELETE", "/ui/plugins/p-3", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}

	w := s.do("POST", "/ui/plugins/p-1/favorite", nil)
	body := decodeAs[map[string]any](t, w)
	if body["is_favorited"] != true {
		t.Errorf("body = %v", body)
	}
	if got := caller.lastArgs(console.CmdTogglePluginFavorite)["user_id"]; got != "alice" {
		t.Errorf("user_id = %v, want the X-User-Id header", got)
	}
}

func TestHandleStatistics(t *testing.T) {
	caller := newStubCaller().
		reply(console.CmdReviewStatistics, `{"total":3,"pending_review":2}`).
		reply(console.CmdFavoritedPlugins, `{"plugin_ids":["p-1"]}`)
	s := newTestServer(t, caller)

	stats := decodeAs[model.ReviewStatistics](t, s.do("GET", "/ui/plugins/statistics", nil))
	if stats.Total != 3 || stats.PendingReview != 2 || stats.Favorited != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHandleEditorFlow(t *testing.T) {
	caller := newStubCaller().
		reply(console.CmdGetPluginCode, `{"plugin_id":"p-1","code":"def run(): pass"}`).
		reply(console.CmdUpdatePluginCode, `{}`)
	s := newTestServer(t, caller)

	type view struct {
		State   string `json:"state"`
		Key     string `json:"key"`
		Content string `json:"content"`
		Dirty   bool   `json:"dirty"`
	}

	v := decodeAs[view](t, s.do("POST", "/ui/plugins/p-1/editor", nil))
	if v.State != "read_only" || v.Content != "def run(): pass" {
		t.Fatalf("opened = %+v", v)
	}

	if w := s.do("PUT", "/ui/editor/content", map[string]any{"content": "x"}); w.Code != http.StatusConflict {
		t.Errorf("content while read-only = %d, want 409", w.Code)
	}

	s.do("POST", "/ui/editor/edit", nil)
	if w := s.do("PUT", "/ui/editor/content", map[string]any{}); w.Code != 422 {
		t.Errorf("content without field = %d, want 422", w.Code)
	}
	v = decodeAs[view](t, s.do("PUT", "/ui/editor/content", map[string]any{"content": "def run(): return 1"}))
	if !v.Dirty {
		t.Errorf("after edit = %+v", v)
	}

	v = decodeAs[view](t, s.do("POST", "/ui/editor/save", nil))
	if v.State != "read_only" || v.Dirty {
		t.Errorf("after save = %+v", v)
	}
	if got := caller.lastArgs(console.CmdUpdatePluginCode)["code"]; got != "def run(): return 1" {
		t.Errorf("saved code = %v", got)
	}

	v = decodeAs[view](t, s.do("POST", "/ui/editor/close", nil))
	if v.State != "closed" {
		t.Errorf("after close = %+v", v)
	}
	v = decodeAs[view](t, s.do("GET", "/ui/editor", nil))
	if v.State != "closed" {
		t.Errorf("get after close = %+v", v)
	}
}

// --- command handlers ---

func TestHandlePreferences(t *testing.T) {
	caller := newStubCaller().
		reply(console.CmdGetPreferences, `{"theme":"system","font_size":14}`).
		on(console.CmdSavePreferences, func(_ context.Context, args map[string]any) (json.RawMessage, error) {
			return json.Marshal(args)
		})
	s := newTestServer(t, caller)

	w := s.do("GET", "/ui/preferences", nil)
	if w.Code != 200 || decodeAs[model.Preferences](t, w).FontSize != 14 {
		t.Errorf("get = %d", w.Code)
	}

	w = s.do("PUT", "/ui/preferences", map[string]any{"theme": "dark"})
	if w.Code != 200 {
		t.Fatalf("put status = %d", w.Code)
	}
	if got := caller.lastArgs(console.CmdSavePreferences)["theme"]; got != "dark" {
		t.Errorf("theme = %v", got)
	}

	if w := s.do("PUT", "/ui/preferences", map[string]any{}); w.Code != 400 {
		t.Errorf("empty patch = %d, want 400", w.Code)
	}
}

func TestHandleCommand(t *testing.T) {
	caller := newStubCaller().reply("get_scan_targets", `{"targets":["10.0.0.1"]}`)
	s := newTestServer(t, caller)

	w := s.do("POST", "/ui/commands/get_scan_targets", map[string]any{"args": map[string]any{"project": "acme"}})
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if got := caller.lastArgs("get_scan_targets")["project"]; got != "acme" {
		t.Errorf("args = %v", caller.lastArgs("get_scan_targets"))
	}

	if w := s.do("POST", "/ui/commands/unknown_command", nil); w.Code != http.StatusBadGateway {
		t.Errorf("rejected command = %d, want 502", w.Code)
	}
}

func TestHandleStream(t *testing.T) {
	bus := events.NewMemoryBus()
	defer bus.Close()

	caller := newStubCaller()
	caller.on("generate_report", func(ctx context.Context, args map[string]any) (json.RawMessage, error) {
		id, _ := args[StreamIDArg].(string)
		_ = bus.Publish(ctx, model.EventStreamDelta, model.StreamMessage{StreamID: id, Delta: "Findings: "})
		_ = bus.Publish(ctx, model.EventStreamDelta, model.StreamMessage{StreamID: id, Delta: "none"})
		_ = bus.Publish(ctx, model.EventStreamFinal, model.StreamMessage{StreamID: id})
		return json.RawMessage(`{}`), nil
	})

	deps := testDeps()
	deps.Gateway = caller
	deps.Awaiter = events.NewAwaiter(bus, events.WithStreamTimeout(time.Second))
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/ui/streams/generate_report", bytes.NewReader([]byte(`{"args":{"scan_id":"s-1"}}`))))
	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	res := decodeAs[model.StreamResult](t, w)
	if !res.Final || res.Content != "Findings: none" || res.StreamID == "" {
		t.Errorf("result = %+v", res)
	}
	args := caller.lastArgs("generate_report")
	if args["scan_id"] != "s-1" || args[StreamIDArg] != res.StreamID {
		t.Errorf("args = %v", args)
	}
}

func TestHandleStream_timeout(t *testing.T) {
	bus := events.NewMemoryBus()
	defer bus.Close()
	caller := newStubCaller().reply("silent", `{}`)

	deps := testDeps()
	deps.Gateway = caller
	deps.Awaiter = events.NewAwaiter(bus, events.WithStreamTimeout(20*time.Millisecond))
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/ui/streams/silent", nil))
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
	if got := decodeError(t, w); got.Code != model.ErrStreamTimeout {
		t.Errorf("code = %q", got.Code)
	}
}
