package integration

import (
	"net/http"
	"slices"
	"testing"
)

// ==========================================================================
// Page Tests
// ==========================================================================

func TestPages_ListDefinitions(t *testing.T) {
	h := NewTestHarness(t)

	var body struct {
		Pages []struct {
			ID         string `json:"id"`
			Selectable bool   `json:"selectable"`
		} `json:"pages"`
	}
	h.AssertJSON(t, h.GET("/ui/pages"), http.StatusOK, &body)

	if len(body.Pages) != 2 || body.Pages[0].ID != "assets" || body.Pages[1].ID != "plugins" {
		t.Fatalf("pages = %+v", body.Pages)
	}
	if !body.Pages[1].Selectable {
		t.Error("plugins page should be selectable")
	}
}

func TestPages_FilterSortPaginate(t *testing.T) {
	h := NewTestHarness(t)

	var page PageResponse
	h.AssertJSON(t, h.GET("/ui/pages/plugins"), http.StatusOK, &page)
	if page.TotalCount != 5 || page.TotalPages != 3 {
		t.Fatalf("total = %d pages = %d, want 5 and 3", page.TotalCount, page.TotalPages)
	}
	if got := page.IDs(); !slices.Equal(got, []string{"p-4", "p-5"}) {
		t.Errorf("first page = %v, want name order [p-4 p-5]", got)
	}

	h.AssertJSON(t, h.GET("/ui/pages/plugins?filter.status=PendingReview"), http.StatusOK, &page)
	if page.TotalCount != 3 || page.Page != 1 {
		t.Errorf("pending: total = %d page = %d", page.TotalCount, page.Page)
	}
	if got := page.IDs(); !slices.Equal(got, []string{"p-5", "p-1"}) {
		t.Errorf("pending page 1 = %v", got)
	}

	h.AssertJSON(t, h.GET("/ui/pages/plugins?filter.quality_score=50&sort=quality_score&sort_dir=desc"), http.StatusOK, &page)
	if got := page.IDs(); !slices.Equal(got, []string{"p-5", "p-1"}) || page.TotalCount != 2 {
		t.Errorf("pending, quality >= 50 = %v (total %d)", got, page.TotalCount)
	}

	h.AssertJSON(t, h.GET("/ui/pages/plugins?clear=true&tag=network&page=9"), http.StatusOK, &page)
	if page.TotalCount != 2 || page.Page != 1 {
		t.Errorf("network tag: total = %d page = %d (page is clamped)", page.TotalCount, page.Page)
	}
}

func TestPages_SearchIsDebouncedUntilFlushed(t *testing.T) {
	h := NewTestHarness(t)

	h.AssertStatus(t, h.PUT("/ui/pages/plugins/search", map[string]any{"text": "jwt"}), http.StatusAccepted)

	var page PageResponse
	h.AssertJSON(t, h.PUT("/ui/pages/plugins/search", map[string]any{"text": "probe", "flush": true}), http.StatusOK, &page)
	if got := page.IDs(); !slices.Equal(got, []string{"p-2"}) {
		t.Errorf("search results = %v, want [p-2]", got)
	}
}

func TestPages_UnknownPage(t *testing.T) {
	h := NewTestHarness(t)
	h.AssertError(t, h.GET("/ui/pages/findings"), http.StatusNotFound, "NOT_FOUND")
}

// ==========================================================================
// Review Tests
// ==========================================================================

func TestReview_ApproveSendsPluginAndRefreshes(t *testing.T) {
	h := NewTestHarness(t)
	h.Backend.OnCommand("approve_plugin").RespondOK(nil)
	before := h.Backend.Calls("list_plugins")

	var verdict map[string]string
	h.AssertJSON(t, h.POST("/ui/plugins/p-2/approve", nil), http.StatusOK, &verdict)
	if verdict["status"] != "approved" || verdict["plugin_id"] != "p-2" {
		t.Errorf("verdict = %v", verdict)
	}

	req := h.Backend.LastRequest("approve_plugin")
	if req == nil || req.Body["plugin_id"] != "p-2" {
		t.Fatalf("backend request = %+v", req)
	}
	if got := req.Headers.Get("X-User-Id"); got != TestUser {
		t.Errorf("X-User-Id forwarded = %q, want %q", got, TestUser)
	}
	if h.Backend.Calls("list_plugins") != before+1 {
		t.Error("approving should reload the list")
	}

	notes := h.Notifications(t)
	if len(notes) != 1 || notes[0].Message != "Plugin approved" {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestReview_RejectValidatesReason(t *testing.T) {
	h := NewTestHarness(t)
	h.Backend.OnCommand("reject_plugin").RespondOK(nil)

	env := h.AssertError(t, h.POST("/ui/plugins/p-1/reject", map[string]any{"reason": "   "}), http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	if len(env.Details) != 1 || env.Details[0].Field != "reason" {
		t.Errorf("details = %+v", env.Details)
	}
	h.Backend.AssertCalled(t, "reject_plugin", 0)

	h.AssertStatus(t, h.POST("/ui/plugins/p-1/reject", map[string]any{"reason": "  exfiltrates data  "}), http.StatusOK)
	if got := h.Backend.LastRequest("reject_plugin").Body["reason"]; got != "exfiltrates data" {
		t.Errorf("reason = %q, want trimmed", got)
	}
}

func TestReview_BatchApproveActsOnFilteredSelection(t *testing.T) {
	h := NewTestHarness(t)
	h.Backend.OnCommand("batch_approve_plugins").RespondOK(map[string]any{"approved_count": 1})

	h.AssertStatus(t, h.POST("/ui/pages/plugins/selection/toggle/p-1", nil), http.StatusOK)
	h.AssertStatus(t, h.POST("/ui/pages/plugins/selection/toggle/p-3", nil), http.StatusOK)
	h.AssertStatus(t, h.GET("/ui/pages/plugins?filter.status=PendingReview"), http.StatusOK)

	var result struct {
		Requested int `json:"requested"`
		Succeeded int `json:"succeeded"`
	}
	h.AssertJSON(t, h.POST("/ui/plugins/batch/approve", nil), http.StatusOK, &result)
	if result.Requested != 1 || result.Succeeded != 1 {
		t.Errorf("result = %+v", result)
	}

	ids, _ := h.Backend.LastRequest("batch_approve_plugins").Body["plugin_ids"].([]any)
	if len(ids) != 1 || ids[0] != "p-1" {
		t.Errorf("plugin_ids sent = %v, want only the visible selection [p-1]", ids)
	}

	// p-3 is hidden by the filter and stays selected.
	var sel struct {
		Count     int      `json:"count"`
		Effective []string `json:"effective"`
	}
	h.AssertJSON(t, h.GET("/ui/pages/plugins/selection"), http.StatusOK, &sel)
	if sel.Count != 1 || len(sel.Effective) != 0 {
		t.Errorf("selection after batch = %+v", sel)
	}

	notes := h.Notifications(t)
	if len(notes) != 1 || notes[0].Message != "Approved 1 plugins" {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestReview_BatchRejectKeepsFailedSelected(t *testing.T) {
	h := NewTestHarness(t)
	h.Backend.OnCommand("batch_reject_plugins").RespondOK(map[string]any{
		"rejected_count": 1,
		"failed_ids":     []string{"p-5"},
	})

	h.AssertStatus(t, h.GET("/ui/pages/plugins?filter.status=PendingReview"), http.StatusOK)
	h.AssertStatus(t, h.POST("/ui/pages/plugins/selection/visible", nil), http.StatusOK)

	var result struct {
		Requested int      `json:"requested"`
		FailedIDs []string `json:"failed_ids"`
	}
	h.AssertJSON(t, h.POST("/ui/plugins/batch/reject", map[string]any{"reason": "duplicate"}), http.StatusOK, &result)
	if result.Requested != 2 || !slices.Equal(result.FailedIDs, []string{"p-5"}) {
		t.Errorf("result = %+v", result)
	}

	var page PageResponse
	h.AssertJSON(t, h.GET("/ui/pages/plugins"), http.StatusOK, &page)
	if !slices.Equal(page.Selection.Effective, []string{"p-5"}) {
		t.Errorf("selection = %v, want the failed id", page.Selection.Effective)
	}

	notes := h.Notifications(t)
	if len(notes) != 1 || notes[0].Level != "error" {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestReview_BatchWithoutSelection(t *testing.T) {
	h := NewTestHarness(t)
	h.AssertError(t, h.POST("/ui/plugins/batch/approve", nil), http.StatusBadRequest, "BAD_REQUEST")
	h.Backend.AssertCalled(t, "batch_approve_plugins", 0)
}

func TestReview_FavoriteAndStatistics(t *testing.T) {
	h := NewTestHarness(t)
	h.Backend.OnCommand("toggle_plugin_favorite").RespondOK(map[string]any{"is_favorited": true})
	h.Backend.OnCommand("get_plugin_review_statistics").RespondOK(map[string]any{
		"total": 5, "pending_review": 3, "approved": 1, "rejected": 1, "average_quality": 59.6,
	})
	h.Backend.OnCommand("get_favorited_plugins").RespondOK(map[string]any{"plugin_ids": []string{"p-1", "p-5"}})

	var fav map[string]any
	h.AssertJSON(t, h.POST("/ui/plugins/p-1/favorite", nil), http.StatusOK, &fav)
	if fav["is_favorited"] != true {
		t.Errorf("favorite = %v", fav)
	}
	if got := h.Backend.LastRequest("toggle_plugin_favorite").Body["user_id"]; got != TestUser {
		t.Errorf("user_id = %v", got)
	}

	var stats map[string]any
	h.AssertJSON(t, h.GET("/ui/plugins/statistics"), http.StatusOK, &stats)
	if stats["pending_review"] != float64(3) || stats["favorited"] != float64(2) {
		t.Errorf("statistics = %v", stats)
	}
}

func TestReview_DeleteClosesEditor(t *testing.T) {
	h := NewTestHarness(t)
	h.Backend.OnCommand("get_plugin_code").RespondOK(map[string]any{"plugin_id": "p-4", "code": "print('banner')"})
	h.Backend.OnCommand("review_delete_plugin").RespondOK(nil)

	h.AssertStatus(t, h.POST("/ui/plugins/p-4/editor", nil), http.StatusOK)
	h.AssertStatus(t, h.DELETE("/ui/plugins/p-4"), http.StatusNoContent)

	var editor map[string]any
	h.AssertJSON(t, h.GET("/ui/editor"), http.StatusOK, &editor)
	if editor["state"] != "closed" {
		t.Errorf("editor = %v, want closed", editor)
	}
}

// ==========================================================================
// Editor Tests
// ==========================================================================

type editorView struct {
	State   string `json:"state"`
	Key     string `json:"key"`
	Content string `json:"content"`
	Dirty   bool   `json:"dirty"`
	Error   string `json:"error"`
}

func TestEditor_EditAndSave(t *testing.T) {
	h := NewTestHarness(t)
	h.Backend.OnCommand("get_plugin_code").RespondOK(map[string]any{"plugin_id": "p-1", "code": "def scan(): pass"})
	h.Backend.OnCommand("review_update_plugin_code").RespondOK(nil)

	var v editorView
	h.AssertJSON(t, h.POST("/ui/plugins/p-1/editor", nil), http.StatusOK, &v)
	if v.State != "read_only" || v.Key != "p-1" || v.Content != "def scan(): pass" {
		t.Fatalf("opened editor = %+v", v)
	}

	h.AssertError(t, h.PUT("/ui/editor/content", map[string]any{"content": "x"}), http.StatusConflict, "INVALID_TRANSITION")

	h.AssertJSON(t, h.POST("/ui/editor/edit", nil), http.StatusOK, &v)
	if v.State != "editing" {
		t.Fatalf("state = %q, want editing", v.State)
	}
	h.AssertJSON(t, h.PUT("/ui/editor/content", map[string]any{"content": "def scan(): return []"}), http.StatusOK, &v)
	if !v.Dirty {
		t.Error("editor should be dirty after a change")
	}

	h.AssertJSON(t, h.POST("/ui/editor/save", nil), http.StatusOK, &v)
	if v.State != "read_only" || v.Dirty || v.Content != "def scan(): return []" {
		t.Errorf("after save = %+v", v)
	}
	req := h.Backend.LastRequest("review_update_plugin_code")
	if req == nil || req.Body["plugin_id"] != "p-1" || req.Body["code"] != "def scan(): return []" {
		t.Errorf("saved = %+v", req)
	}
}

func TestEditor_FailedSaveStaysEditing(t *testing.T) {
	h := NewTestHarness(t)
	h.Backend.OnCommand("get_plugin_code").RespondOK(map[string]any{"plugin_id": "p-1", "code": "a"})
	h.Backend.OnCommand("review_update_plugin_code").RespondFailure("syntax error on line 1")

	h.AssertStatus(t, h.POST("/ui/plugins/p-1/editor", nil), http.StatusOK)
	h.AssertStatus(t, h.POST("/ui/editor/edit", nil), http.StatusOK)
	h.AssertStatus(t, h.PUT("/ui/editor/content", map[string]any{"content": "b("}), http.StatusOK)

	env := h.AssertError(t, h.POST("/ui/editor/save", nil), http.StatusBadGateway, "COMMAND_FAILED")
	if env.Message == "" {
		t.Error("expected the backend message")
	}

	var v editorView
	h.AssertJSON(t, h.GET("/ui/editor"), http.StatusOK, &v)
	if v.State != "editing" || v.Content != "b(" || v.Error == "" {
		t.Errorf("after failed save = %+v", v)
	}

	h.AssertJSON(t, h.POST("/ui/editor/cancel", nil), http.StatusOK, &v)
	if v.State != "read_only" || v.Content != "a" {
		t.Errorf("after cancel = %+v", v)
	}
}

// ==========================================================================
// Preference Tests
// ==========================================================================

func TestPreferences_RoundTripPerUser(t *testing.T) {
	h := NewTestHarness(t)

	var p map[string]any
	h.AssertJSON(t, h.GET("/ui/preferences"), http.StatusOK, &p)
	if p["theme"] != "system" {
		t.Fatalf("default theme = %v", p["theme"])
	}

	h.AssertJSON(t, h.PUT("/ui/preferences", map[string]any{"theme": "dark", "font_size": 16}), http.StatusOK, &p)
	if p["theme"] != "dark" || p["font_size"] != float64(16) {
		t.Errorf("saved = %v", p)
	}

	h.AssertJSON(t, h.GET("/ui/preferences"), http.StatusOK, &p)
	if p["theme"] != "dark" {
		t.Errorf("reloaded theme = %v", p["theme"])
	}

	h.AssertJSON(t, h.Do(http.MethodGet, "/ui/preferences", nil, map[string]string{"X-User-Id": "someone-else"}), http.StatusOK, &p)
	if p["theme"] != "system" {
		t.Errorf("other user's theme = %v, want defaults", p["theme"])
	}
}

func TestPreferences_RejectsInvalidValues(t *testing.T) {
	h := NewTestHarness(t)

	h.AssertError(t, h.PUT("/ui/preferences", map[string]any{"font_size": 99}), http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	h.AssertError(t, h.PUT("/ui/preferences", map[string]any{}), http.StatusBadRequest, "BAD_REQUEST")

	var p map[string]any
	h.AssertJSON(t, h.GET("/ui/preferences"), http.StatusOK, &p)
	if p["font_size"] == float64(99) {
		t.Error("invalid value was stored")
	}
}
