package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/vigil/internal/console"
	"github.com/pitabwire/vigil/internal/dialog"
	"github.com/pitabwire/vigil/model"
)

type reviewHandler func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole)

// withReview resolves the review workflow, answering 404 when no review
// page is defined.
func withReview(c *console.Console, h reviewHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := c.Review()
		if !ok {
			WriteNotFound(w, r, "no plugin review page is defined")
			return
		}
		h(w, r, rc)
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type verdictResponse struct {
	PluginID string `json:"plugin_id"`
	Status   string `json:"status"`
}

func handleApprove(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		id := chi.URLParam(r, "pluginId")
		if err := rc.Approve(r.Context(), id); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, verdictResponse{PluginID: id, Status: "approved"})
	})
}

func handleReject(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		var req reasonRequest
		if err := decodeBody(r, &req, false); err != nil {
			WriteError(w, r, err)
			return
		}
		id := chi.URLParam(r, "pluginId")
		if err := rc.Reject(r.Context(), id, req.Reason); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, verdictResponse{PluginID: id, Status: "rejected"})
	})
}

func handleDeletePlugin(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		if err := rc.Delete(r.Context(), chi.URLParam(r, "pluginId")); err != nil {
			WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func handleToggleFavorite(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		id := chi.URLParam(r, "pluginId")
		fav, err := rc.ToggleFavorite(r.Context(), id)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"plugin_id": id, "is_favorited": fav})
	})
}

func handleBatchApprove(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		res, err := rc.BatchApprove(r.Context())
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	})
}

func handleBatchReject(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		var req reasonRequest
		if err := decodeBody(r, &req, false); err != nil {
			WriteError(w, r, err)
			return
		}
		res, err := rc.BatchReject(r.Context(), req.Reason)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	})
}

func handleStatistics(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		stats, err := rc.Statistics(r.Context())
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	})
}

// --- editor ---

func handleOpenEditor(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		writeEditor(w, r)(rc.OpenEditor(r.Context(), chi.URLParam(r, "pluginId")))
	})
}

func handleGetEditor(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, _ *http.Request, rc *console.ReviewConsole) {
		WriteJSON(w, http.StatusOK, rc.Editor())
	})
}

func handleEditorEnable(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		writeEditor(w, r)(rc.EditorEnable())
	})
}

type contentRequest struct {
	Content *string `json:"content"`
}

var errContentRequired = model.NewValidationError([]model.FieldError{{
	Field: "content", Code: "REQUIRED", Message: "content is required",
}})

func handleEditorContent(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		var req contentRequest
		if err := decodeBody(r, &req, false); err != nil {
			WriteError(w, r, err)
			return
		}
		if req.Content == nil {
			WriteError(w, r, errContentRequired)
			return
		}
		writeEditor(w, r)(rc.EditorSetContent(*req.Content))
	})
}

func handleEditorCancel(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		writeEditor(w, r)(rc.EditorCancel())
	})
}

func handleEditorSave(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, r *http.Request, rc *console.ReviewConsole) {
		writeEditor(w, r)(rc.EditorSave(r.Context()))
	})
}

func handleEditorClose(c *console.Console) http.HandlerFunc {
	return withReview(c, func(w http.ResponseWriter, _ *http.Request, rc *console.ReviewConsole) {
		WriteJSON(w, http.StatusOK, rc.EditorClose())
	})
}

// writeEditor answers with the editor view, or the error when the
// operation failed. The view stays readable through GET /ui/editor.
func writeEditor(w http.ResponseWriter, r *http.Request) func(dialog.View, error) {
	return func(v dialog.View, err error) {
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}
