package console

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/vigil/internal/dialog"
	"github.com/pitabwire/vigil/internal/gateway"
	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/model"
)

// Backend commands used by the review workflow.
const (
	CmdApprovePlugin        = "approve_plugin"
	CmdRejectPlugin         = "reject_plugin"
	CmdBatchApprovePlugins  = "batch_approve_plugins"
	CmdBatchRejectPlugins   = "batch_reject_plugins"
	CmdDeletePlugin         = "review_delete_plugin"
	CmdTogglePluginFavorite = "toggle_plugin_favorite"
	CmdReviewStatistics     = "get_plugin_review_statistics"
	CmdFavoritedPlugins     = "get_favorited_plugins"
	CmdGetPluginCode        = "get_plugin_code"
	CmdUpdatePluginCode     = "review_update_plugin_code"
)

// MaxRejectReason bounds the reason attached to a rejection.
const MaxRejectReason = 500

// ReviewOption configures a ReviewConsole.
type ReviewOption func(*ReviewConsole)

// WithReviewNotifier sets where action outcomes are reported.
func WithReviewNotifier(n Notifier) ReviewOption {
	return func(r *ReviewConsole) { r.notifier = n }
}

// WithReviewLogger sets the review logger.
func WithReviewLogger(l *zap.Logger) ReviewOption {
	return func(r *ReviewConsole) { r.logger = l }
}

// WithReviewMetrics records editor transitions.
func WithReviewMetrics(m *observability.Metrics) ReviewOption {
	return func(r *ReviewConsole) { r.metrics = m }
}

// ReviewConsole drives the plugin review queue: single and batch verdicts,
// favorites, statistics and the code editor. The list itself is a
// ListPage; actions refresh it when they succeed.
type ReviewConsole struct {
	page     *ListPage
	caller   gateway.Caller
	notifier Notifier
	logger   *zap.Logger
	metrics  *observability.Metrics
	editor   *dialog.Dialog
}

// NewReviewConsole creates the review workflow over page.
func NewReviewConsole(page *ListPage, caller gateway.Caller, opts ...ReviewOption) *ReviewConsole {
	r := &ReviewConsole{page: page, caller: caller, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.editor = dialog.New(dialog.NewMemoryBuffer(), r.saveCode,
		dialog.WithValidator(requireCode),
		dialog.WithTransitionHook(func(from, to dialog.State) {
			if r.metrics != nil {
				r.metrics.RecordDialogTransition(from.String(), to.String())
			}
		}),
	)
	return r
}

// Page returns the underlying list page.
func (r *ReviewConsole) Page() *ListPage { return r.page }

// Approve marks one plugin approved.
func (r *ReviewConsole) Approve(ctx context.Context, pluginID string) error {
	if err := requireID(pluginID); err != nil {
		return err
	}
	if _, err := r.caller.Call(ctx, CmdApprovePlugin, map[string]any{"plugin_id": pluginID}); err != nil {
		return r.fail(ctx, "Failed to approve plugin", err)
	}
	r.done(ctx, "Plugin approved")
	return nil
}

// Reject marks one plugin rejected with a reason.
func (r *ReviewConsole) Reject(ctx context.Context, pluginID, reason string) error {
	if err := requireID(pluginID); err != nil {
		return err
	}
	reason, err := checkReason(reason)
	if err != nil {
		return err
	}
	if _, err := r.caller.Call(ctx, CmdRejectPlugin, map[string]any{"plugin_id": pluginID, "reason": reason}); err != nil {
		return r.fail(ctx, "Failed to reject plugin", err)
	}
	r.done(ctx, "Plugin rejected")
	return nil
}

// BatchApprove approves every selected plugin within the current filters.
func (r *ReviewConsole) BatchApprove(ctx context.Context) (model.BatchResult, error) {
	return r.batch(ctx, "approve", CmdBatchApprovePlugins, "")
}

// BatchReject rejects every selected plugin within the current filters.
func (r *ReviewConsole) BatchReject(ctx context.Context, reason string) (model.BatchResult, error) {
	reason, err := checkReason(reason)
	if err != nil {
		return model.BatchResult{}, err
	}
	return r.batch(ctx, "reject", CmdBatchRejectPlugins, reason)
}

type batchReply struct {
	ApprovedCount *int     `json:"approved_count"`
	RejectedCount *int     `json:"rejected_count"`
	FailedIDs     []string `json:"failed_ids"`
}

func (r *ReviewConsole) batch(ctx context.Context, action, command, reason string) (model.BatchResult, error) {
	ids := r.page.ResolveSelection()
	result := model.BatchResult{Action: action, Requested: len(ids), Reason: reason}
	if len(ids) == 0 {
		return result, model.NewBadRequestError("no plugins selected")
	}

	args := map[string]any{"plugin_ids": ids}
	if reason != "" {
		args["reason"] = reason
	}
	raw, err := r.caller.Call(ctx, command, args)
	if err != nil {
		return result, r.fail(ctx, fmt.Sprintf("Failed to %s plugins", action), err)
	}
	reply, err := gateway.Decode[batchReply](raw)
	if err != nil {
		return result, r.fail(ctx, fmt.Sprintf("Failed to %s plugins", action), err)
	}

	failed := make(map[string]bool, len(reply.FailedIDs))
	for _, id := range reply.FailedIDs {
		failed[id] = true
	}
	succeeded := make([]string, 0, len(ids))
	for _, id := range ids {
		if !failed[id] {
			succeeded = append(succeeded, id)
		}
	}
	result.FailedIDs = reply.FailedIDs
	result.Succeeded = len(succeeded)
	switch {
	case reply.ApprovedCount != nil:
		result.Succeeded = *reply.ApprovedCount
	case reply.RejectedCount != nil:
		result.Succeeded = *reply.RejectedCount
	}

	// Failed ids stay selected so the reviewer can retry them.
	r.page.Deselect(succeeded)

	r.logger.Info("batch review completed",
		zap.String("action", action),
		zap.Int("requested", result.Requested),
		zap.Int("succeeded", result.Succeeded),
		zap.Strings("failed_ids", result.FailedIDs),
	)
	if len(result.FailedIDs) > 0 {
		notifyErr(ctx, r.notifier, fmt.Sprintf("Batch %s incomplete", action),
			fmt.Errorf("%d of %d plugins failed", len(result.FailedIDs), result.Requested))
	} else {
		notifyOK(ctx, r.notifier, fmt.Sprintf("%s %d plugins", pastTense[action], result.Succeeded))
	}
	r.refresh(ctx)
	return result, nil
}

// Delete removes a plugin from the registry. An editor showing it is closed.
func (r *ReviewConsole) Delete(ctx context.Context, pluginID string) error {
	if err := requireID(pluginID); err != nil {
		return err
	}
	if _, err := r.caller.Call(ctx, CmdDeletePlugin, map[string]any{"plugin_id": pluginID}); err != nil {
		return r.fail(ctx, "Failed to delete plugin", err)
	}
	r.page.Deselect([]string{pluginID})
	if r.editor.Snapshot().Key == pluginID {
		r.editor.Close()
	}
	r.done(ctx, "Plugin deleted")
	return nil
}

// ToggleFavorite flips the caller's favorite flag and returns the new value.
func (r *ReviewConsole) ToggleFavorite(ctx context.Context, pluginID string) (bool, error) {
	if err := requireID(pluginID); err != nil {
		return false, err
	}
	raw, err := r.caller.Call(ctx, CmdTogglePluginFavorite, map[string]any{
		"plugin_id": pluginID,
		"user_id":   model.RequestContextFrom(ctx).User(),
	})
	if err != nil {
		return false, r.fail(ctx, "Failed to update favorite", err)
	}
	reply, err := gateway.Decode[struct {
		IsFavorited bool `json:"is_favorited"`
	}](raw)
	if err != nil {
		return false, r.fail(ctx, "Failed to update favorite", err)
	}
	r.refresh(ctx)
	return reply.IsFavorited, nil
}

// Statistics fetches the queue summary and the caller's favorites
// concurrently.
func (r *ReviewConsole) Statistics(ctx context.Context) (model.ReviewStatistics, error) {
	var stats model.ReviewStatistics
	var favorites []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := r.caller.Call(gctx, CmdReviewStatistics, nil)
		if err != nil {
			return err
		}
		stats, err = gateway.Decode[model.ReviewStatistics](raw)
		return err
	})
	g.Go(func() error {
		raw, err := r.caller.Call(gctx, CmdFavoritedPlugins, map[string]any{
			"user_id": model.RequestContextFrom(ctx).User(),
		})
		if err != nil {
			return err
		}
		reply, err := gateway.Decode[struct {
			PluginIDs []string `json:"plugin_ids"`
		}](raw)
		favorites = reply.PluginIDs
		return err
	})
	if err := g.Wait(); err != nil {
		return model.ReviewStatistics{}, r.fail(ctx, "Failed to load statistics", err)
	}
	stats.Favorited = len(favorites)
	return stats, nil
}

// OpenEditor loads a plugin's code into the editor, read-only. An editor
// holding unsaved edits of another plugin is not replaced.
func (r *ReviewConsole) OpenEditor(ctx context.Context, pluginID string) (dialog.View, error) {
	if err := requireID(pluginID); err != nil {
		return dialog.View{}, err
	}
	if cur := r.editor.Snapshot(); cur.State == dialog.Editing.String() && cur.Dirty {
		return cur, model.NewInvalidTransitionError("the editor has unsaved changes")
	}

	raw, err := r.caller.Call(ctx, CmdGetPluginCode, map[string]any{"plugin_id": pluginID})
	if err != nil {
		return r.editor.Snapshot(), r.fail(ctx, "Failed to load plugin code", err)
	}
	code, err := gateway.Decode[model.PluginCode](raw)
	if err != nil {
		return r.editor.Snapshot(), r.fail(ctx, "Failed to load plugin code", err)
	}

	r.editor.Close()
	if err := r.editor.Open(pluginID, code.Code); err != nil {
		return r.editor.Snapshot(), err
	}
	return r.editor.Snapshot(), nil
}

// Editor returns the editor view.
func (r *ReviewConsole) Editor() dialog.View { return r.editor.Snapshot() }

// EditorEnable switches the editor into edit mode.
func (r *ReviewConsole) EditorEnable() (dialog.View, error) {
	err := r.editor.EnableEdit()
	return r.editor.Snapshot(), err
}

// EditorSetContent replaces the code being edited.
func (r *ReviewConsole) EditorSetContent(content string) (dialog.View, error) {
	err := r.editor.SetContent(content)
	return r.editor.Snapshot(), err
}

// EditorCancel discards edits and restores the loaded code.
func (r *ReviewConsole) EditorCancel() (dialog.View, error) {
	err := r.editor.CancelEdit()
	return r.editor.Snapshot(), err
}

// EditorSave persists the edited code. On failure the editor stays in edit
// mode with the error shown.
func (r *ReviewConsole) EditorSave(ctx context.Context) (dialog.View, error) {
	if err := r.editor.Save(ctx); err != nil {
		if model.ErrorCode(err) != model.ErrInvalidTransition {
			notifyErr(ctx, r.notifier, "Failed to save plugin code", err)
		}
		return r.editor.Snapshot(), err
	}
	r.done(ctx, "Plugin code saved")
	return r.editor.Snapshot(), nil
}

// EditorClose hides the editor, discarding unsaved edits.
func (r *ReviewConsole) EditorClose() dialog.View {
	r.editor.Close()
	return r.editor.Snapshot()
}

func (r *ReviewConsole) saveCode(ctx context.Context, pluginID, code string) (string, error) {
	_, err := r.caller.Call(ctx, CmdUpdatePluginCode, map[string]any{"plugin_id": pluginID, "code": code})
	if err != nil {
		r.logger.Warn("saving plugin code failed", zap.String("plugin_id", pluginID), zap.Error(err))
		return "", err
	}
	return pluginID, nil
}

// fail logs and notifies err and returns it unchanged.
func (r *ReviewConsole) fail(ctx context.Context, prefix string, err error) error {
	observability.RequestLogger(ctx, r.logger).Warn(strings.ToLower(prefix), zap.Error(err))
	notifyErr(ctx, r.notifier, prefix, err)
	return err
}

func (r *ReviewConsole) done(ctx context.Context, msg string) {
	notifyOK(ctx, r.notifier, msg)
	r.refresh(ctx)
}

// refresh reloads the list after a successful action. Its failure is
// reported by the page and does not fail the action.
func (r *ReviewConsole) refresh(ctx context.Context) {
	_ = r.page.Refresh(ctx)
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return model.NewValidationError([]model.FieldError{{Field: "plugin_id", Code: "REQUIRED", Message: "plugin id is required"}})
	}
	return nil
}

func checkReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	switch {
	case reason == "":
		return "", model.NewValidationError([]model.FieldError{{Field: "reason", Code: "REQUIRED", Message: "a rejection reason is required"}})
	case len(reason) > MaxRejectReason:
		return "", model.NewValidationError([]model.FieldError{{Field: "reason", Code: "TOO_LONG", Message: fmt.Sprintf("reason must be at most %d characters", MaxRejectReason)}})
	}
	return reason, nil
}

func requireCode(content string) error {
	if strings.TrimSpace(content) == "" {
		return model.NewValidationError([]model.FieldError{{Field: "content", Code: "REQUIRED", Message: "plugin code cannot be empty"}})
	}
	return nil
}

var pastTense = map[string]string{"approve": "Approved", "reject": "Rejected"}
