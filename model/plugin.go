package model

// Plugin review statuses as reported by the backend.
const (
	PluginPendingReview    = "PendingReview"
	PluginApproved         = "Approved"
	PluginRejected         = "Rejected"
	PluginValidationFailed = "ValidationFailed"
)

// ReviewStatistics summarises the plugin review queue.
type ReviewStatistics struct {
	Total            int     `json:"total"`
	PendingReview    int     `json:"pending_review"`
	Approved         int     `json:"approved"`
	Rejected         int     `json:"rejected"`
	ValidationFailed int     `json:"validation_failed"`
	AverageQuality   float64 `json:"average_quality"`
	Favorited        int     `json:"favorited"`
}

// BatchResult reports the outcome of a batch review action.
type BatchResult struct {
	Action    string   `json:"action"`
	Requested int      `json:"requested"`
	Succeeded int      `json:"succeeded"`
	FailedIDs []string `json:"failed_ids,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// PluginCode is the editable source of a plugin.
type PluginCode struct {
	PluginID string `json:"plugin_id"`
	Code     string `json:"code"`
}
