package domain

// ApprovalRequest is a pending sensitive tool invocation that must be
// confirmed by the user before it executes. Ephemeral: it lives only for the
// duration of a single approval exchange and is never persisted.
type ApprovalRequest struct {
	// RequestID correlates the eventual approve/deny decision with this
	// request. Monotonically assigned by the responder.
	RequestID int64          `json:"request_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}
