package audit

import "time"

// Action names what happened to a review item.
type Action string

const (
	ActionIngested          Action = "item_ingested"
	ActionApproved          Action = "item_approved"
	ActionCorrected         Action = "item_corrected"
	ActionGeocoded          Action = "item_geocoded"
	ActionFeedbackForwarded Action = "feedback_forwarded"
	ActionFeedbackFailed    Action = "feedback_forward_failed"
)

// Event is emitted from domain logic to capture key review actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     Action    `json:"action"`
	ItemID     string    `json:"item_id"`
	ReviewerID string    `json:"reviewer_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	ClientIP   string    `json:"client_ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	// Detail carries action-specific facts such as changed fields or the
	// learning decision.
	Detail map[string]string `json:"detail,omitempty"`
}
