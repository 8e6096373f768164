package entity

import "time"

// Notification types emitted by the workflow controller.
const (
	NotifyRequiresApproval = "expense_requires_approval"
	NotifyExpenseApproved  = "expense_approved"
	NotifyExpenseRejected  = "expense_rejected"
	NotifyEscalated        = "expense_escalated"
	NotifyReminder         = "expense_approval_reminder"
)

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Notification is a best-effort message to a user about a workflow
// transition. Delivery failures never affect the committed transition.
type Notification struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	CompanyID   string    `json:"company_id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Priority    string    `json:"priority"`
	RelatedType string    `json:"related_type,omitempty"`
	RelatedID   string    `json:"related_id,omitempty"`
	ActionURL   string    `json:"action_url,omitempty"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}
