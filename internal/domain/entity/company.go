package entity

import "time"

// CompanySettings hold the workflow-relevant company configuration.
type CompanySettings struct {
	// AutoApprovalLimit is the converted-amount threshold below which an
	// unrouted expense is approved without any chain.
	AutoApprovalLimit float64 `json:"auto_approval_limit"`

	// DefaultApproverID owns expenses that exceed the auto-approval limit
	// when no rule matches, so a pending expense is never left without an
	// approver.
	DefaultApproverID string `json:"default_approver_id"`
}

// Company is the tenant owning expenses, rules and users.
type Company struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	BaseCurrency string          `json:"base_currency"`
	Settings     CompanySettings `json:"settings"`
	CreatedAt    time.Time       `json:"created_at"`
}
