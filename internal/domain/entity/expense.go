package entity

import "time"

// ExpenseStatus is the aggregate lifecycle status of an expense.
type ExpenseStatus string

const (
	ExpenseDraft     ExpenseStatus = "draft"
	ExpensePending   ExpenseStatus = "pending"
	ExpenseApproved  ExpenseStatus = "approved"
	ExpenseRejected  ExpenseStatus = "rejected"
	ExpenseCancelled ExpenseStatus = "cancelled"
)

// IsTerminal returns true when no further transitions are permitted.
func (s ExpenseStatus) IsTerminal() bool {
	return s == ExpenseApproved || s == ExpenseRejected || s == ExpenseCancelled
}

// EntryStatus is the per-approver decision status within an approval chain.
type EntryStatus string

const (
	EntryPending  EntryStatus = "pending"
	EntryApproved EntryStatus = "approved"
	EntryRejected EntryStatus = "rejected"
)

// ApprovalEntry is one approver's decision record on an expense.
// Entries are created once at routing time and never added or removed
// afterwards; only status, comments and action time change, exactly once.
type ApprovalEntry struct {
	ID         int64       `json:"id"`
	ExpenseID  string      `json:"expense_id"`
	ApproverID string      `json:"approver_id"`
	Order      int         `json:"order"`
	IsRequired bool        `json:"is_required"`
	Status     EntryStatus `json:"status"`
	Comments   string      `json:"comments,omitempty"`
	ActionAt   *time.Time  `json:"action_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Expense is a submitted expense with its approval chain.
//
// ConvertedAmount and ExchangeRate are fixed at the moment they are
// computed (creation or draft edit) and immutable afterwards.
type Expense struct {
	ID              string        `json:"id"`
	CompanyID       string        `json:"company_id"`
	EmployeeID      string        `json:"employee_id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Category        string        `json:"category"`
	Amount          float64       `json:"amount"`
	Currency        string        `json:"currency"`
	ConvertedAmount float64       `json:"converted_amount"`
	BaseCurrency    string        `json:"base_currency"`
	ExchangeRate    float64       `json:"exchange_rate"`
	Status          ExpenseStatus `json:"status"`
	ApprovalChain   []*ApprovalEntry `json:"approval_chain,omitempty"`

	// CurrentApproverID is non-empty only while the expense is pending
	// under sequential advancement. Percentage chains keep it empty;
	// every holder of a pending entry may act.
	CurrentApproverID string `json:"current_approver_id,omitempty"`

	RejectionReason string `json:"rejection_reason,omitempty"`

	// Completion parameters denormalized from the matched rule at routing
	// time, so decisions never re-read a rule that may have changed since.
	RuleID        string   `json:"rule_id,omitempty"`
	RuleType      RuleType `json:"rule_type,omitempty"`
	MinPercentage float64  `json:"min_percentage,omitempty"`
	RequireAll    bool     `json:"require_all,omitempty"`

	ExpenseDate time.Time `json:"expense_date"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PendingEntry returns the pending entry held by approverID, or nil.
func (e *Expense) PendingEntry(approverID string) *ApprovalEntry {
	for _, entry := range e.ApprovalChain {
		if entry.ApproverID == approverID && entry.Status == EntryPending {
			return entry
		}
	}
	return nil
}
