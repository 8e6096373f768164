package entity

import "time"

// RuleType selects the approval pattern a rule routes expenses through.
type RuleType string

const (
	RuleSequential  RuleType = "sequential"
	RulePercentage  RuleType = "percentage"
	RuleConditional RuleType = "conditional"
	RuleHybrid      RuleType = "hybrid"
)

// IsValid reports whether t is one of the supported rule types.
func (t RuleType) IsValid() bool {
	switch t {
	case RuleSequential, RulePercentage, RuleConditional, RuleHybrid:
		return true
	}
	return false
}

// ConditionKind identifies a conditional-rule predicate.
const (
	CondAmountGreaterThan = "amount_greater_than"
	CondAmountLessThan    = "amount_less_than"
	CondCategoryEquals    = "category_equals"
	CondDepartmentEquals  = "department_equals"
)

// Conditional-rule actions.
const (
	ActionAutoApprove  = "auto_approve"
	ActionAutoReject   = "auto_reject"
	ActionSkipApprover = "skip_approver"
	ActionAddApprover  = "add_approver"
)

// RuleConditions narrow the expenses a rule applies to. Zero values mean
// "no constraint".
type RuleConditions struct {
	AmountThreshold float64  `json:"amount_threshold"`
	Categories      []string `json:"categories,omitempty"`
	Departments     []string `json:"departments,omitempty"`
	Currencies      []string `json:"currencies,omitempty"`
}

// RuleApprover is one approver slot declared by a rule.
type RuleApprover struct {
	ApproverID  string `json:"approver_id"`
	Role        string `json:"role"`
	Order       int    `json:"order"`
	IsRequired  bool   `json:"is_required"`
	CanDelegate bool   `json:"can_delegate"`
}

// PercentagePolicy governs completion of percentage and hybrid chains.
type PercentagePolicy struct {
	MinPercentage float64 `json:"min_percentage"`
	RequireAll    bool    `json:"require_all"`
}

// ConditionalRule is a predicate over the expense plus an optional routing
// action. A rule with an empty Action gates the whole approver list.
type ConditionalRule struct {
	Condition        string `json:"condition"`
	Value            string `json:"value"`
	Action           string `json:"action,omitempty"`
	TargetApproverID string `json:"target_approver_id,omitempty"`
}

// EscalationPolicy reassigns entries left pending for too long.
type EscalationPolicy struct {
	Enabled         bool   `json:"enabled"`
	EscalationHours int    `json:"escalation_hours"`
	EscalateTo      string `json:"escalate_to,omitempty"`
}

// ApprovalRule is the configuration record selecting which approvers must
// act on an expense and in what pattern. It carries no behavior; evaluation
// lives in the rules package.
type ApprovalRule struct {
	ID          string   `json:"id"`
	CompanyID   string   `json:"company_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	RuleType    RuleType `json:"rule_type"`
	IsActive    bool     `json:"is_active"`

	// Priority makes selection deterministic: the highest-priority matching
	// rule wins, ties broken by lowest ID.
	Priority int `json:"priority"`

	Conditions       RuleConditions    `json:"conditions"`
	Approvers        []RuleApprover    `json:"approvers"`
	PercentageRules  PercentagePolicy  `json:"percentage_rules"`
	ConditionalRules []ConditionalRule `json:"conditional_rules,omitempty"`
	EscalationRules  EscalationPolicy  `json:"escalation_rules"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
