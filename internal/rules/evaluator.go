package rules

import (
	"sort"
	"strconv"

	"github.com/expenseflow/expenseflow/internal/domain/entity"
	"go.uber.org/zap"
)

// Candidate is the slice of an expense the evaluator matches rules against.
type Candidate struct {
	ConvertedAmount float64
	Category        string
	Department      string
	Currency        string
}

// RouteKind is the evaluator's verdict for a matched rule.
type RouteKind int

const (
	// RouteChain routes the expense through the derived approver chain.
	RouteChain RouteKind = iota
	// RouteAutoApprove short-circuits to approval without a chain.
	RouteAutoApprove
	// RouteAutoReject short-circuits to rejection without a chain.
	RouteAutoReject
	// RouteNone means the rule's gating conditions exclude this expense;
	// the caller falls back as if no rule had matched.
	RouteNone
)

// Routing is the ordered approver derivation for one rule and expense.
type Routing struct {
	Kind      RouteKind
	Approvers []entity.RuleApprover
}

// Evaluator selects applicable rules and derives approver chains. Selection
// is deterministic: for a fixed rule set and expense it always returns the
// same rule.
type Evaluator struct {
	cond   *condEvaluator
	logger *zap.Logger
}

// NewEvaluator creates a rule evaluator.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	return &Evaluator{
		cond:   newCondEvaluator(),
		logger: logger,
	}
}

// SelectRule picks the single applicable rule for the candidate: the
// highest-priority active rule whose conditions match, ties broken by
// lowest rule ID. Returns nil when no rule matches.
func (ev *Evaluator) SelectRule(c Candidate, activeRules []*entity.ApprovalRule) *entity.ApprovalRule {
	var best *entity.ApprovalRule
	for _, rule := range activeRules {
		if !ev.matches(rule, c) {
			continue
		}
		if best == nil ||
			rule.Priority > best.Priority ||
			(rule.Priority == best.Priority && rule.ID < best.ID) {
			best = rule
		}
	}
	return best
}

// matches applies the rule's narrowing conditions. Empty condition sets
// impose no constraint.
func (ev *Evaluator) matches(rule *entity.ApprovalRule, c Candidate) bool {
	if !rule.IsActive || len(rule.Approvers) == 0 {
		return false
	}
	cond := rule.Conditions
	if cond.AmountThreshold > 0 && c.ConvertedAmount < cond.AmountThreshold {
		return false
	}
	if len(cond.Categories) > 0 && !contains(cond.Categories, c.Category) {
		return false
	}
	if len(cond.Departments) > 0 && !contains(cond.Departments, c.Department) {
		return false
	}
	if len(cond.Currencies) > 0 && !contains(cond.Currencies, c.Currency) {
		return false
	}
	return true
}

// DeriveApprovers derives the ordered approver list for a selected rule.
func (ev *Evaluator) DeriveApprovers(rule *entity.ApprovalRule, c Candidate) Routing {
	switch rule.RuleType {
	case entity.RuleSequential:
		return Routing{Kind: RouteChain, Approvers: sortByOrder(rule.Approvers)}
	case entity.RulePercentage:
		// Positionally unordered; order is kept on each entry for audit.
		return Routing{Kind: RouteChain, Approvers: sortByOrder(rule.Approvers)}
	case entity.RuleConditional, entity.RuleHybrid:
		return ev.deriveConditional(rule, c)
	default:
		return Routing{Kind: RouteChain, Approvers: sortByOrder(rule.Approvers)}
	}
}

// deriveConditional applies the rule's conditional entries. Entries without
// an action gate the whole rule; entries with an action apply it when their
// condition holds. Auto-reject wins over auto-approve when both fire.
func (ev *Evaluator) deriveConditional(rule *entity.ApprovalRule, c Candidate) Routing {
	approvers := sortByOrder(rule.Approvers)

	autoApprove := false
	skip := map[string]bool{}
	var added []string

	for _, cr := range rule.ConditionalRules {
		matched := ev.matchCondition(rule.ID, cr, c)

		if cr.Action == "" {
			if !matched {
				return Routing{Kind: RouteNone}
			}
			continue
		}
		if !matched {
			continue
		}

		switch cr.Action {
		case entity.ActionAutoReject:
			return Routing{Kind: RouteAutoReject}
		case entity.ActionAutoApprove:
			autoApprove = true
		case entity.ActionSkipApprover:
			skip[cr.TargetApproverID] = true
		case entity.ActionAddApprover:
			if cr.TargetApproverID != "" {
				added = append(added, cr.TargetApproverID)
			}
		default:
			ev.logger.Warn("Unknown conditional action, ignoring",
				zap.String("rule_id", rule.ID),
				zap.String("action", cr.Action))
		}
	}

	if autoApprove {
		return Routing{Kind: RouteAutoApprove}
	}

	result := make([]entity.RuleApprover, 0, len(approvers))
	maxOrder := 0
	for _, a := range approvers {
		if skip[a.ApproverID] {
			continue
		}
		result = append(result, a)
		if a.Order > maxOrder {
			maxOrder = a.Order
		}
	}
	for _, id := range added {
		// One entry per approver; the chain storage enforces the same.
		if hasApprover(result, id) {
			continue
		}
		maxOrder++
		result = append(result, entity.RuleApprover{
			ApproverID: id,
			Order:      maxOrder,
			IsRequired: true,
		})
	}

	return Routing{Kind: RouteChain, Approvers: result}
}

// matchCondition evaluates one conditional predicate against the candidate.
// The four declared condition kinds compile to fixed expressions; anything
// else is treated as a raw boolean expression over the same environment.
// Evaluation errors are logged and count as a non-match.
func (ev *Evaluator) matchCondition(ruleID string, cr entity.ConditionalRule, c Candidate) bool {
	env := map[string]interface{}{
		"convertedAmount": c.ConvertedAmount,
		"category":        c.Category,
		"department":      c.Department,
		"currency":        c.Currency,
		"value":           conditionValue(cr),
	}

	expression := ""
	switch cr.Condition {
	case entity.CondAmountGreaterThan:
		expression = "convertedAmount > value"
	case entity.CondAmountLessThan:
		expression = "convertedAmount < value"
	case entity.CondCategoryEquals:
		expression = "category == value"
	case entity.CondDepartmentEquals:
		expression = "department == value"
	default:
		expression = cr.Condition
	}

	matched, err := ev.cond.eval(expression, env)
	if err != nil {
		ev.logger.Warn("Conditional rule evaluation failed",
			zap.String("rule_id", ruleID),
			zap.String("condition", cr.Condition),
			zap.Error(err))
		return false
	}
	return matched
}

// conditionValue types the stored comparison value: numeric when it parses
// as a float, string otherwise.
func conditionValue(cr entity.ConditionalRule) interface{} {
	switch cr.Condition {
	case entity.CondAmountGreaterThan, entity.CondAmountLessThan:
		f, err := strconv.ParseFloat(cr.Value, 64)
		if err != nil {
			return 0.0
		}
		return f
	}
	if f, err := strconv.ParseFloat(cr.Value, 64); err == nil {
		return f
	}
	return cr.Value
}

func sortByOrder(approvers []entity.RuleApprover) []entity.RuleApprover {
	sorted := make([]entity.RuleApprover, len(approvers))
	copy(sorted, approvers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return sorted
}

func hasApprover(list []entity.RuleApprover, id string) bool {
	for _, a := range list {
		if a.ApproverID == id {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
