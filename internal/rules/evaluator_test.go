package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/expenseflow/expenseflow/internal/domain/entity"
)

func newTestEvaluator() *Evaluator {
	return NewEvaluator(zap.NewNop())
}

func sequentialRule(id string, priority int, threshold float64) *entity.ApprovalRule {
	return &entity.ApprovalRule{
		ID:       id,
		Name:     "rule-" + id,
		RuleType: entity.RuleSequential,
		IsActive: true,
		Priority: priority,
		Conditions: entity.RuleConditions{
			AmountThreshold: threshold,
		},
		Approvers: []entity.RuleApprover{
			{ApproverID: "mgr", Order: 1, IsRequired: true},
		},
	}
}

func TestSelectRuleFilters(t *testing.T) {
	ev := newTestEvaluator()

	tests := []struct {
		name      string
		rule      *entity.ApprovalRule
		candidate Candidate
		matches   bool
	}{
		{
			name:      "amount below threshold",
			rule:      sequentialRule("r1", 1, 500),
			candidate: Candidate{ConvertedAmount: 100},
			matches:   false,
		},
		{
			name:      "amount at threshold",
			rule:      sequentialRule("r1", 1, 500),
			candidate: Candidate{ConvertedAmount: 500},
			matches:   true,
		},
		{
			name: "category filter excludes",
			rule: func() *entity.ApprovalRule {
				r := sequentialRule("r1", 1, 0)
				r.Conditions.Categories = []string{"travel", "meals"}
				return r
			}(),
			candidate: Candidate{ConvertedAmount: 50, Category: "office"},
			matches:   false,
		},
		{
			name: "currency filter includes",
			rule: func() *entity.ApprovalRule {
				r := sequentialRule("r1", 1, 0)
				r.Conditions.Currencies = []string{"USD", "EUR"}
				return r
			}(),
			candidate: Candidate{ConvertedAmount: 50, Currency: "EUR"},
			matches:   true,
		},
		{
			name: "inactive rule never matches",
			rule: func() *entity.ApprovalRule {
				r := sequentialRule("r1", 1, 0)
				r.IsActive = false
				return r
			}(),
			candidate: Candidate{ConvertedAmount: 50},
			matches:   false,
		},
		{
			name: "rule without approvers never matches",
			rule: func() *entity.ApprovalRule {
				r := sequentialRule("r1", 1, 0)
				r.Approvers = nil
				return r
			}(),
			candidate: Candidate{ConvertedAmount: 50},
			matches:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ev.SelectRule(tt.candidate, []*entity.ApprovalRule{tt.rule})
			if tt.matches {
				assert.NotNil(t, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestSelectRulePriorityAndTieBreak(t *testing.T) {
	ev := newTestEvaluator()
	candidate := Candidate{ConvertedAmount: 1000}

	low := sequentialRule("a-low", 1, 0)
	high := sequentialRule("z-high", 5, 0)
	tieA := sequentialRule("rule-a", 5, 0)

	got := ev.SelectRule(candidate, []*entity.ApprovalRule{low, high, tieA})
	require.NotNil(t, got)
	// Priority 5 wins over 1; within priority 5 the lowest ID wins.
	assert.Equal(t, "rule-a", got.ID)
}

func TestSelectRuleDeterminism(t *testing.T) {
	ev := newTestEvaluator()
	candidate := Candidate{ConvertedAmount: 1000, Category: "travel"}
	ruleSet := []*entity.ApprovalRule{
		sequentialRule("r3", 2, 0),
		sequentialRule("r1", 2, 0),
		sequentialRule("r2", 7, 500),
	}

	first := ev.SelectRule(candidate, ruleSet)
	require.NotNil(t, first)
	for i := 0; i < 50; i++ {
		assert.Same(t, first, ev.SelectRule(candidate, ruleSet))
	}
}

func TestDeriveApproversSequentialOrder(t *testing.T) {
	ev := newTestEvaluator()
	rule := &entity.ApprovalRule{
		ID:       "r1",
		RuleType: entity.RuleSequential,
		IsActive: true,
		Approvers: []entity.RuleApprover{
			{ApproverID: "cfo", Order: 3},
			{ApproverID: "mgr", Order: 1},
			{ApproverID: "dir", Order: 2},
		},
	}

	routing := ev.DeriveApprovers(rule, Candidate{})
	require.Equal(t, RouteChain, routing.Kind)
	require.Len(t, routing.Approvers, 3)
	assert.Equal(t, "mgr", routing.Approvers[0].ApproverID)
	assert.Equal(t, "dir", routing.Approvers[1].ApproverID)
	assert.Equal(t, "cfo", routing.Approvers[2].ApproverID)
}

func conditionalRule(conds ...entity.ConditionalRule) *entity.ApprovalRule {
	return &entity.ApprovalRule{
		ID:       "cond-rule",
		RuleType: entity.RuleConditional,
		IsActive: true,
		Approvers: []entity.RuleApprover{
			{ApproverID: "mgr", Order: 1, IsRequired: true},
			{ApproverID: "dir", Order: 2, IsRequired: true},
		},
		ConditionalRules: conds,
	}
}

func TestDeriveConditionalActions(t *testing.T) {
	ev := newTestEvaluator()

	t.Run("auto approve below limit", func(t *testing.T) {
		rule := conditionalRule(entity.ConditionalRule{
			Condition: entity.CondAmountLessThan,
			Value:     "100",
			Action:    entity.ActionAutoApprove,
		})
		routing := ev.DeriveApprovers(rule, Candidate{ConvertedAmount: 50})
		assert.Equal(t, RouteAutoApprove, routing.Kind)
	})

	t.Run("auto reject wins over auto approve", func(t *testing.T) {
		rule := conditionalRule(
			entity.ConditionalRule{
				Condition: entity.CondAmountGreaterThan,
				Value:     "10",
				Action:    entity.ActionAutoApprove,
			},
			entity.ConditionalRule{
				Condition: entity.CondCategoryEquals,
				Value:     "entertainment",
				Action:    entity.ActionAutoReject,
			},
		)
		routing := ev.DeriveApprovers(rule, Candidate{ConvertedAmount: 50, Category: "entertainment"})
		assert.Equal(t, RouteAutoReject, routing.Kind)
	})

	t.Run("skip approver", func(t *testing.T) {
		rule := conditionalRule(entity.ConditionalRule{
			Condition:        entity.CondAmountLessThan,
			Value:            "1000",
			Action:           entity.ActionSkipApprover,
			TargetApproverID: "dir",
		})
		routing := ev.DeriveApprovers(rule, Candidate{ConvertedAmount: 200})
		require.Equal(t, RouteChain, routing.Kind)
		require.Len(t, routing.Approvers, 1)
		assert.Equal(t, "mgr", routing.Approvers[0].ApproverID)
	})

	t.Run("add approver appended last and required", func(t *testing.T) {
		rule := conditionalRule(entity.ConditionalRule{
			Condition:        entity.CondAmountGreaterThan,
			Value:            "5000",
			Action:           entity.ActionAddApprover,
			TargetApproverID: "cfo",
		})
		routing := ev.DeriveApprovers(rule, Candidate{ConvertedAmount: 9000})
		require.Equal(t, RouteChain, routing.Kind)
		require.Len(t, routing.Approvers, 3)
		last := routing.Approvers[2]
		assert.Equal(t, "cfo", last.ApproverID)
		assert.Equal(t, 3, last.Order)
		assert.True(t, last.IsRequired)
	})

	t.Run("add approver already in chain is not duplicated", func(t *testing.T) {
		rule := conditionalRule(entity.ConditionalRule{
			Condition:        entity.CondAmountGreaterThan,
			Value:            "5000",
			Action:           entity.ActionAddApprover,
			TargetApproverID: "dir",
		})
		routing := ev.DeriveApprovers(rule, Candidate{ConvertedAmount: 9000})
		require.Equal(t, RouteChain, routing.Kind)
		// A duplicate entry would violate the chain's per-approver uniqueness.
		require.Len(t, routing.Approvers, 2)
		assert.Equal(t, "mgr", routing.Approvers[0].ApproverID)
		assert.Equal(t, "dir", routing.Approvers[1].ApproverID)
	})

	t.Run("gate condition without action excludes on mismatch", func(t *testing.T) {
		rule := conditionalRule(entity.ConditionalRule{
			Condition: entity.CondDepartmentEquals,
			Value:     "engineering",
		})
		routing := ev.DeriveApprovers(rule, Candidate{Department: "sales"})
		assert.Equal(t, RouteNone, routing.Kind)

		routing = ev.DeriveApprovers(rule, Candidate{Department: "engineering"})
		assert.Equal(t, RouteChain, routing.Kind)
		assert.Len(t, routing.Approvers, 2)
	})

	t.Run("unmatched action condition leaves chain intact", func(t *testing.T) {
		rule := conditionalRule(entity.ConditionalRule{
			Condition: entity.CondAmountGreaterThan,
			Value:     "100000",
			Action:    entity.ActionAutoReject,
		})
		routing := ev.DeriveApprovers(rule, Candidate{ConvertedAmount: 500})
		assert.Equal(t, RouteChain, routing.Kind)
		assert.Len(t, routing.Approvers, 2)
	})
}

func TestMatchConditionRawExpression(t *testing.T) {
	ev := newTestEvaluator()
	rule := conditionalRule(entity.ConditionalRule{
		Condition: `convertedAmount > 100 && currency == "USD"`,
		Action:    entity.ActionAddApprover,
		// Missing target; the add is ignored but the expression still runs.
	})

	routing := ev.DeriveApprovers(rule, Candidate{ConvertedAmount: 500, Currency: "USD"})
	assert.Equal(t, RouteChain, routing.Kind)
	assert.Len(t, routing.Approvers, 2)
}

func TestMatchConditionBadExpressionIsNonMatch(t *testing.T) {
	ev := newTestEvaluator()
	rule := conditionalRule(entity.ConditionalRule{
		Condition: "this is not an expression ((",
	})

	// The broken gate counts as a non-match, excluding the rule.
	routing := ev.DeriveApprovers(rule, Candidate{ConvertedAmount: 500})
	assert.Equal(t, RouteNone, routing.Kind)
}
