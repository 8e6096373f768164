package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/expenseflow/expenseflow/internal/domain/entity"
	"go.uber.org/zap"
)

// RuleRepository persists approval rules with their approver slots and
// conditional entries.
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *sql.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

// Create inserts a rule with its approvers and conditional entries.
func (r *RuleRepository) Create(ctx context.Context, rule *entity.ApprovalRule) error {
	categories, _ := json.Marshal(rule.Conditions.Categories)
	departments, _ := json.Marshal(rule.Conditions.Departments)
	currencies, _ := json.Marshal(rule.Conditions.Currencies)

	exec := executorFrom(ctx, r.db)
	query := `
		INSERT INTO approval_rules (
			id, company_id, name, description, rule_type, is_active, priority,
			amount_threshold, categories, departments, currencies,
			min_percentage, require_all,
			escalation_enabled, escalation_hours, escalate_to, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := exec.ExecContext(ctx, query,
		rule.ID, rule.CompanyID, rule.Name, rule.Description,
		string(rule.RuleType), rule.IsActive, rule.Priority,
		rule.Conditions.AmountThreshold, string(categories), string(departments), string(currencies),
		rule.PercentageRules.MinPercentage, rule.PercentageRules.RequireAll,
		rule.EscalationRules.Enabled, rule.EscalationRules.EscalationHours, rule.EscalationRules.EscalateTo,
		rule.CreatedBy,
	); err != nil {
		r.logger.Error("Failed to create rule", zap.String("id", rule.ID), zap.Error(err))
		return fmt.Errorf("create rule: %w", err)
	}

	for _, a := range rule.Approvers {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO rule_approvers (rule_id, approver_id, role, ord, is_required, can_delegate)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rule.ID, a.ApproverID, a.Role, a.Order, a.IsRequired, a.CanDelegate,
		); err != nil {
			return fmt.Errorf("create rule approver: %w", err)
		}
	}

	for _, c := range rule.ConditionalRules {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO rule_conditions (rule_id, condition, value, action, target_approver_id)
			VALUES (?, ?, ?, ?, ?)`,
			rule.ID, c.Condition, c.Value, c.Action, c.TargetApproverID,
		); err != nil {
			return fmt.Errorf("create rule condition: %w", err)
		}
	}
	return nil
}

// ListActive returns every active rule of a company, fully hydrated.
func (r *RuleRepository) ListActive(ctx context.Context, companyID string) ([]*entity.ApprovalRule, error) {
	query := `
		SELECT id, company_id, name, description, rule_type, is_active, priority,
			amount_threshold, categories, departments, currencies,
			min_percentage, require_all,
			escalation_enabled, escalation_hours, escalate_to,
			created_by, created_at, updated_at
		FROM approval_rules
		WHERE company_id = ? AND is_active = 1
		ORDER BY priority DESC, id ASC
	`
	exec := executorFrom(ctx, r.db)
	rows, err := exec.QueryContext(ctx, query, companyID)
	if err != nil {
		r.logger.Error("Failed to list active rules", zap.String("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()

	var rules []*entity.ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if err := r.hydrate(ctx, rule); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// GetByID returns a rule with approvers and conditions, or nil when absent.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalRule, error) {
	query := `
		SELECT id, company_id, name, description, rule_type, is_active, priority,
			amount_threshold, categories, departments, currencies,
			min_percentage, require_all,
			escalation_enabled, escalation_hours, escalate_to,
			created_by, created_at, updated_at
		FROM approval_rules
		WHERE id = ?
	`
	rule, err := scanRule(executorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	if err := r.hydrate(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *RuleRepository) hydrate(ctx context.Context, rule *entity.ApprovalRule) error {
	exec := executorFrom(ctx, r.db)

	rows, err := exec.QueryContext(ctx, `
		SELECT approver_id, role, ord, is_required, can_delegate
		FROM rule_approvers WHERE rule_id = ? ORDER BY ord ASC`, rule.ID)
	if err != nil {
		return fmt.Errorf("load rule approvers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a entity.RuleApprover
		if err := rows.Scan(&a.ApproverID, &a.Role, &a.Order, &a.IsRequired, &a.CanDelegate); err != nil {
			return fmt.Errorf("scan rule approver: %w", err)
		}
		rule.Approvers = append(rule.Approvers, a)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	condRows, err := exec.QueryContext(ctx, `
		SELECT condition, value, action, target_approver_id
		FROM rule_conditions WHERE rule_id = ? ORDER BY id ASC`, rule.ID)
	if err != nil {
		return fmt.Errorf("load rule conditions: %w", err)
	}
	defer condRows.Close()
	for condRows.Next() {
		var c entity.ConditionalRule
		if err := condRows.Scan(&c.Condition, &c.Value, &c.Action, &c.TargetApproverID); err != nil {
			return fmt.Errorf("scan rule condition: %w", err)
		}
		rule.ConditionalRules = append(rule.ConditionalRules, c)
	}
	return condRows.Err()
}

func scanRule(row rowScanner) (*entity.ApprovalRule, error) {
	var rule entity.ApprovalRule
	var ruleType, categories, departments, currencies string
	err := row.Scan(
		&rule.ID, &rule.CompanyID, &rule.Name, &rule.Description,
		&ruleType, &rule.IsActive, &rule.Priority,
		&rule.Conditions.AmountThreshold, &categories, &departments, &currencies,
		&rule.PercentageRules.MinPercentage, &rule.PercentageRules.RequireAll,
		&rule.EscalationRules.Enabled, &rule.EscalationRules.EscalationHours, &rule.EscalationRules.EscalateTo,
		&rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.RuleType = entity.RuleType(ruleType)
	if err := json.Unmarshal([]byte(categories), &rule.Conditions.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	if err := json.Unmarshal([]byte(departments), &rule.Conditions.Departments); err != nil {
		return nil, fmt.Errorf("unmarshal departments: %w", err)
	}
	if err := json.Unmarshal([]byte(currencies), &rule.Conditions.Currencies); err != nil {
		return nil, fmt.Errorf("unmarshal currencies: %w", err)
	}
	return &rule, nil
}
