package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/expenseflow/expenseflow/internal/domain/entity"
	"go.uber.org/zap"
)

// ExpenseRepository persists expenses and their approval chains.
type ExpenseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository.
func NewExpenseRepository(db *sql.DB, logger *zap.Logger) *ExpenseRepository {
	return &ExpenseRepository{db: db, logger: logger}
}

const expenseColumns = `
	id, company_id, employee_id, title, description, category,
	amount, currency, converted_amount, base_currency, exchange_rate,
	status, current_approver_id, rejection_reason,
	rule_id, rule_type, min_percentage, require_all,
	expense_date, tags, created_at, updated_at
`

// Create inserts an expense together with its approval chain.
func (r *ExpenseRepository) Create(ctx context.Context, expense *entity.Expense) error {
	tags, err := json.Marshal(expense.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query := `
		INSERT INTO expenses (
			id, company_id, employee_id, title, description, category,
			amount, currency, converted_amount, base_currency, exchange_rate,
			status, current_approver_id, rejection_reason,
			rule_id, rule_type, min_percentage, require_all,
			expense_date, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	exec := executorFrom(ctx, r.db)
	if _, err := exec.ExecContext(ctx, query,
		expense.ID, expense.CompanyID, expense.EmployeeID,
		expense.Title, expense.Description, expense.Category,
		expense.Amount, expense.Currency, expense.ConvertedAmount,
		expense.BaseCurrency, expense.ExchangeRate,
		string(expense.Status), expense.CurrentApproverID, expense.RejectionReason,
		expense.RuleID, string(expense.RuleType), expense.MinPercentage, expense.RequireAll,
		expense.ExpenseDate, string(tags),
	); err != nil {
		r.logger.Error("Failed to create expense", zap.String("id", expense.ID), zap.Error(err))
		return fmt.Errorf("create expense: %w", err)
	}

	for _, entry := range expense.ApprovalChain {
		if err := r.insertEntry(ctx, expense.ID, entry); err != nil {
			return err
		}
	}
	return nil
}

func (r *ExpenseRepository) insertEntry(ctx context.Context, expenseID string, entry *entity.ApprovalEntry) error {
	query := `
		INSERT INTO approval_entries (expense_id, approver_id, ord, is_required, status, comments)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := executorFrom(ctx, r.db).ExecContext(ctx, query,
		expenseID, entry.ApproverID, entry.Order, entry.IsRequired,
		string(entry.Status), entry.Comments,
	)
	if err != nil {
		return fmt.Errorf("create approval entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("approval entry insert id: %w", err)
	}
	entry.ID = id
	entry.ExpenseID = expenseID
	return nil
}

// CreateEntries appends a freshly routed chain to an existing expense.
func (r *ExpenseRepository) CreateEntries(ctx context.Context, expenseID string, entries []*entity.ApprovalEntry) error {
	for _, entry := range entries {
		if err := r.insertEntry(ctx, expenseID, entry); err != nil {
			return err
		}
	}
	return nil
}

// Update persists the mutable fields of a draft or freshly routed expense.
// Conversion fields change only at creation or draft edit; chain entries are
// never touched here.
func (r *ExpenseRepository) Update(ctx context.Context, expense *entity.Expense) error {
	tags, err := json.Marshal(expense.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query := `
		UPDATE expenses
		SET title = ?, description = ?, category = ?,
			amount = ?, currency = ?, converted_amount = ?, base_currency = ?, exchange_rate = ?,
			status = ?, current_approver_id = ?, rejection_reason = ?,
			rule_id = ?, rule_type = ?, min_percentage = ?, require_all = ?,
			expense_date = ?, tags = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := executorFrom(ctx, r.db).ExecContext(ctx, query,
		expense.Title, expense.Description, expense.Category,
		expense.Amount, expense.Currency, expense.ConvertedAmount,
		expense.BaseCurrency, expense.ExchangeRate,
		string(expense.Status), expense.CurrentApproverID, expense.RejectionReason,
		expense.RuleID, string(expense.RuleType), expense.MinPercentage, expense.RequireAll,
		expense.ExpenseDate, string(tags), expense.ID,
	); err != nil {
		r.logger.Error("Failed to update expense", zap.String("id", expense.ID), zap.Error(err))
		return fmt.Errorf("update expense: %w", err)
	}
	return nil
}

// GetByID retrieves an expense and its chain. Returns nil when absent.
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`

	expense, err := scanExpense(executorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("get expense: %w", err)
	}

	entries, err := r.chainFor(ctx, id)
	if err != nil {
		return nil, err
	}
	expense.ApprovalChain = entries
	return expense, nil
}

// chainFor loads the approval chain in declared order.
func (r *ExpenseRepository) chainFor(ctx context.Context, expenseID string) ([]*entity.ApprovalEntry, error) {
	query := `
		SELECT id, expense_id, approver_id, ord, is_required, status, comments, action_at, created_at
		FROM approval_entries
		WHERE expense_id = ?
		ORDER BY ord ASC
	`
	rows, err := executorFrom(ctx, r.db).QueryContext(ctx, query, expenseID)
	if err != nil {
		return nil, fmt.Errorf("load approval chain: %w", err)
	}
	defer rows.Close()

	var entries []*entity.ApprovalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ApplyDecision performs the single atomic conditional update that resolves
// decision races: the entry row changes only while it is still pending, so
// exactly one of two concurrent calls for the same entry succeeds. Returns
// false when the precondition did not hold.
func (r *ExpenseRepository) ApplyDecision(ctx context.Context, expenseID, approverID string, status entity.EntryStatus, comments string, at time.Time) (bool, error) {
	query := `
		UPDATE approval_entries
		SET status = ?, comments = ?, action_at = ?
		WHERE expense_id = ? AND approver_id = ? AND status = 'pending'
	`
	result, err := executorFrom(ctx, r.db).ExecContext(ctx, query,
		string(status), comments, at, expenseID, approverID)
	if err != nil {
		r.logger.Error("Failed to apply decision",
			zap.String("expense_id", expenseID),
			zap.String("approver_id", approverID),
			zap.Error(err))
		return false, fmt.Errorf("apply decision: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply decision rows affected: %w", err)
	}
	return affected == 1, nil
}

// UpdateWorkflowState persists the aggregate outcome computed by the state
// machine.
func (r *ExpenseRepository) UpdateWorkflowState(ctx context.Context, expenseID string, status entity.ExpenseStatus, currentApproverID, rejectionReason string) error {
	query := `
		UPDATE expenses
		SET status = ?, current_approver_id = ?, rejection_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := executorFrom(ctx, r.db).ExecContext(ctx, query,
		string(status), currentApproverID, rejectionReason, expenseID); err != nil {
		r.logger.Error("Failed to update workflow state",
			zap.String("expense_id", expenseID),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("update workflow state: %w", err)
	}
	return nil
}

// DeleteDraft removes a draft expense and its chain. Returns false when the
// expense is absent or no longer a draft.
func (r *ExpenseRepository) DeleteDraft(ctx context.Context, id string) (bool, error) {
	result, err := executorFrom(ctx, r.db).ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND status = 'draft'`, id)
	if err != nil {
		return false, fmt.Errorf("delete draft expense: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ListPendingForApprover pages expenses on which the approver holds a live
// pending entry.
func (r *ExpenseRepository) ListPendingForApprover(ctx context.Context, companyID, approverID string, limit, offset int) ([]*entity.Expense, int, error) {
	filter := `
		FROM expenses e
		WHERE e.company_id = ? AND e.status = 'pending'
		AND EXISTS (
			SELECT 1 FROM approval_entries a
			WHERE a.expense_id = e.id AND a.approver_id = ? AND a.status = 'pending'
		)
	`
	return r.listFiltered(ctx, filter, "e.created_at DESC", limit, offset, companyID, approverID)
}

// ListHistoryForApprover pages expenses on which the approver has already
// acted.
func (r *ExpenseRepository) ListHistoryForApprover(ctx context.Context, companyID, approverID string, limit, offset int) ([]*entity.Expense, int, error) {
	filter := `
		FROM expenses e
		WHERE e.company_id = ?
		AND EXISTS (
			SELECT 1 FROM approval_entries a
			WHERE a.expense_id = e.id AND a.approver_id = ? AND a.status IN ('approved', 'rejected')
		)
	`
	return r.listFiltered(ctx, filter, "e.updated_at DESC", limit, offset, companyID, approverID)
}

func (r *ExpenseRepository) listFiltered(ctx context.Context, filter, order string, limit, offset int, args ...interface{}) ([]*entity.Expense, int, error) {
	exec := executorFrom(ctx, r.db)

	var total int
	if err := exec.QueryRowContext(ctx, "SELECT COUNT(*) "+filter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count expenses: %w", err)
	}

	query := "SELECT " + prefixColumns("e") + " " + filter +
		" ORDER BY " + order + " LIMIT ? OFFSET ?"
	rows, err := exec.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		r.logger.Error("Failed to list expenses", zap.Error(err))
		return nil, 0, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*entity.Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, 0, err
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for _, expense := range expenses {
		entries, err := r.chainFor(ctx, expense.ID)
		if err != nil {
			return nil, 0, err
		}
		expense.ApprovalChain = entries
	}
	return expenses, total, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExpense(row rowScanner) (*entity.Expense, error) {
	var e entity.Expense
	var status, ruleType, tags string
	err := row.Scan(
		&e.ID, &e.CompanyID, &e.EmployeeID, &e.Title, &e.Description, &e.Category,
		&e.Amount, &e.Currency, &e.ConvertedAmount, &e.BaseCurrency, &e.ExchangeRate,
		&status, &e.CurrentApproverID, &e.RejectionReason,
		&e.RuleID, &ruleType, &e.MinPercentage, &e.RequireAll,
		&e.ExpenseDate, &tags, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = entity.ExpenseStatus(status)
	e.RuleType = entity.RuleType(ruleType)
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &e, nil
}

func scanEntry(row rowScanner) (*entity.ApprovalEntry, error) {
	var entry entity.ApprovalEntry
	var status string
	var actionAt sql.NullTime
	err := row.Scan(
		&entry.ID, &entry.ExpenseID, &entry.ApproverID, &entry.Order,
		&entry.IsRequired, &status, &entry.Comments, &actionAt, &entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan approval entry: %w", err)
	}
	entry.Status = entity.EntryStatus(status)
	if actionAt.Valid {
		entry.ActionAt = &actionAt.Time
	}
	return &entry, nil
}

func prefixColumns(alias string) string {
	return alias + `.id, ` + alias + `.company_id, ` + alias + `.employee_id, ` +
		alias + `.title, ` + alias + `.description, ` + alias + `.category, ` +
		alias + `.amount, ` + alias + `.currency, ` + alias + `.converted_amount, ` +
		alias + `.base_currency, ` + alias + `.exchange_rate, ` +
		alias + `.status, ` + alias + `.current_approver_id, ` + alias + `.rejection_reason, ` +
		alias + `.rule_id, ` + alias + `.rule_type, ` + alias + `.min_percentage, ` + alias + `.require_all, ` +
		alias + `.expense_date, ` + alias + `.tags, ` + alias + `.created_at, ` + alias + `.updated_at`
}
