package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// OverdueEntry is a pending approval entry that exceeded its rule's
// escalation window.
type OverdueEntry struct {
	EntryID           int64
	ExpenseID         string
	CompanyID         string
	EmployeeID        string
	ApproverID        string
	CurrentApproverID string
	EscalateTo        string
	EscalationHours   int
	HoursPending      float64
}

// EscalationRepository backs the escalation worker's scan-and-reassign
// cycle.
type EscalationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEscalationRepository creates a new escalation repository.
func NewEscalationRepository(db *sql.DB, logger *zap.Logger) *EscalationRepository {
	return &EscalationRepository{db: db, logger: logger}
}

// ListOverdue returns pending, not-yet-escalated entries on pending expenses
// whose routing rule enables escalation and whose age exceeds the rule's
// escalation window.
func (r *EscalationRepository) ListOverdue(ctx context.Context, limit int) ([]OverdueEntry, error) {
	query := `
		SELECT a.id, e.id, e.company_id, e.employee_id, a.approver_id,
			e.current_approver_id, r.escalate_to, r.escalation_hours,
			(julianday('now') - julianday(a.created_at)) * 24.0
		FROM approval_entries a
		JOIN expenses e ON e.id = a.expense_id
		JOIN approval_rules r ON r.id = e.rule_id
		WHERE a.status = 'pending'
			AND a.escalated = 0
			AND e.status = 'pending'
			AND r.escalation_enabled = 1
			AND (julianday('now') - julianday(a.created_at)) * 24.0 >= r.escalation_hours
		ORDER BY a.created_at ASC
		LIMIT ?
	`
	rows, err := executorFrom(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list overdue entries", zap.Error(err))
		return nil, fmt.Errorf("list overdue entries: %w", err)
	}
	defer rows.Close()

	var overdue []OverdueEntry
	for rows.Next() {
		var o OverdueEntry
		if err := rows.Scan(
			&o.EntryID, &o.ExpenseID, &o.CompanyID, &o.EmployeeID, &o.ApproverID,
			&o.CurrentApproverID, &o.EscalateTo, &o.EscalationHours, &o.HoursPending,
		); err != nil {
			return nil, fmt.Errorf("scan overdue entry: %w", err)
		}
		overdue = append(overdue, o)
	}
	return overdue, rows.Err()
}

// Reassign hands a still-pending entry to a new approver. The status
// precondition makes the reassignment lose cleanly against a concurrent
// decision. Returns false when the entry was no longer pending or the new
// approver already holds an entry on the expense.
func (r *EscalationRepository) Reassign(ctx context.Context, entryID int64, toApproverID string) (bool, error) {
	result, err := executorFrom(ctx, r.db).ExecContext(ctx, `
		UPDATE approval_entries
		SET approver_id = ?, escalated = 1
		WHERE id = ? AND status = 'pending'
			AND NOT EXISTS (
				SELECT 1 FROM approval_entries other
				WHERE other.expense_id = approval_entries.expense_id
					AND other.approver_id = ?
					AND other.id != approval_entries.id
			)
	`, toApproverID, entryID, toApproverID)
	if err != nil {
		return false, fmt.Errorf("reassign entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkEscalated flags an entry so reminder-only escalation fires once.
func (r *EscalationRepository) MarkEscalated(ctx context.Context, entryID int64) error {
	if _, err := executorFrom(ctx, r.db).ExecContext(ctx,
		`UPDATE approval_entries SET escalated = 1 WHERE id = ? AND status = 'pending'`,
		entryID); err != nil {
		return fmt.Errorf("mark entry escalated: %w", err)
	}
	return nil
}

// UpdateCurrentApprover repoints the expense's current approver after a
// reassignment, only if it still points at the previous holder.
func (r *EscalationRepository) UpdateCurrentApprover(ctx context.Context, expenseID, from, to string) error {
	if _, err := executorFrom(ctx, r.db).ExecContext(ctx, `
		UPDATE expenses
		SET current_approver_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND current_approver_id = ?
	`, to, expenseID, from); err != nil {
		return fmt.Errorf("update current approver: %w", err)
	}
	return nil
}
