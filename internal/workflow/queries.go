package workflow

import (
	"context"
	"fmt"

	"github.com/expenseflow/expenseflow/internal/domain/entity"
	chain "github.com/expenseflow/expenseflow/internal/domain/workflow"
)

// ListPending returns the expenses currently waiting on the approver,
// with the total match count for paging.
func (c *Controller) ListPending(ctx context.Context, companyID, approverID string, limit, offset int) ([]*entity.Expense, int, error) {
	return c.expenses.ListPendingForApprover(ctx, companyID, approverID, limit, offset)
}

// ListHistory returns the expenses the approver has already acted on.
func (c *Controller) ListHistory(ctx context.Context, companyID, approverID string, limit, offset int) ([]*entity.Expense, int, error) {
	return c.expenses.ListHistoryForApprover(ctx, companyID, approverID, limit, offset)
}

// GetExpense fetches one expense visible to the viewer. Expenses from other
// companies read as not found rather than forbidden.
func (c *Controller) GetExpense(ctx context.Context, expenseID string, viewer *entity.User) (*entity.Expense, error) {
	expense, err := c.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense == nil || expense.CompanyID != viewer.CompanyID {
		return nil, fmt.Errorf("expense %s: %w", expenseID, chain.ErrNotFound)
	}
	return expense, nil
}

// DeleteDraft removes a draft expense. Only the owner may delete, and only
// while the expense is still a draft.
func (c *Controller) DeleteDraft(ctx context.Context, expenseID, userID string) error {
	expense, err := c.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return err
	}
	if expense == nil {
		return fmt.Errorf("expense %s: %w", expenseID, chain.ErrNotFound)
	}
	if expense.EmployeeID != userID {
		return fmt.Errorf("only the owner can delete an expense: %w", chain.ErrNotAuthorizedOrAlreadyActed)
	}
	if expense.Status != entity.ExpenseDraft {
		return fmt.Errorf("only drafts can be deleted: %w", chain.ErrValidation)
	}

	ok, err := c.expenses.DeleteDraft(ctx, expenseID)
	if err != nil {
		return err
	}
	if !ok {
		// Submitted or deleted concurrently since the read above.
		return fmt.Errorf("expense %s is no longer a draft: %w", expenseID, chain.ErrValidation)
	}
	return nil
}
