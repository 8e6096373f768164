package workflow

import (
	"context"
	"errors"
	"fmt"

	chain "github.com/expenseflow/expenseflow/internal/domain/workflow"
	"go.uber.org/zap"
)

// BulkItemResult reports the outcome for one expense in a bulk action.
type BulkItemResult struct {
	ExpenseID string `json:"expense_id"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BulkResult aggregates a bulk action. Failures are isolated per item;
// successes are never rolled back because a later item failed.
type BulkResult struct {
	Processed int              `json:"processed"`
	Failed    int              `json:"errors"`
	Results   []BulkItemResult `json:"results"`
	Errors    []BulkItemResult `json:"error_details"`
}

// HandleBulkAction applies the same decision independently to each expense,
// in the given list order. There is no cross-item transaction.
func (c *Controller) HandleBulkAction(ctx context.Context, expenseIDs []string, approverID string, decision chain.Decision, comments string) (*BulkResult, error) {
	if len(expenseIDs) == 0 {
		return nil, fmt.Errorf("expense ids are required: %w", chain.ErrValidation)
	}
	if !decision.IsValid() {
		return nil, fmt.Errorf("action must be approve or reject: %w", chain.ErrValidation)
	}

	result := &BulkResult{
		Results: make([]BulkItemResult, 0, len(expenseIDs)),
	}

	for _, id := range expenseIDs {
		if _, err := c.HandleAction(ctx, id, approverID, decision, comments); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkItemResult{
				ExpenseID: id,
				Error:     bulkErrorMessage(err),
			})
			if !IsClientError(err) {
				c.logger.Error("Bulk action item failed",
					zap.String("expense_id", id),
					zap.Error(err))
			}
			continue
		}
		result.Processed++
		result.Results = append(result.Results, BulkItemResult{ExpenseID: id, Status: "success"})
	}

	return result, nil
}

func bulkErrorMessage(err error) string {
	switch {
	case errors.Is(err, chain.ErrNotFound):
		return "expense not found"
	case errors.Is(err, chain.ErrNotAuthorizedOrAlreadyActed):
		return "not authorized to act on this expense"
	case errors.Is(err, chain.ErrValidation):
		return "invalid action"
	default:
		return "internal error"
	}
}
