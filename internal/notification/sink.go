package notification

import (
	"context"
	"fmt"

	"github.com/expenseflow/expenseflow/internal/domain/entity"
	"github.com/expenseflow/expenseflow/internal/repository"
	"go.uber.org/zap"
)

// Sink receives fire-and-forget events emitted at workflow transitions.
// Delivery is best effort: a failed emit must never turn a committed state
// transition into a reported failure.
type Sink interface {
	Emit(ctx context.Context, n *entity.Notification)
}

// StoreSink persists notifications through the notification repository and
// swallows delivery errors after logging them.
type StoreSink struct {
	repo   *repository.NotificationRepository
	logger *zap.Logger
}

// NewStoreSink creates a store-backed notification sink.
func NewStoreSink(repo *repository.NotificationRepository, logger *zap.Logger) *StoreSink {
	return &StoreSink{repo: repo, logger: logger}
}

// Emit stores the notification. Errors are logged and dropped.
func (s *StoreSink) Emit(ctx context.Context, n *entity.Notification) {
	if n.Priority == "" {
		n.Priority = entity.PriorityMedium
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.logger.Warn("Notification delivery failed",
			zap.String("user_id", n.UserID),
			zap.String("type", n.Type),
			zap.Error(err))
	}
}

// RequiresApproval builds the "requires approval" notification for an
// approver.
func RequiresApproval(approverID string, expense *entity.Expense) *entity.Notification {
	return &entity.Notification{
		UserID:      approverID,
		CompanyID:   expense.CompanyID,
		Type:        entity.NotifyRequiresApproval,
		Title:       "Expense Requires Your Approval",
		Message:     fmt.Sprintf("An expense of %.2f %s requires your approval.", expense.ConvertedAmount, expense.BaseCurrency),
		Priority:    entity.PriorityHigh,
		RelatedType: "expense",
		RelatedID:   expense.ID,
		ActionURL:   "/expenses/" + expense.ID,
	}
}

// Outcome builds the terminal-outcome notification for the expense owner.
func Outcome(expense *entity.Expense, approved bool, comments string) *entity.Notification {
	n := &entity.Notification{
		UserID:      expense.EmployeeID,
		CompanyID:   expense.CompanyID,
		RelatedType: "expense",
		RelatedID:   expense.ID,
		ActionURL:   "/expenses/" + expense.ID,
		Priority:    entity.PriorityMedium,
	}
	if approved {
		n.Type = entity.NotifyExpenseApproved
		n.Title = "Expense Approved"
		n.Message = fmt.Sprintf("Your expense of %.2f %s has been approved.", expense.ConvertedAmount, expense.BaseCurrency)
		return n
	}
	n.Type = entity.NotifyExpenseRejected
	n.Title = "Expense Rejected"
	n.Message = fmt.Sprintf("Your expense of %.2f %s has been rejected.", expense.ConvertedAmount, expense.BaseCurrency)
	if comments != "" {
		n.Message += " Reason: " + comments
	}
	return n
}

// Escalated builds the notification for the approver an overdue entry was
// reassigned to.
func Escalated(toApproverID, companyID, expenseID string, hoursPending float64) *entity.Notification {
	return &entity.Notification{
		UserID:      toApproverID,
		CompanyID:   companyID,
		Type:        entity.NotifyEscalated,
		Title:       "Escalated Expense Requires Your Approval",
		Message:     fmt.Sprintf("An expense approval pending for %.0f hours has been escalated to you.", hoursPending),
		Priority:    entity.PriorityHigh,
		RelatedType: "expense",
		RelatedID:   expenseID,
		ActionURL:   "/expenses/" + expenseID,
	}
}

// Reminder builds the overdue reminder for the current holder when no
// escalation target is configured.
func Reminder(approverID, companyID, expenseID string, hoursPending float64) *entity.Notification {
	return &entity.Notification{
		UserID:      approverID,
		CompanyID:   companyID,
		Type:        entity.NotifyReminder,
		Title:       "Expense Approval Overdue",
		Message:     fmt.Sprintf("An expense approval has been waiting on you for %.0f hours.", hoursPending),
		Priority:    entity.PriorityHigh,
		RelatedType: "expense",
		RelatedID:   expenseID,
		ActionURL:   "/expenses/" + expenseID,
	}
}
