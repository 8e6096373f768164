package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/expenseflow/expenseflow/internal/currency"
	"github.com/expenseflow/expenseflow/internal/domain/entity"
	chain "github.com/expenseflow/expenseflow/internal/domain/workflow"
	"github.com/expenseflow/expenseflow/internal/notification"
	"github.com/expenseflow/expenseflow/internal/repository"
	"github.com/expenseflow/expenseflow/internal/rules"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExpenseStore is the persistence surface the controller needs for
// expenses and their chains.
type ExpenseStore interface {
	Create(ctx context.Context, expense *entity.Expense) error
	CreateEntries(ctx context.Context, expenseID string, entries []*entity.ApprovalEntry) error
	Update(ctx context.Context, expense *entity.Expense) error
	GetByID(ctx context.Context, id string) (*entity.Expense, error)
	ApplyDecision(ctx context.Context, expenseID, approverID string, status entity.EntryStatus, comments string, at time.Time) (bool, error)
	UpdateWorkflowState(ctx context.Context, expenseID string, status entity.ExpenseStatus, currentApproverID, rejectionReason string) error
	DeleteDraft(ctx context.Context, id string) (bool, error)
	ListPendingForApprover(ctx context.Context, companyID, approverID string, limit, offset int) ([]*entity.Expense, int, error)
	ListHistoryForApprover(ctx context.Context, companyID, approverID string, limit, offset int) ([]*entity.Expense, int, error)
}

// RuleStore lists a company's active approval rules.
type RuleStore interface {
	ListActive(ctx context.Context, companyID string) ([]*entity.ApprovalRule, error)
}

// CompanyStore reads company settings.
type CompanyStore interface {
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}

// UserStore resolves the submitting employee for routing.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
}

// StatsStore runs the read-only approval aggregations.
type StatsStore interface {
	Overview(ctx context.Context, approverID string, start, end time.Time) (repository.StatsOverview, error)
	MonthlyTrends(ctx context.Context, approverID string, start, end time.Time) ([]repository.MonthlyTrend, error)
}

// TxRunner scopes a function to one atomic commit.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Controller orchestrates expense routing, approver actions and statistics.
// It owns no state beyond its collaborators; the persisted expense record is
// the single shared mutable resource.
type Controller struct {
	tx        TxRunner
	expenses  ExpenseStore
	ruleStore RuleStore
	companies CompanyStore
	users     UserStore
	stats     StatsStore
	evaluator *rules.Evaluator
	converter currency.Converter
	sink      notification.Sink
	logger    *zap.Logger
	now       func() time.Time
}

// NewController creates a workflow controller.
func NewController(
	tx TxRunner,
	expenses ExpenseStore,
	ruleStore RuleStore,
	companies CompanyStore,
	users UserStore,
	stats StatsStore,
	evaluator *rules.Evaluator,
	converter currency.Converter,
	sink notification.Sink,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		tx:        tx,
		expenses:  expenses,
		ruleStore: ruleStore,
		companies: companies,
		users:     users,
		stats:     stats,
		evaluator: evaluator,
		converter: converter,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateExpense converts the amount into the company's base currency, and
// either stores the expense as a draft or routes it through the approval
// rules immediately. A currency normalizer failure fails creation; the
// conversion is never skipped silently.
func (c *Controller) CreateExpense(ctx context.Context, expense *entity.Expense, submit bool) (*entity.Expense, error) {
	company, err := c.companies.GetByID(ctx, expense.CompanyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, fmt.Errorf("company %s: %w", expense.CompanyID, chain.ErrNotFound)
	}

	if expense.ID == "" {
		expense.ID = uuid.NewString()
	}

	conv, err := c.converter.Convert(ctx, expense.Amount, expense.Currency, company.BaseCurrency)
	if err != nil {
		return nil, fmt.Errorf("currency normalizer: %v: %w", err, chain.ErrDependencyFailure)
	}
	expense.ConvertedAmount = conv.ConvertedAmount
	expense.ExchangeRate = conv.Rate
	expense.BaseCurrency = company.BaseCurrency

	if !submit {
		expense.Status = entity.ExpenseDraft
		if err := c.expenses.Create(ctx, expense); err != nil {
			return nil, err
		}
		return expense, nil
	}

	notify, err := c.route(ctx, company, expense)
	if err != nil {
		return nil, err
	}

	// The expense row and its chain entries land in one commit; a partial
	// chain must never become visible.
	err = c.tx.RunInTx(ctx, func(ctx context.Context) error {
		return c.expenses.Create(ctx, expense)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Expense routed",
		zap.String("expense_id", expense.ID),
		zap.String("status", string(expense.Status)),
		zap.String("rule_id", expense.RuleID),
		zap.Int("chain_len", len(expense.ApprovalChain)))

	notify()
	return expense, nil
}

// SubmitDraft routes an existing draft through the approval rules. The
// conversion snapshot taken at creation (or last draft edit) is reused.
func (c *Controller) SubmitDraft(ctx context.Context, expenseID string) (*entity.Expense, error) {
	expense, err := c.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense == nil {
		return nil, fmt.Errorf("expense %s: %w", expenseID, chain.ErrNotFound)
	}
	if expense.Status != entity.ExpenseDraft {
		return nil, fmt.Errorf("only drafts can be submitted: %w", chain.ErrValidation)
	}

	company, err := c.companies.GetByID(ctx, expense.CompanyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, fmt.Errorf("company %s: %w", expense.CompanyID, chain.ErrNotFound)
	}

	notify, err := c.route(ctx, company, expense)
	if err != nil {
		return nil, err
	}

	err = c.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := c.expenses.Update(ctx, expense); err != nil {
			return err
		}
		return c.expenses.CreateEntries(ctx, expense.ID, expense.ApprovalChain)
	})
	if err != nil {
		return nil, err
	}

	notify()
	return expense, nil
}

// route applies rule evaluation to the expense in memory: it sets status,
// chain, current approver and the denormalized completion parameters, and
// returns the deferred notification emission for after the write commits.
func (c *Controller) route(ctx context.Context, company *entity.Company, expense *entity.Expense) (func(), error) {
	activeRules, err := c.ruleStore.ListActive(ctx, expense.CompanyID)
	if err != nil {
		return nil, err
	}

	// Department rules match against the submitting employee's department.
	department := ""
	if employee, err := c.users.GetByID(ctx, expense.EmployeeID); err != nil {
		return nil, err
	} else if employee != nil {
		department = employee.Department
	}

	candidate := rules.Candidate{
		ConvertedAmount: expense.ConvertedAmount,
		Category:        expense.Category,
		Department:      department,
		Currency:        expense.Currency,
	}

	rule := c.evaluator.SelectRule(candidate, activeRules)
	if rule != nil {
		routing := c.evaluator.DeriveApprovers(rule, candidate)
		switch routing.Kind {
		case rules.RouteAutoApprove:
			expense.Status = entity.ExpenseApproved
			expense.RuleID = rule.ID
			expense.CurrentApproverID = ""
			return func() {}, nil
		case rules.RouteAutoReject:
			expense.Status = entity.ExpenseRejected
			expense.RuleID = rule.ID
			expense.RejectionReason = "rejected by approval rule " + rule.Name
			expense.CurrentApproverID = ""
			return func() {}, nil
		case rules.RouteChain:
			if len(routing.Approvers) > 0 {
				return c.routeToChain(expense, rule, routing.Approvers), nil
			}
			// Empty derivation falls through to the no-rule path.
		case rules.RouteNone:
		}
	}

	// No applicable rule. Small amounts auto-approve; anything above the
	// limit is owned by the company's default approver so a pending expense
	// always has a path to resolution.
	if expense.ConvertedAmount <= company.Settings.AutoApprovalLimit {
		expense.Status = entity.ExpenseApproved
		expense.CurrentApproverID = ""
		expense.ApprovalChain = nil
		return func() {}, nil
	}

	if company.Settings.DefaultApproverID == "" {
		return nil, fmt.Errorf("company %s has no default approver for unrouted expenses: %w",
			company.ID, chain.ErrValidation)
	}

	expense.Status = entity.ExpensePending
	expense.RuleType = entity.RuleSequential
	expense.ApprovalChain = []*entity.ApprovalEntry{{
		ApproverID: company.Settings.DefaultApproverID,
		Order:      1,
		IsRequired: true,
		Status:     entity.EntryPending,
	}}
	expense.CurrentApproverID = company.Settings.DefaultApproverID

	snapshot := *expense
	return func() {
		c.sink.Emit(context.Background(), notification.RequiresApproval(snapshot.CurrentApproverID, &snapshot))
	}, nil
}

// routeToChain builds the approval chain from the derived approver list.
func (c *Controller) routeToChain(expense *entity.Expense, rule *entity.ApprovalRule, approvers []entity.RuleApprover) func() {
	entries := make([]*entity.ApprovalEntry, 0, len(approvers))
	for _, a := range approvers {
		entries = append(entries, &entity.ApprovalEntry{
			ApproverID: a.ApproverID,
			Order:      a.Order,
			IsRequired: a.IsRequired,
			Status:     entity.EntryPending,
		})
	}

	expense.Status = entity.ExpensePending
	expense.ApprovalChain = entries
	expense.RuleID = rule.ID
	expense.RuleType = rule.RuleType
	expense.MinPercentage = rule.PercentageRules.MinPercentage
	expense.RequireAll = rule.PercentageRules.RequireAll
	expense.CurrentApproverID = chain.InitialApproverID(rule.RuleType, entries)

	snapshot := *expense
	return func() {
		if snapshot.CurrentApproverID != "" {
			c.sink.Emit(context.Background(), notification.RequiresApproval(snapshot.CurrentApproverID, &snapshot))
			return
		}
		// Percentage chains have no single current approver; every pending
		// holder is empowered to act.
		for _, entry := range snapshot.ApprovalChain {
			c.sink.Emit(context.Background(), notification.RequiresApproval(entry.ApproverID, &snapshot))
		}
	}
}

// HandleAction applies one approver's decision to an expense. The entry
// update is a single atomic conditional write, so of two racing calls for
// the same entry exactly one succeeds and the other observes
// ErrNotAuthorizedOrAlreadyActed with no state change.
func (c *Controller) HandleAction(ctx context.Context, expenseID, approverID string, decision chain.Decision, comments string) (*entity.Expense, error) {
	if !decision.IsValid() {
		return nil, fmt.Errorf("action must be approve or reject: %w", chain.ErrValidation)
	}

	var outcome chain.Outcome
	var expense *entity.Expense

	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		expense, err = c.expenses.GetByID(ctx, expenseID)
		if err != nil {
			return err
		}
		if expense == nil {
			return fmt.Errorf("expense %s: %w", expenseID, chain.ErrNotFound)
		}
		if expense.Status != entity.ExpensePending {
			return chain.ErrNotAuthorizedOrAlreadyActed
		}

		now := c.now()
		ok, err := c.expenses.ApplyDecision(ctx, expenseID, approverID, decision.EntryStatus(), comments, now)
		if err != nil {
			return err
		}
		if !ok {
			return chain.ErrNotAuthorizedOrAlreadyActed
		}

		machine := chain.NewMachine(ruleTypeOf(expense), entity.PercentagePolicy{
			MinPercentage: expense.MinPercentage,
			RequireAll:    expense.RequireAll,
		}, expense.ApprovalChain)

		outcome, err = machine.Apply(approverID, decision, comments, now)
		if err != nil {
			return err
		}

		expense.Status = outcome.Status
		expense.CurrentApproverID = outcome.CurrentApproverID
		expense.RejectionReason = outcome.RejectionReason
		return c.expenses.UpdateWorkflowState(ctx, expenseID, outcome.Status, outcome.CurrentApproverID, outcome.RejectionReason)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Approval decision applied",
		zap.String("expense_id", expenseID),
		zap.String("approver_id", approverID),
		zap.String("decision", string(decision)),
		zap.String("status", string(outcome.Status)),
		zap.Bool("terminal", outcome.Terminal))

	c.emitActionNotifications(expense, approverID, comments, outcome)
	return expense, nil
}

// emitActionNotifications is fire-and-forget: the transition has already
// committed, so sink failures are the sink's problem, not the caller's.
// The owner hears only about terminal outcomes; intermediate approvals
// notify the next approver instead.
func (c *Controller) emitActionNotifications(expense *entity.Expense, approverID string, comments string, outcome chain.Outcome) {
	ctx := context.Background()
	if outcome.Terminal {
		c.sink.Emit(ctx, notification.Outcome(expense, outcome.Status == entity.ExpenseApproved, comments))
		return
	}
	if outcome.CurrentApproverID != "" && outcome.CurrentApproverID != approverID {
		c.sink.Emit(ctx, notification.RequiresApproval(outcome.CurrentApproverID, expense))
	}
}

// Cancel moves a draft or pending expense to cancelled. Only the owner may
// cancel; terminal expenses stay as they are.
func (c *Controller) Cancel(ctx context.Context, expenseID, userID string) (*entity.Expense, error) {
	var expense *entity.Expense
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		expense, err = c.expenses.GetByID(ctx, expenseID)
		if err != nil {
			return err
		}
		if expense == nil {
			return fmt.Errorf("expense %s: %w", expenseID, chain.ErrNotFound)
		}
		if expense.EmployeeID != userID {
			return fmt.Errorf("only the owner can cancel an expense: %w", chain.ErrNotAuthorizedOrAlreadyActed)
		}
		if expense.Status != entity.ExpenseDraft && expense.Status != entity.ExpensePending {
			return fmt.Errorf("cannot cancel a %s expense: %w", expense.Status, chain.ErrTerminalState)
		}

		expense.Status = entity.ExpenseCancelled
		expense.CurrentApproverID = ""
		return c.expenses.UpdateWorkflowState(ctx, expenseID, entity.ExpenseCancelled, "", expense.RejectionReason)
	})
	if err != nil {
		return nil, err
	}
	return expense, nil
}

func ruleTypeOf(expense *entity.Expense) entity.RuleType {
	if expense.RuleType.IsValid() {
		return expense.RuleType
	}
	return entity.RuleSequential
}

// IsClientError reports whether err belongs to the caller-facing taxonomy
// rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, chain.ErrNotFound) ||
		errors.Is(err, chain.ErrNotAuthorizedOrAlreadyActed) ||
		errors.Is(err, chain.ErrValidation) ||
		errors.Is(err, chain.ErrTerminalState)
}
