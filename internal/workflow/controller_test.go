package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/expenseflow/expenseflow/internal/currency"
	"github.com/expenseflow/expenseflow/internal/domain/entity"
	chain "github.com/expenseflow/expenseflow/internal/domain/workflow"
	"github.com/expenseflow/expenseflow/internal/repository"
	"github.com/expenseflow/expenseflow/internal/rules"
)

// fakeExpenseStore keeps expenses in memory and mimics the repository's
// atomic conditional entry update under a mutex.
type fakeExpenseStore struct {
	mu       sync.Mutex
	expenses map[string]*entity.Expense
	nextID   int64

	tx          *fakeTxRunner
	createdInTx bool
}

func newFakeExpenseStore() *fakeExpenseStore {
	return &fakeExpenseStore{expenses: map[string]*entity.Expense{}}
}

func (s *fakeExpenseStore) Create(ctx context.Context, expense *entity.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		s.createdInTx = s.tx.isActive()
	}
	for _, e := range expense.ApprovalChain {
		s.nextID++
		e.ID = s.nextID
		e.ExpenseID = expense.ID
	}
	s.expenses[expense.ID] = copyExpense(expense)
	return nil
}

func (s *fakeExpenseStore) CreateEntries(ctx context.Context, expenseID string, entries []*entity.ApprovalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.expenses[expenseID]
	if !ok {
		return fmt.Errorf("no expense %s", expenseID)
	}
	for _, e := range entries {
		s.nextID++
		e.ID = s.nextID
		e.ExpenseID = expenseID
		copied := *e
		stored.ApprovalChain = append(stored.ApprovalChain, &copied)
	}
	return nil
}

func (s *fakeExpenseStore) Update(ctx context.Context, expense *entity.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.expenses[expense.ID]
	if !ok {
		return fmt.Errorf("no expense %s", expense.ID)
	}
	// Mirror the real repository: Update never touches chain entries.
	chainBackup := stored.ApprovalChain
	*stored = *copyExpense(expense)
	stored.ApprovalChain = chainBackup
	return nil
}

func (s *fakeExpenseStore) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.expenses[id]
	if !ok {
		return nil, nil
	}
	return copyExpense(stored), nil
}

func (s *fakeExpenseStore) ApplyDecision(ctx context.Context, expenseID, approverID string, status entity.EntryStatus, comments string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.expenses[expenseID]
	if !ok {
		return false, nil
	}
	for _, e := range stored.ApprovalChain {
		if e.ApproverID == approverID && e.Status == entity.EntryPending {
			e.Status = status
			e.Comments = comments
			e.ActionAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeExpenseStore) UpdateWorkflowState(ctx context.Context, expenseID string, status entity.ExpenseStatus, currentApproverID, rejectionReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.expenses[expenseID]
	if !ok {
		return fmt.Errorf("no expense %s", expenseID)
	}
	stored.Status = status
	stored.CurrentApproverID = currentApproverID
	stored.RejectionReason = rejectionReason
	return nil
}

func (s *fakeExpenseStore) DeleteDraft(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.expenses[id]
	if !ok || stored.Status != entity.ExpenseDraft {
		return false, nil
	}
	delete(s.expenses, id)
	return true, nil
}

func (s *fakeExpenseStore) ListPendingForApprover(ctx context.Context, companyID, approverID string, limit, offset int) ([]*entity.Expense, int, error) {
	return nil, 0, nil
}

func (s *fakeExpenseStore) ListHistoryForApprover(ctx context.Context, companyID, approverID string, limit, offset int) ([]*entity.Expense, int, error) {
	return nil, 0, nil
}

func copyExpense(e *entity.Expense) *entity.Expense {
	copied := *e
	copied.ApprovalChain = make([]*entity.ApprovalEntry, 0, len(e.ApprovalChain))
	for _, entry := range e.ApprovalChain {
		c := *entry
		copied.ApprovalChain = append(copied.ApprovalChain, &c)
	}
	return &copied
}

type fakeRuleStore struct {
	rules []*entity.ApprovalRule
}

func (s *fakeRuleStore) ListActive(ctx context.Context, companyID string) ([]*entity.ApprovalRule, error) {
	return s.rules, nil
}

type fakeCompanyStore struct {
	companies map[string]*entity.Company
}

func (s *fakeCompanyStore) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	return s.companies[id], nil
}

type fakeStatsStore struct{}

func (fakeStatsStore) Overview(ctx context.Context, approverID string, start, end time.Time) (repository.StatsOverview, error) {
	return repository.StatsOverview{TotalApprovals: 3, ApprovedCount: 2, RejectedCount: 1}, nil
}

func (fakeStatsStore) MonthlyTrends(ctx context.Context, approverID string, start, end time.Time) ([]repository.MonthlyTrend, error) {
	return []repository.MonthlyTrend{{Month: "2025-08", Approved: 2, Rejected: 1}}, nil
}

type fakeUserStore struct {
	users map[string]*entity.User
}

func (s *fakeUserStore) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return s.users[id], nil
}

// fakeTxRunner tracks whether a transaction scope is open so stores can
// record which writes ran inside one.
type fakeTxRunner struct {
	mu    sync.Mutex
	depth int
}

func (r *fakeTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	r.depth++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.depth--
		r.mu.Unlock()
	}()
	return fn(ctx)
}

func (r *fakeTxRunner) isActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depth > 0
}

type fakeSink struct {
	mu    sync.Mutex
	sent  []*entity.Notification
	types []string
}

func (s *fakeSink) Emit(ctx context.Context, n *entity.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	s.types = append(s.types, n.Type)
}

func (s *fakeSink) byType(t string) []*entity.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Notification
	for _, n := range s.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type fakeConverter struct {
	rate float64
	err  error
}

func (c fakeConverter) Convert(ctx context.Context, amount float64, from, to string) (currency.Conversion, error) {
	if c.err != nil {
		return currency.Conversion{}, c.err
	}
	return currency.Conversion{Amount: amount, Rate: c.rate, ConvertedAmount: amount * c.rate}, nil
}

type fixture struct {
	controller *Controller
	store      *fakeExpenseStore
	ruleStore  *fakeRuleStore
	users      *fakeUserStore
	sink       *fakeSink
}

func newFixture(t *testing.T, company *entity.Company, activeRules []*entity.ApprovalRule, converter currency.Converter) *fixture {
	t.Helper()
	tx := &fakeTxRunner{}
	store := newFakeExpenseStore()
	store.tx = tx
	ruleStore := &fakeRuleStore{rules: activeRules}
	users := &fakeUserStore{users: map[string]*entity.User{
		"emp-1": {ID: "emp-1", CompanyID: company.ID, Role: entity.RoleEmployee},
	}}
	sink := &fakeSink{}
	controller := NewController(
		tx,
		store,
		ruleStore,
		&fakeCompanyStore{companies: map[string]*entity.Company{company.ID: company}},
		users,
		fakeStatsStore{},
		rules.NewEvaluator(zap.NewNop()),
		converter,
		sink,
		zap.NewNop(),
	)
	return &fixture{controller: controller, store: store, ruleStore: ruleStore, users: users, sink: sink}
}

func testCompany(limit float64, defaultApprover string) *entity.Company {
	return &entity.Company{
		ID:           "acme",
		Name:         "Acme Corp",
		BaseCurrency: "USD",
		Settings: entity.CompanySettings{
			AutoApprovalLimit: limit,
			DefaultApproverID: defaultApprover,
		},
	}
}

func testExpense(amount float64) *entity.Expense {
	return &entity.Expense{
		CompanyID:  "acme",
		EmployeeID: "emp-1",
		Title:      "Team dinner",
		Category:   "meals",
		Amount:     amount,
		Currency:   "USD",
	}
}

func TestCreateExpenseAutoApprovesUnderLimit(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})

	created, err := f.controller.CreateExpense(context.Background(), testExpense(100), true)
	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseApproved, created.Status)
	assert.Empty(t, created.ApprovalChain)
	assert.Empty(t, created.CurrentApproverID)
	assert.NotEmpty(t, created.ID)

	stored, err := f.store.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, entity.ExpenseApproved, stored.Status)
}

func TestCreateExpenseFallsBackToDefaultApprover(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})

	created, err := f.controller.CreateExpense(context.Background(), testExpense(1200), true)
	require.NoError(t, err)
	assert.Equal(t, entity.ExpensePending, created.Status)
	require.Len(t, created.ApprovalChain, 1)
	assert.Equal(t, "boss", created.ApprovalChain[0].ApproverID)
	assert.True(t, created.ApprovalChain[0].IsRequired)
	assert.Equal(t, "boss", created.CurrentApproverID)

	notified := f.sink.byType(entity.NotifyRequiresApproval)
	require.Len(t, notified, 1)
	assert.Equal(t, "boss", notified[0].UserID)
}

func TestCreateExpenseNoDefaultApprover(t *testing.T) {
	f := newFixture(t, testCompany(500, ""), nil, fakeConverter{rate: 1})

	_, err := f.controller.CreateExpense(context.Background(), testExpense(1200), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func TestCreateExpenseConverterFailure(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil,
		fakeConverter{err: fmt.Errorf("rate api unreachable")})

	_, err := f.controller.CreateExpense(context.Background(), testExpense(100), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrDependencyFailure)
	assert.Empty(t, f.store.expenses)
}

func TestCreateExpenseAppliesConversion(t *testing.T) {
	f := newFixture(t, testCompany(10000, "boss"), nil, fakeConverter{rate: 1.25})

	expense := testExpense(100)
	expense.Currency = "EUR"
	created, err := f.controller.CreateExpense(context.Background(), expense, true)
	require.NoError(t, err)
	assert.Equal(t, 125.0, created.ConvertedAmount)
	assert.Equal(t, 1.25, created.ExchangeRate)
	assert.Equal(t, "USD", created.BaseCurrency)
}

func TestCreateExpenseDraftSkipsRouting(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})

	created, err := f.controller.CreateExpense(context.Background(), testExpense(1200), false)
	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseDraft, created.Status)
	assert.Empty(t, created.ApprovalChain)
	assert.Empty(t, f.sink.byType(entity.NotifyRequiresApproval))
}

func TestCreateExpenseRoutesThroughRuleChain(t *testing.T) {
	rule := &entity.ApprovalRule{
		ID:       "rule-1",
		Name:     "big spend",
		RuleType: entity.RuleSequential,
		IsActive: true,
		Priority: 1,
		Conditions: entity.RuleConditions{
			AmountThreshold: 1000,
		},
		Approvers: []entity.RuleApprover{
			{ApproverID: "mgr", Order: 1, IsRequired: true},
			{ApproverID: "cfo", Order: 2, IsRequired: true},
		},
	}
	f := newFixture(t, testCompany(500, "boss"), []*entity.ApprovalRule{rule}, fakeConverter{rate: 1})

	created, err := f.controller.CreateExpense(context.Background(), testExpense(2000), true)
	require.NoError(t, err)
	assert.Equal(t, entity.ExpensePending, created.Status)
	require.Len(t, created.ApprovalChain, 2)
	assert.Equal(t, "rule-1", created.RuleID)
	assert.Equal(t, entity.RuleSequential, created.RuleType)
	assert.Equal(t, "mgr", created.CurrentApproverID)
}

func TestCreateExpenseMatchesDepartmentRules(t *testing.T) {
	rule := &entity.ApprovalRule{
		ID:       "rule-eng",
		Name:     "engineering spend",
		RuleType: entity.RuleSequential,
		IsActive: true,
		Priority: 1,
		Conditions: entity.RuleConditions{
			Departments: []string{"engineering"},
		},
		Approvers: []entity.RuleApprover{
			{ApproverID: "mgr", Order: 1, IsRequired: true},
		},
	}
	f := newFixture(t, testCompany(500, "boss"), []*entity.ApprovalRule{rule}, fakeConverter{rate: 1})
	f.users.users["emp-1"].Department = "engineering"

	created, err := f.controller.CreateExpense(context.Background(), testExpense(1200), true)
	require.NoError(t, err)
	assert.Equal(t, "rule-eng", created.RuleID)
	assert.Equal(t, "mgr", created.CurrentApproverID)

	// An employee outside the department falls back to the default approver.
	f.users.users["emp-1"].Department = "sales"
	other, err := f.controller.CreateExpense(context.Background(), testExpense(1200), true)
	require.NoError(t, err)
	assert.Empty(t, other.RuleID)
	assert.Equal(t, "boss", other.CurrentApproverID)
}

func TestCreateExpensePersistsChainInOneCommit(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})

	_, err := f.controller.CreateExpense(context.Background(), testExpense(1200), true)
	require.NoError(t, err)
	assert.True(t, f.store.createdInTx, "expense and chain must land in one transaction")
}

func TestSubmitDraftRoutes(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})

	draft, err := f.controller.CreateExpense(context.Background(), testExpense(1200), false)
	require.NoError(t, err)

	submitted, err := f.controller.SubmitDraft(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExpensePending, submitted.Status)
	require.Len(t, submitted.ApprovalChain, 1)

	stored, err := f.store.GetByID(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ExpensePending, stored.Status)
	assert.Len(t, stored.ApprovalChain, 1)
}

func TestSubmitNonDraftFails(t *testing.T) {
	f := newFixture(t, testCompany(5000, "boss"), nil, fakeConverter{rate: 1})

	created, err := f.controller.CreateExpense(context.Background(), testExpense(100), true)
	require.NoError(t, err)

	_, err = f.controller.SubmitDraft(context.Background(), created.ID)
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func seedPendingSequential(t *testing.T, f *fixture, approvers ...string) *entity.Expense {
	t.Helper()
	expense := testExpense(1200)
	expense.ID = "exp-1"
	expense.Status = entity.ExpensePending
	expense.RuleType = entity.RuleSequential
	for i, id := range approvers {
		expense.ApprovalChain = append(expense.ApprovalChain, &entity.ApprovalEntry{
			ApproverID: id,
			Order:      i + 1,
			IsRequired: true,
			Status:     entity.EntryPending,
		})
	}
	expense.CurrentApproverID = approvers[0]
	require.NoError(t, f.store.Create(context.Background(), expense))
	return expense
}

func TestHandleActionSequentialAdvance(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})
	seedPendingSequential(t, f, "mgr", "cfo")

	updated, err := f.controller.HandleAction(context.Background(), "exp-1", "mgr", chain.DecisionApprove, "ok")
	require.NoError(t, err)
	assert.Equal(t, entity.ExpensePending, updated.Status)
	assert.Equal(t, "cfo", updated.CurrentApproverID)

	// The next approver is notified, the owner gets no terminal outcome yet.
	notified := f.sink.byType(entity.NotifyRequiresApproval)
	require.Len(t, notified, 1)
	assert.Equal(t, "cfo", notified[0].UserID)
	assert.Empty(t, f.sink.byType(entity.NotifyExpenseApproved))
}

func TestHandleActionRejectIsTerminal(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})
	seedPendingSequential(t, f, "mgr", "cfo")

	updated, err := f.controller.HandleAction(context.Background(), "exp-1", "mgr", chain.DecisionReject, "no")
	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseRejected, updated.Status)
	assert.Equal(t, "no", updated.RejectionReason)

	rejections := f.sink.byType(entity.NotifyExpenseRejected)
	require.Len(t, rejections, 1)
	assert.Equal(t, "emp-1", rejections[0].UserID)

	// CFO can no longer act.
	_, err = f.controller.HandleAction(context.Background(), "exp-1", "cfo", chain.DecisionApprove, "")
	assert.ErrorIs(t, err, chain.ErrNotAuthorizedOrAlreadyActed)
}

func TestHandleActionUnknownExpense(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})

	_, err := f.controller.HandleAction(context.Background(), "missing", "mgr", chain.DecisionApprove, "")
	assert.ErrorIs(t, err, chain.ErrNotFound)
}

func TestHandleActionInvalidDecision(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})
	seedPendingSequential(t, f, "mgr")

	_, err := f.controller.HandleAction(context.Background(), "exp-1", "mgr", chain.Decision("maybe"), "")
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func TestConcurrentApplySingleWinner(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})
	seedPendingSequential(t, f, "mgr")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.controller.HandleAction(context.Background(), "exp-1", "mgr", chain.DecisionApprove, "")
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, chain.ErrNotAuthorizedOrAlreadyActed):
			lost++
		}
	}
	assert.Equal(t, 1, won, "exactly one call must win")
	assert.Equal(t, 1, lost, "the loser observes the authorization error")

	stored, err := f.store.GetByID(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseApproved, stored.Status)
	assert.Equal(t, entity.EntryApproved, stored.ApprovalChain[0].Status)
}

func TestBulkActionMixedResults(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})
	seedPendingSequential(t, f, "mgr")

	result, err := f.controller.HandleBulkAction(context.Background(),
		[]string{"exp-1", "missing"}, "mgr", chain.DecisionApprove, "")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "exp-1", result.Results[0].ExpenseID)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "missing", result.Errors[0].ExpenseID)
	assert.Equal(t, "expense not found", result.Errors[0].Error)
}

func TestBulkActionValidation(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})

	_, err := f.controller.HandleBulkAction(context.Background(), nil, "mgr", chain.DecisionApprove, "")
	assert.ErrorIs(t, err, chain.ErrValidation)

	_, err = f.controller.HandleBulkAction(context.Background(), []string{"exp-1"}, "mgr", chain.Decision("maybe"), "")
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func TestCancelOwnerOnly(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})
	seedPendingSequential(t, f, "mgr")

	_, err := f.controller.Cancel(context.Background(), "exp-1", "someone-else")
	assert.ErrorIs(t, err, chain.ErrNotAuthorizedOrAlreadyActed)

	cancelled, err := f.controller.Cancel(context.Background(), "exp-1", "emp-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseCancelled, cancelled.Status)
	assert.Empty(t, cancelled.CurrentApproverID)
}

func TestCancelTerminalExpense(t *testing.T) {
	f := newFixture(t, testCompany(5000, "boss"), nil, fakeConverter{rate: 1})

	created, err := f.controller.CreateExpense(context.Background(), testExpense(100), true)
	require.NoError(t, err)
	require.Equal(t, entity.ExpenseApproved, created.Status)

	_, err = f.controller.Cancel(context.Background(), created.ID, "emp-1")
	assert.ErrorIs(t, err, chain.ErrTerminalState)
}

func TestComputeApprovalStats(t *testing.T) {
	f := newFixture(t, testCompany(500, "boss"), nil, fakeConverter{rate: 1})

	stats, err := f.controller.ComputeApprovalStats(context.Background(), "mgr", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Overview.TotalApprovals)
	require.Len(t, stats.MonthlyTrends, 1)
	assert.Equal(t, "2025-08", stats.MonthlyTrends[0].Month)
}
