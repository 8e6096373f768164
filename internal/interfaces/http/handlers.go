package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/expenseflow/expenseflow/internal/domain/entity"
	chain "github.com/expenseflow/expenseflow/internal/domain/workflow"
	"github.com/expenseflow/expenseflow/internal/report"
	"github.com/expenseflow/expenseflow/internal/repository"
	"github.com/expenseflow/expenseflow/internal/workflow"
)

// Handlers contains all HTTP request handlers.
type Handlers struct {
	controller    *workflow.Controller
	exporter      *report.ExcelExporter
	tx            *repository.TxRunner
	companies     *repository.CompanyRepository
	users         *repository.UserRepository
	rules         *repository.RuleRepository
	notifications *repository.NotificationRepository
	logger        *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	controller *workflow.Controller,
	exporter *report.ExcelExporter,
	tx *repository.TxRunner,
	companies *repository.CompanyRepository,
	users *repository.UserRepository,
	rules *repository.RuleRepository,
	notifications *repository.NotificationRepository,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		controller:    controller,
		exporter:      exporter,
		tx:            tx,
		companies:     companies,
		users:         users,
		rules:         rules,
		notifications: notifications,
		logger:        logger,
	}
}

// Response is the standard JSON envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PagedExpenses is a page of expenses with paging metadata.
type PagedExpenses struct {
	Expenses []*entity.Expense `json:"expenses"`
	Count    int               `json:"count"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Pages    int               `json:"pages"`
}

type pageRequest struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

func (r *pageRequest) normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.Limit <= 0 || r.Limit > 100 {
		r.Limit = 20
	}
}

func (r pageRequest) offset() int {
	return (r.Page - 1) * r.Limit
}

type actionRequest struct {
	Action   string `json:"action" binding:"required"`
	Comments string `json:"comments"`
}

type bulkActionRequest struct {
	ExpenseIDs []string `json:"expense_ids" binding:"required"`
	Action     string   `json:"action" binding:"required"`
	Comments   string   `json:"comments"`
}

type createExpenseRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	Category    string    `json:"category" binding:"required"`
	Amount      float64   `json:"amount" binding:"required,gt=0"`
	Currency    string    `json:"currency" binding:"required"`
	ExpenseDate time.Time `json:"expense_date"`
	Tags        []string  `json:"tags"`
	Submit      bool      `json:"submit"`
}

type listFunc func(ctx context.Context, companyID, approverID string, limit, offset int) ([]*entity.Expense, int, error)

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// ListPending handles GET /api/v1/approvals/pending.
func (h *Handlers) ListPending(c *gin.Context) {
	h.listApprovals(c, h.controller.ListPending)
}

// ListHistory handles GET /api/v1/approvals/history.
func (h *Handlers) ListHistory(c *gin.Context) {
	h.listApprovals(c, h.controller.ListHistory)
}

func (h *Handlers) listApprovals(c *gin.Context, list listFunc) {
	var req pageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid query parameters")
		return
	}
	req.normalize()

	user := currentUser(c)
	expenses, total, err := list(c.Request.Context(), user.CompanyID, user.ID, req.Limit, req.offset())
	if err != nil {
		h.error(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: PagedExpenses{
			Expenses: expenses,
			Count:    len(expenses),
			Total:    total,
			Page:     req.Page,
			Pages:    pages(total, req.Limit),
		},
	})
}

// HandleAction handles PUT /api/v1/approvals/:expenseId.
func (h *Handlers) HandleAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "action is required")
		return
	}

	user := currentUser(c)
	expense, err := h.controller.HandleAction(c.Request.Context(),
		c.Param("expenseId"), user.ID, chain.Decision(req.Action), req.Comments)
	if err != nil {
		h.error(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// HandleBulkAction handles PUT /api/v1/approvals/bulk. Item failures are
// reported in the body; the request itself succeeds.
func (h *Handlers) HandleBulkAction(c *gin.Context) {
	var req bulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "expense_ids and action are required")
		return
	}

	user := currentUser(c)
	result, err := h.controller.HandleBulkAction(c.Request.Context(),
		req.ExpenseIDs, user.ID, chain.Decision(req.Action), req.Comments)
	if err != nil {
		h.error(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// GetStats handles GET /api/v1/approvals/stats.
func (h *Handlers) GetStats(c *gin.Context) {
	start, end, err := statsRange(c)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "dates must be YYYY-MM-DD")
		return
	}

	user := currentUser(c)
	stats, err := h.controller.ComputeApprovalStats(c.Request.Context(), user.ID, start, end)
	if err != nil {
		h.error(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// ExportStats handles GET /api/v1/approvals/stats/export.
func (h *Handlers) ExportStats(c *gin.Context) {
	start, end, err := statsRange(c)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "dates must be YYYY-MM-DD")
		return
	}

	user := currentUser(c)
	stats, err := h.controller.ComputeApprovalStats(c.Request.Context(), user.ID, start, end)
	if err != nil {
		h.error(c, err)
		return
	}

	workbook, err := h.exporter.Export(user.ID, stats, time.Now())
	if err != nil {
		h.error(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="approval-stats.xlsx"`)
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", workbook)
}

// CreateExpense handles POST /api/v1/expenses.
func (h *Handlers) CreateExpense(c *gin.Context) {
	var req createExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "title, category, currency and a positive amount are required")
		return
	}
	if req.ExpenseDate.IsZero() {
		req.ExpenseDate = time.Now()
	}

	user := currentUser(c)
	expense := &entity.Expense{
		CompanyID:   user.CompanyID,
		EmployeeID:  user.ID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ExpenseDate: req.ExpenseDate,
		Tags:        req.Tags,
	}

	created, err := h.controller.CreateExpense(c.Request.Context(), expense, req.Submit)
	if err != nil {
		h.error(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// GetExpense handles GET /api/v1/expenses/:id.
func (h *Handlers) GetExpense(c *gin.Context) {
	expense, err := h.controller.GetExpense(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.error(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// SubmitExpense handles POST /api/v1/expenses/:id/submit.
func (h *Handlers) SubmitExpense(c *gin.Context) {
	user := currentUser(c)
	expense, err := h.controller.GetExpense(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		h.error(c, err)
		return
	}
	if expense.EmployeeID != user.ID {
		h.fail(c, http.StatusForbidden, "only the owner can submit an expense")
		return
	}

	submitted, err := h.controller.SubmitDraft(c.Request.Context(), expense.ID)
	if err != nil {
		h.error(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: submitted})
}

// CancelExpense handles POST /api/v1/expenses/:id/cancel.
func (h *Handlers) CancelExpense(c *gin.Context) {
	expense, err := h.controller.Cancel(c.Request.Context(), c.Param("id"), currentUser(c).ID)
	if err != nil {
		h.error(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// DeleteExpense handles DELETE /api/v1/expenses/:id. Drafts only.
func (h *Handlers) DeleteExpense(c *gin.Context) {
	if err := h.controller.DeleteDraft(c.Request.Context(), c.Param("id"), currentUser(c).ID); err != nil {
		h.error(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"deleted": true}})
}

// error maps a controller error onto the HTTP taxonomy.
func (h *Handlers) error(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chain.ErrNotFound):
		h.fail(c, http.StatusNotFound, "not found")
	case errors.Is(err, chain.ErrNotAuthorizedOrAlreadyActed):
		h.fail(c, http.StatusForbidden, "not authorized to act on this expense")
	case errors.Is(err, chain.ErrValidation), errors.Is(err, chain.ErrTerminalState):
		h.fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, chain.ErrDependencyFailure):
		h.logger.Error("Upstream dependency failed", zap.Error(err))
		h.fail(c, http.StatusBadGateway, "upstream dependency failed")
	default:
		h.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		h.fail(c, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handlers) fail(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Success: false, Error: message})
}

func statsRange(c *gin.Context) (time.Time, time.Time, error) {
	var start, end time.Time
	if s := c.Query("startDate"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			return start, end, err
		}
		start = parsed
	}
	if s := c.Query("endDate"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			return start, end, err
		}
		// Inclusive end date.
		end = parsed.AddDate(0, 0, 1)
	}
	return start, end, nil
}

func pages(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
