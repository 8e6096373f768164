package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/domain/entity"
	"github.com/expenseflow/expenseflow/pkg/utils"
)

// Directory and configuration handlers: company signup, users, approval
// rules and the caller's notification feed.

type signupRequest struct {
	CompanyName       string  `json:"company_name" binding:"required"`
	BaseCurrency      string  `json:"base_currency" binding:"required"`
	AutoApprovalLimit float64 `json:"auto_approval_limit"`
	AdminName         string  `json:"admin_name" binding:"required"`
	AdminEmail        string  `json:"admin_email" binding:"required"`
}

type createUserRequest struct {
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email" binding:"required"`
	Role       string `json:"role" binding:"required"`
	Department string `json:"department"`
}

type createRuleRequest struct {
	Name             string                   `json:"name" binding:"required"`
	Description      string                   `json:"description"`
	RuleType         entity.RuleType          `json:"rule_type" binding:"required"`
	Priority         int                      `json:"priority"`
	Conditions       entity.RuleConditions    `json:"conditions"`
	Approvers        []ruleApproverRequest    `json:"approvers"`
	PercentageRules  entity.PercentagePolicy  `json:"percentage_rules"`
	ConditionalRules []entity.ConditionalRule `json:"conditional_rules"`
	EscalationRules  entity.EscalationPolicy  `json:"escalation_rules"`
}

// ruleApproverRequest keeps is_required a pointer so an omitted field
// defaults to required. An all-optional chain would let a single decision
// finalize the expense.
type ruleApproverRequest struct {
	ApproverID  string `json:"approver_id" binding:"required"`
	Role        string `json:"role"`
	Order       int    `json:"order"`
	IsRequired  *bool  `json:"is_required"`
	CanDelegate bool   `json:"can_delegate"`
}

func (r ruleApproverRequest) toEntity() entity.RuleApprover {
	required := true
	if r.IsRequired != nil {
		required = *r.IsRequired
	}
	return entity.RuleApprover{
		ApproverID:  r.ApproverID,
		Role:        r.Role,
		Order:       r.Order,
		IsRequired:  required,
		CanDelegate: r.CanDelegate,
	}
}

// Signup handles POST /api/v1/auth/signup: it bootstraps a company together
// with its admin user, who also becomes the default approver for unrouted
// expenses.
func (h *Handlers) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "company_name, base_currency, admin_name and admin_email are required")
		return
	}
	if err := utils.ValidateCurrencyCode(req.BaseCurrency); err != nil {
		h.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := utils.ValidateEmail(req.AdminEmail); err != nil {
		h.fail(c, http.StatusBadRequest, err.Error())
		return
	}

	admin := &entity.User{
		ID:    uuid.NewString(),
		Name:  utils.SanitizeString(req.AdminName),
		Email: req.AdminEmail,
		Role:  entity.RoleAdmin,
	}
	company := &entity.Company{
		ID:           uuid.NewString(),
		Name:         utils.SanitizeString(req.CompanyName),
		BaseCurrency: req.BaseCurrency,
		Settings: entity.CompanySettings{
			AutoApprovalLimit: req.AutoApprovalLimit,
			DefaultApproverID: admin.ID,
		},
	}
	admin.CompanyID = company.ID

	err := h.tx.RunInTx(c.Request.Context(), func(ctx context.Context) error {
		if err := h.companies.Create(ctx, company); err != nil {
			return err
		}
		return h.users.Create(ctx, admin)
	})
	if err != nil {
		h.error(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    gin.H{"company": company, "admin": admin},
	})
}

// CreateUser handles POST /api/v1/users. Admin only; the new user joins the
// caller's company.
func (h *Handlers) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "name, email and role are required")
		return
	}
	if err := utils.ValidateEmail(req.Email); err != nil {
		h.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Role {
	case entity.RoleEmployee, entity.RoleManager, entity.RoleFinance, entity.RoleDirector, entity.RoleAdmin:
	default:
		h.fail(c, http.StatusBadRequest, "unknown role: "+req.Role)
		return
	}

	user := &entity.User{
		ID:         uuid.NewString(),
		CompanyID:  currentUser(c).CompanyID,
		Name:       utils.SanitizeString(req.Name),
		Email:      req.Email,
		Role:       req.Role,
		Department: req.Department,
	}
	if err := h.users.Create(c.Request.Context(), user); err != nil {
		h.error(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: user})
}

// CreateRule handles POST /api/v1/rules. Admin only.
func (h *Handlers) CreateRule(c *gin.Context) {
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "name and rule_type are required")
		return
	}
	if !req.RuleType.IsValid() {
		h.fail(c, http.StatusBadRequest, "rule_type must be sequential, percentage, conditional or hybrid")
		return
	}
	if len(req.Approvers) == 0 {
		h.fail(c, http.StatusBadRequest, "at least one approver is required")
		return
	}
	if req.RuleType == entity.RulePercentage || req.RuleType == entity.RuleHybrid {
		if req.PercentageRules.MinPercentage <= 0 || req.PercentageRules.MinPercentage > 100 {
			h.fail(c, http.StatusBadRequest, "min_percentage must be in (0, 100]")
			return
		}
	}

	approvers := make([]entity.RuleApprover, 0, len(req.Approvers))
	for _, a := range req.Approvers {
		approvers = append(approvers, a.toEntity())
	}

	user := currentUser(c)
	rule := &entity.ApprovalRule{
		ID:               uuid.NewString(),
		CompanyID:        user.CompanyID,
		Name:             utils.SanitizeString(req.Name),
		Description:      req.Description,
		RuleType:         req.RuleType,
		IsActive:         true,
		Priority:         req.Priority,
		Conditions:       req.Conditions,
		Approvers:        approvers,
		PercentageRules:  req.PercentageRules,
		ConditionalRules: req.ConditionalRules,
		EscalationRules:  req.EscalationRules,
		CreatedBy:        user.ID,
	}
	if err := h.rules.Create(c.Request.Context(), rule); err != nil {
		h.error(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: rule})
}

// ListRules handles GET /api/v1/rules: the caller's company's active rules
// in evaluation order.
func (h *Handlers) ListRules(c *gin.Context) {
	rules, err := h.rules.ListActive(c.Request.Context(), currentUser(c).CompanyID)
	if err != nil {
		h.error(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rules})
}

// GetRule handles GET /api/v1/rules/:id.
func (h *Handlers) GetRule(c *gin.Context) {
	rule, err := h.rules.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.error(c, err)
		return
	}
	if rule == nil || rule.CompanyID != currentUser(c).CompanyID {
		h.fail(c, http.StatusNotFound, "not found")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rule})
}

// ListNotifications handles GET /api/v1/notifications.
func (h *Handlers) ListNotifications(c *gin.Context) {
	var req pageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid query parameters")
		return
	}
	req.normalize()

	notifications, err := h.notifications.ListForUser(
		c.Request.Context(), currentUser(c).ID, req.Limit, req.offset())
	if err != nil {
		h.error(c, err)
		return
	}
	if notifications == nil {
		notifications = []*entity.Notification{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: notifications})
}

// MarkNotificationRead handles PUT /api/v1/notifications/:id/read.
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "notification id must be numeric")
		return
	}

	ok, err := h.notifications.MarkRead(c.Request.Context(), id, currentUser(c).ID)
	if err != nil {
		h.error(c, err)
		return
	}
	if !ok {
		h.fail(c, http.StatusNotFound, "not found")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"read": true}})
}
