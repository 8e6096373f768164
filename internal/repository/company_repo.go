package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/expenseflow/expenseflow/internal/domain/entity"
	"go.uber.org/zap"
)

// CompanyRepository reads company settings consumed by the workflow.
type CompanyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCompanyRepository creates a new company repository.
func NewCompanyRepository(db *sql.DB, logger *zap.Logger) *CompanyRepository {
	return &CompanyRepository{db: db, logger: logger}
}

// Create inserts a company.
func (r *CompanyRepository) Create(ctx context.Context, company *entity.Company) error {
	query := `
		INSERT INTO companies (id, name, base_currency, auto_approval_limit, default_approver_id)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := executorFrom(ctx, r.db).ExecContext(ctx, query,
		company.ID, company.Name, company.BaseCurrency,
		company.Settings.AutoApprovalLimit, company.Settings.DefaultApproverID,
	); err != nil {
		r.logger.Error("Failed to create company", zap.String("id", company.ID), zap.Error(err))
		return fmt.Errorf("create company: %w", err)
	}
	return nil
}

// GetByID retrieves a company, or nil when absent.
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	query := `
		SELECT id, name, base_currency, auto_approval_limit, default_approver_id, created_at
		FROM companies WHERE id = ?
	`
	var c entity.Company
	err := executorFrom(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.BaseCurrency,
		&c.Settings.AutoApprovalLimit, &c.Settings.DefaultApproverID, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get company", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("get company: %w", err)
	}
	return &c, nil
}
