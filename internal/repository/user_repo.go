package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/expenseflow/expenseflow/internal/domain/entity"
	"go.uber.org/zap"
)

// UserRepository reads approver identities from the user directory.
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// Create inserts a user.
func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	query := `
		INSERT INTO users (id, company_id, name, email, role, department)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := executorFrom(ctx, r.db).ExecContext(ctx, query,
		user.ID, user.CompanyID, user.Name, user.Email, user.Role, user.Department,
	); err != nil {
		r.logger.Error("Failed to create user", zap.String("id", user.ID), zap.Error(err))
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user, or nil when absent.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	query := `
		SELECT id, company_id, name, email, role, department, created_at
		FROM users WHERE id = ?
	`
	var u entity.User
	err := executorFrom(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.CompanyID, &u.Name, &u.Email, &u.Role, &u.Department, &u.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
