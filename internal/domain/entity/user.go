package entity

import "time"

// User roles. Approval routes require manager-or-admin capability.
const (
	RoleEmployee = "employee"
	RoleManager  = "manager"
	RoleFinance  = "finance"
	RoleDirector = "director"
	RoleAdmin    = "admin"
)

// User is an approver or employee identity from the user directory.
type User struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"company_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CanApprove reports whether the user holds approval capability.
func (u *User) CanApprove() bool {
	switch u.Role {
	case RoleManager, RoleFinance, RoleDirector, RoleAdmin:
		return true
	}
	return false
}
