package domain

import (
	"slices"
	"time"
)

// Admin roles.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleSupport    = "support"
)

// Roles lists every admin role.
var Roles = []string{RoleSuperAdmin, RoleAdmin, RoleSupport}

func ValidRole(role string) bool {
	return slices.Contains(Roles, role)
}

// Admin is a staff account. Admins may hold one session per device.
type Admin struct {
	ID                string
	Username          string
	Email             string
	FirstName         string
	LastName          string
	PasswordHash      string
	Role              string
	IsActive          bool
	DeactivatedAt     *time.Time
	Lockout           LockoutState
	LastLoginAt       *time.Time
	LastLoginIP       string
	PasswordChangedAt *time.Time
	CreatedBy         *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CanManageAdmins reports whether the admin may create or change other admins.
func (a *Admin) CanManageAdmins() bool {
	return a.Role == RoleSuperAdmin
}

// CanManageStudents reports whether the admin may change student accounts.
func (a *Admin) CanManageStudents() bool {
	return a.Role == RoleSuperAdmin || a.Role == RoleAdmin
}

// AdminSession is a Session owned by an admin.
type AdminSession struct {
	AdminID string
	Session
}
