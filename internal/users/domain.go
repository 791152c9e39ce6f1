package users

import (
	"errors"
	"time"
)

// ErrUserNotFound indicates the user does not exist or is not a member of
// the requested tenant.
var ErrUserNotFound = errors.New("users: user not found")

// User is a user account as seen from one tenant.
type User struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	Nicename     string    `json:"nicename"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	RegisteredAt time.Time `json:"registered_at"`
	TenantID     int64     `json:"tenant_id"`
	// Roles lists the legacy capability keys in storage order.
	Roles []string `json:"roles"`
	// RolesMalformed is set when the stored capability blob could not be
	// decoded; Roles is then empty.
	RolesMalformed bool `json:"roles_malformed,omitempty"`
	Level          *int `json:"level,omitempty"`
}

// PrimaryRole returns the last role in storage order.
func (u User) PrimaryRole() (string, bool) {
	if len(u.Roles) == 0 {
		return "", false
	}
	return u.Roles[len(u.Roles)-1], true
}

// PageRequest addresses one page of tenant members ordered by id.
type PageRequest struct {
	TenantID int64
	PageSize int
	Offset   int
}

// AttributeRow is one raw legacy attribute value.
type AttributeRow struct {
	UserID int64
	Value  string
}
