package types

import "time"

// Roles a user can hold.
const (
	RoleAdmin    = "ADMIN"
	RoleEmployee = "EMPLOYEE"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleEmployee
}

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID string `json:"id" db:"id"`

	// Email is the user's email address. It is unique across users
	// and used as the login name.
	Email string `json:"email" db:"email"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Role indicates the user's authorization level
	// within the system ("ADMIN" or "EMPLOYEE").
	Role string `json:"role" db:"role"`

	// Position is the user's job title, if any.
	Position *string `json:"position" db:"position"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	// A successful login also advances it.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// UserPatch holds the optional fields of a user update.
// Nil fields are left unchanged.
type UserPatch struct {
	Name     *string
	Position *string
	Role     *string
	Password *string
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.Position == nil && p.Role == nil && p.Password == nil
}
