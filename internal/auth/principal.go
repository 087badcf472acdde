package auth

const (
	// RoleAdmin is the elevated role allowed to change status and delete records.
	RoleAdmin = "admin"
	// RoleStaff is the regular role given to self-registered users.
	RoleStaff = "staff"
)

// Principal is an authenticated caller as known to the user directory.
type Principal struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Elevated reports whether the principal holds the admin role.
func (p Principal) Elevated() bool {
	return p.Role == RoleAdmin
}

// ValidRole reports whether role is one the system knows about.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleStaff
}
