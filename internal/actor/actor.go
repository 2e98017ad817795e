// Package actor describes who is performing an operation.
package actor

// Role is the acting party's role.
type Role string

const (
	RoleFaculty Role = "faculty"
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleFaculty, RoleStudent, RoleAdmin:
		return true
	default:
		return false
	}
}

// Actor is an authenticated identity with its department scope. An admin with
// an empty department is not scoped.
type Actor struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	Department string `json:"department,omitempty"`
}

// CoversDepartment reports whether the actor may act inside department.
func (a Actor) CoversDepartment(department string) bool {
	if a.Role == RoleAdmin && a.Department == "" {
		return true
	}
	return a.Department != "" && a.Department == department
}
