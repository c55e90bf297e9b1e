package enums

import "fmt"

// UserRole scopes what a caller may do against the quote API.
type UserRole string

const (
	RoleSalesAgent UserRole = "sales_agent"
	RoleValidator  UserRole = "validator"
	RoleAdmin      UserRole = "admin"
	RoleService    UserRole = "service"
)

var validUserRoles = []UserRole{
	RoleSalesAgent,
	RoleValidator,
	RoleAdmin,
	RoleService,
}

func (r UserRole) String() string {
	return string(r)
}

// IsValid reports whether the role is one of the canonical values.
func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanValidate reports whether the role may decide manual validation requests.
func (r UserRole) CanValidate() bool {
	return r == RoleValidator || r == RoleAdmin
}

// ParseUserRole converts raw input into UserRole.
func ParseUserRole(value string) (UserRole, error) {
	for _, candidate := range validUserRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}
