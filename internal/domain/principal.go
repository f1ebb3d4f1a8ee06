package domain

import "fmt"

// Role is the authorization role of an authenticated caller.
type Role string

const (
	RoleOwner           Role = "Owner"
	RoleStationOperator Role = "StationOperator"
	RoleBackoffice      Role = "Backoffice"
)

// ParseRole accepts the canonical role names.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleOwner, RoleStationOperator, RoleBackoffice:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrUnauthorized, s)
}

// Principal is the resolved caller identity.
type Principal struct {
	ID   string
	Role Role
}

// IsStaff reports whether the principal manages stations rather than owning vehicles.
func (p Principal) IsStaff() bool {
	return p.Role == RoleStationOperator || p.Role == RoleBackoffice
}

// Require returns ErrForbidden unless the principal holds one of roles.
func (p Principal) Require(roles ...Role) error {
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s not allowed", ErrForbidden, p.Role)
}
