package core

import "fmt"

// Role is the closed set of account roles.
type Role uint8

const (
	RoleMember Role = iota + 1
	RoleManager
	RoleAdmin
)

// String returns the wire name of r.
func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleManager:
		return "manager"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole maps the wire name back to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "member":
		return RoleMember, nil
	case "manager":
		return RoleManager, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// Satisfies reports whether an account holding r may act where required is needed.
func (r Role) Satisfies(required Role) bool {
	switch required {
	case RoleMember:
		return r == RoleMember || r == RoleManager || r == RoleAdmin
	case RoleManager:
		return r == RoleManager || r == RoleAdmin
	case RoleAdmin:
		return r == RoleAdmin
	default:
		return false
	}
}

// MarshalText encodes r by name and rejects unknown roles.
func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleMember, RoleManager, RoleAdmin:
		return []byte(r.String()), nil
	default:
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
}

// UnmarshalText decodes a role name.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
