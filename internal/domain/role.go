package domain

import (
	"encoding/json"
	"fmt"
)

// Role is a user's permission level. Levels are strictly ordered; no two
// roles ever compare equal.
type Role int

const (
	RoleMember  Role = 1 // default role for every registration after the first
	RoleAdmin   Role = 2 // moderation rights over members
	RoleFounder Role = 3 // first registered identity, assigned once at bootstrap
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleAdmin:
		return "admin"
	case RoleFounder:
		return "founder"
	default:
		return "unknown"
	}
}

// ParseRole converts a wire string to a Role. Unknown strings map to an
// invalid zero role; callers must check Valid().
func ParseRole(s string) Role {
	switch s {
	case "member":
		return RoleMember
	case "admin":
		return RoleAdmin
	case "founder":
		return RoleFounder
	default:
		return Role(0)
	}
}

func (r Role) Valid() bool {
	return r >= RoleMember && r <= RoleFounder
}

// Roles travel as strings on the wire.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed := ParseRole(s)
	if !parsed.Valid() {
		return fmt.Errorf("unknown role %q", s)
	}
	*r = parsed
	return nil
}
