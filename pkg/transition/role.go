package transition

import (
	"fmt"
	"strings"
)

// Role is the function of a partition replica as decided by replication.
type Role int

const (
	RoleInactive Role = iota
	RoleFollower
	RoleCandidate
	RoleLeader
)

// String returns the lowercase role name.
func (r Role) String() string {
	switch r {
	case RoleInactive:
		return "inactive"
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// ParseRole parses a role name, ignoring case and surrounding space.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inactive":
		return RoleInactive, nil
	case "follower":
		return RoleFollower, nil
	case "candidate":
		return RoleCandidate, nil
	case "leader":
		return RoleLeader, nil
	default:
		return RoleInactive, fmt.Errorf("unknown role %q", s)
	}
}

// MarshalText renders the role as its name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a role name.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
