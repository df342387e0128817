package auth

// Package auth contains domain-level types for authentication, roles, and view gating.
// It is pure and free of framework/adapter concerns.

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// Role is an application authorization role. The numeric values are part of the
// access credential's role claim and must not be renumbered.
type Role int

const (
	RoleStudent Role = 0
	RoleTutor   Role = 1
	RoleAdmin   Role = 2
)

// AllRoles lists every known role in ascending order.
var AllRoles = []Role{RoleStudent, RoleTutor, RoleAdmin}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r >= RoleStudent && r <= RoleAdmin
}

func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleTutor:
		return "tutor"
	case RoleAdmin:
		return "admin"
	default:
		return "role(" + strconv.Itoa(int(r)) + ")"
	}
}

// ParseRole accepts either the numeric form ("1") or the name ("tutor").
func ParseRole(s string) (Role, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.Atoi(s); err == nil {
		r := Role(n)
		return r, r.Valid()
	}
	for _, r := range AllRoles {
		if r.String() == s {
			return r, true
		}
	}
	return 0, false
}

// RoleSet is a sorted, de-duplicated set of roles.
// The zero value is an empty set.
type RoleSet []Role

// NewRoleSet builds a RoleSet from roles, dropping duplicates.
func NewRoleSet(roles ...Role) RoleSet {
	out := make(RoleSet, 0, len(roles))
	for _, r := range roles {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return out
}

// Contains reports whether r is in the set.
func (s RoleSet) Contains(r Role) bool {
	return slices.Contains(s, r)
}

// Len returns the number of roles in the set.
func (s RoleSet) Len() int { return len(s) }

// Only returns the sole member when the set has exactly one role.
func (s RoleSet) Only() (Role, bool) {
	if len(s) != 1 {
		return 0, false
	}
	return s[0], true
}

// Intersect returns the roles present in both s and roles.
func (s RoleSet) Intersect(roles []Role) RoleSet {
	out := RoleSet{}
	for _, r := range NewRoleSet(roles...) {
		if s.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}

// Identity is the authenticated principal. It is built from the decoded access
// credential and never persisted.
type Identity struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email"`
	Roles       RoleSet `json:"roles"`
}

// HasRole reports whether the identity is authorized for r.
func (i *Identity) HasRole(r Role) bool {
	return i != nil && i.Roles.Contains(r)
}

// Credentials holds the bearer pair for the current session.
// AccessToken lives only in memory; RefreshToken is persisted.
type Credentials struct {
	AccessToken       string
	AccessTokenExpiry time.Time
	RefreshToken      string
}

// IsExpired reports whether the access token is missing or past its expiry at now.
// An expired access token does not mean the session is gone: refresh may still succeed.
func (c Credentials) IsExpired(now time.Time) bool {
	if c.AccessToken == "" {
		return true
	}
	return !c.AccessTokenExpiry.IsZero() && !now.Before(c.AccessTokenExpiry)
}

// Claims is the decoded payload of an access credential.
type Claims struct {
	Subject     string
	Email       string
	DisplayName string
	Roles       RoleSet
	ExpiresAt   time.Time
}

// Identity builds an Identity from claims.
func (c Claims) Identity() *Identity {
	return &Identity{
		ID:          c.Subject,
		DisplayName: c.DisplayName,
		Email:       c.Email,
		Roles:       NewRoleSet(c.Roles...),
	}
}
