// Package authz maps raw role strings to normalized roles and to the
// access and session-timeout decisions derived from them.
//
// Every function here is pure and total: any input string, including the
// empty string, yields a decision. Callers keep only the raw role string
// and re-derive the Role whenever they need it.
package authz

import "strings"

// Role is the normalized role class.
type Role int

const (
	// RoleOther is any role string that is not recognized.
	RoleOther Role = iota
	RoleSuperuser
	RoleAdmin
	RoleGuest
)

// String returns the canonical role string. Parse(r.String()) == r.
func (r Role) String() string {
	switch r {
	case RoleSuperuser:
		return "superuser"
	case RoleAdmin:
		return "admin"
	case RoleGuest:
		return "guest"
	default:
		return "other"
	}
}

// Roles lists every role, most privileged first.
var Roles = []Role{RoleSuperuser, RoleAdmin, RoleGuest, RoleOther}

var synonyms = map[string]Role{
	"superuser":     RoleSuperuser,
	"superadmin":    RoleSuperuser,
	"root":          RoleSuperuser,
	"admin":         RoleAdmin,
	"administrator": RoleAdmin,
	"tenantadmin":   RoleAdmin,
	"manager":       RoleAdmin,
	"guest":         RoleGuest,
	"viewer":        RoleGuest,
	"readonly":      RoleGuest,
}

// canonicalKey lower-cases raw and drops separators so that "Super_User",
// "super-user" and "super user" compare equal.
func canonicalKey(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch r {
		case '_', '-', ' ', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Parse maps a raw role string to its Role. Unrecognized input is RoleOther.
func Parse(raw string) Role {
	if r, ok := synonyms[canonicalKey(raw)]; ok {
		return r
	}
	return RoleOther
}

// IsSuperuser reports whether raw parses to RoleSuperuser.
func IsSuperuser(raw string) bool { return Parse(raw) == RoleSuperuser }
