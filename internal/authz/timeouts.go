package authz

import "time"

// TimeoutPolicy is the pair of session limits for a role.
type TimeoutPolicy struct {
	// Idle is the longest allowed gap since the last interaction.
	Idle time.Duration `json:"idle" yaml:"idle"`
	// Absolute is the longest allowed session age.
	Absolute time.Duration `json:"absolute" yaml:"absolute"`
}

// TimeoutTable assigns a TimeoutPolicy to each recognized role.
type TimeoutTable map[Role]TimeoutPolicy

// DefaultTimeouts is the built-in table. More privileged roles get
// shorter sessions.
var DefaultTimeouts = TimeoutTable{
	RoleSuperuser: {Idle: 15 * time.Minute, Absolute: 4 * time.Hour},
	RoleAdmin:     {Idle: 30 * time.Minute, Absolute: 8 * time.Hour},
	RoleGuest:     {Idle: 60 * time.Minute, Absolute: 12 * time.Hour},
}

// Restrictive returns the shortest idle and the shortest absolute limit
// found in the table, independently. An empty table falls back to
// DefaultTimeouts.
func (t TimeoutTable) Restrictive() TimeoutPolicy {
	src := t
	if len(src) == 0 {
		src = DefaultTimeouts
	}

	var out TimeoutPolicy
	for _, p := range src {
		if p.Idle > 0 && (out.Idle == 0 || p.Idle < out.Idle) {
			out.Idle = p.Idle
		}
		if p.Absolute > 0 && (out.Absolute == 0 || p.Absolute < out.Absolute) {
			out.Absolute = p.Absolute
		}
	}
	return out
}

// For returns the limits for raw. Roles without an entry, including
// RoleOther, get Restrictive.
func (t TimeoutTable) For(raw string) TimeoutPolicy {
	role := Parse(raw)
	if role != RoleOther {
		if p, ok := t[role]; ok {
			return p
		}
	}
	return t.Restrictive()
}

// Merge returns a copy of t with the non-zero fields of overrides applied.
func (t TimeoutTable) Merge(overrides TimeoutTable) TimeoutTable {
	out := make(TimeoutTable, len(t))
	for r, p := range t {
		out[r] = p
	}
	for r, o := range overrides {
		if r == RoleOther {
			continue
		}
		p := out[r]
		if o.Idle > 0 {
			p.Idle = o.Idle
		}
		if o.Absolute > 0 {
			p.Absolute = o.Absolute
		}
		out[r] = p
	}
	return out
}

// TimeoutsFor returns the limits for raw from DefaultTimeouts.
func TimeoutsFor(raw string) TimeoutPolicy {
	return DefaultTimeouts.For(raw)
}
