package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutsForKnownRoles(t *testing.T) {
	assert.Equal(t, TimeoutPolicy{Idle: 15 * time.Minute, Absolute: 4 * time.Hour}, TimeoutsFor("superuser"))
	assert.Equal(t, TimeoutPolicy{Idle: 30 * time.Minute, Absolute: 8 * time.Hour}, TimeoutsFor("Admin"))
	assert.Equal(t, TimeoutPolicy{Idle: 60 * time.Minute, Absolute: 12 * time.Hour}, TimeoutsFor("viewer"))
}

func TestUnknownRoleIsMostRestrictive(t *testing.T) {
	got := TimeoutsFor("contractor")

	for _, r := range []Role{RoleSuperuser, RoleAdmin, RoleGuest} {
		p := DefaultTimeouts[r]
		assert.LessOrEqual(t, got.Idle, p.Idle, r.String())
		assert.LessOrEqual(t, got.Absolute, p.Absolute, r.String())
	}
}

func TestRestrictiveTakesMinimaIndependently(t *testing.T) {
	table := TimeoutTable{
		RoleSuperuser: {Idle: 20 * time.Minute, Absolute: 10 * time.Hour},
		RoleAdmin:     {Idle: 40 * time.Minute, Absolute: 2 * time.Hour},
	}

	assert.Equal(t, TimeoutPolicy{Idle: 20 * time.Minute, Absolute: 2 * time.Hour}, table.Restrictive())
	assert.Equal(t, table.Restrictive(), table.For("guest"), "missing entry falls back to restrictive")
}

func TestEmptyTableUsesDefaults(t *testing.T) {
	assert.Equal(t, DefaultTimeouts.Restrictive(), TimeoutTable{}.Restrictive())
}

func TestMerge(t *testing.T) {
	merged := DefaultTimeouts.Merge(TimeoutTable{
		RoleAdmin: {Idle: 45 * time.Minute},
		RoleOther: {Idle: 10 * time.Hour},
	})

	assert.Equal(t, TimeoutPolicy{Idle: 45 * time.Minute, Absolute: 8 * time.Hour}, merged.For("admin"))
	_, hasOther := merged[RoleOther]
	assert.False(t, hasOther, "RoleOther is always derived")
	assert.Equal(t, 30*time.Minute, DefaultTimeouts[RoleAdmin].Idle, "defaults untouched")

	tight := DefaultTimeouts.Merge(TimeoutTable{RoleGuest: {Absolute: time.Hour}})
	assert.Equal(t, time.Hour, tight.For("unknown").Absolute)
}
