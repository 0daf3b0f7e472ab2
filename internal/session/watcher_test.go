package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/stocktake/internal/authz"
)

func TestEvaluate(t *testing.T) {
	m := &Manager{timeouts: authz.TimeoutTable{
		authz.RoleAdmin: {Idle: 30 * time.Minute, Absolute: 8 * time.Hour},
		authz.RoleGuest: {Idle: time.Hour, Absolute: 12 * time.Hour},
	}}

	tests := []struct {
		name    string
		role    string
		started time.Duration // ago; negative means not started
		idle    time.Duration // ago
		want    Cause
	}{
		{name: "fresh", role: "admin", started: 0, idle: 0, want: CauseNone},
		{name: "idle just under", role: "admin", started: time.Hour, idle: 29*time.Minute + 59*time.Second, want: CauseNone},
		{name: "idle at threshold", role: "admin", started: time.Hour, idle: 30 * time.Minute, want: CauseIdle},
		{name: "absolute at threshold", role: "admin", started: 8 * time.Hour, idle: time.Minute, want: CauseAbsolute},
		{name: "both elapsed idle wins", role: "admin", started: 9 * time.Hour, idle: 9 * time.Hour, want: CauseIdle},
		{name: "not started ignores absolute", role: "admin", started: -1, idle: time.Minute, want: CauseNone},
		{name: "guest longer idle", role: "guest", started: time.Hour, idle: 45 * time.Minute, want: CauseNone},
		{name: "unknown role fails closed", role: "intern", started: time.Hour, idle: 31 * time.Minute, want: CauseIdle},
	}

	now := t0.Add(24 * time.Hour)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := SessionState{Role: tt.role, LastInteraction: now.Add(-tt.idle)}
			if tt.started >= 0 {
				st.StartedAt = now.Add(-tt.started)
			}
			assert.Equal(t, tt.want, m.evaluate(st, now))
		})
	}
}

func TestPollOnceOnStaleRun(t *testing.T) {
	f := newFixture(t, nil)
	f.begin(t, admin)

	stale := &run{}
	assert.True(t, f.mgr.pollOnce(stale), "a replaced run exits its loop")
	assert.Equal(t, Active, f.mgr.State())
}

func TestPollOnceTerminatesOnce(t *testing.T) {
	f := newFixture(t, authz.TimeoutTable{
		authz.RoleAdmin: {Idle: time.Minute, Absolute: time.Hour},
	})
	f.begin(t, admin)

	f.mgr.mu.Lock()
	r := f.mgr.cur
	f.mgr.mu.Unlock()

	f.clock.Set(t0.Add(90 * time.Second))
	f.wait(t)

	assert.True(t, f.mgr.pollOnce(r))
	assert.Len(t, f.nav.calls(), 1)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "inactive", Inactive.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "expiring", Expiring.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "absolute", CauseAbsolute.String())
}
