package session

import (
	"context"
	"time"
)

// watch is the single background loop of a run. The stop signal is
// checked at the top of every iteration.
func (m *Manager) watch(r *run) {
	defer close(r.done)

	ticker := m.clock.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		if m.pollOnce(r) {
			return
		}
	}
}

// pollOnce evaluates the run once and terminates it when a timeout has
// fired. It reports whether the loop should exit.
func (m *Manager) pollOnce(r *run) bool {
	m.mu.Lock()
	if m.cur != r || m.phase != Active {
		m.mu.Unlock()
		return true
	}
	now := m.clock.Now()
	cause := m.evaluate(r.state, now)
	if cause == CauseNone {
		m.mu.Unlock()
		return false
	}
	_, claimed := m.claimLocked(r)
	m.mu.Unlock()

	if !claimed {
		return true
	}

	m.logger.Debug("session timeout fired",
		"session_id", r.state.ID,
		"cause", cause.String(),
		"at", now.Format(time.RFC3339),
	)
	m.terminate(context.Background(), r, cause)
	return true
}

// evaluate applies the current role's thresholds. The idle check runs
// first, so it wins when both have elapsed.
func (m *Manager) evaluate(st SessionState, now time.Time) Cause {
	policy := m.timeouts.For(st.Role)

	if now.Sub(st.LastInteraction) >= policy.Idle {
		return CauseIdle
	}
	if !st.StartedAt.IsZero() && now.Sub(st.StartedAt) >= policy.Absolute {
		return CauseAbsolute
	}
	return CauseNone
}
