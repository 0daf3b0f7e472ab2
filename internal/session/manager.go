package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/stocktake/internal/auth"
	"github.com/felixgeelhaar/stocktake/internal/authz"
	"github.com/felixgeelhaar/stocktake/internal/clock"
	"github.com/felixgeelhaar/stocktake/internal/log"
	"github.com/felixgeelhaar/stocktake/internal/metrics"
	"github.com/felixgeelhaar/stocktake/internal/telemetry"
	"github.com/felixgeelhaar/stocktake/internal/tenant"
)

const (
	// DefaultPollInterval is how often the watcher checks for expiry.
	DefaultPollInterval = time.Minute

	// DefaultRemoteTimeout bounds each best-effort remote write.
	DefaultRemoteTimeout = 5 * time.Second
)

// Config wires a Manager to its collaborators. Tenant is required; every
// other collaborator is optional.
type Config struct {
	Tenant       *tenant.Context
	Tokens       TokenEvictor
	Identity     Signer
	Interactions InteractionStore
	Remote       RemoteStore
	Navigator    Navigator

	Timeouts      authz.TimeoutTable
	PollInterval  time.Duration
	RemoteTimeout time.Duration

	Clock   clock.Clock
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Manager owns the session lifecycle. At most one session, and so at most
// one watcher loop, exists at a time.
type Manager struct {
	tenant       *tenant.Context
	tokens       TokenEvictor
	identity     Signer
	interactions InteractionStore
	remote       RemoteStore
	navigator    Navigator

	timeouts      authz.TimeoutTable
	pollInterval  time.Duration
	remoteTimeout time.Duration

	clock   clock.Clock
	logger  *log.Logger
	metrics *metrics.Metrics

	// lifecycle serializes Begin and Logout.
	lifecycle sync.Mutex

	mu    sync.Mutex
	cur   *run
	phase State
	last  Termination
}

// run is one session and its watcher.
type run struct {
	state SessionState

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{} // watcher exited
	ended    chan struct{} // session terminated
	term     Termination
}

func (r *run) stopAndWait() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// NewManager validates cfg and fills in defaults.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Tenant == nil {
		return nil, fmt.Errorf("tenant context is required")
	}
	if cfg.PollInterval < 0 || cfg.RemoteTimeout < 0 {
		return nil, fmt.Errorf("durations must not be negative")
	}

	m := &Manager{
		tenant:        cfg.Tenant,
		tokens:        cfg.Tokens,
		identity:      cfg.Identity,
		interactions:  cfg.Interactions,
		remote:        cfg.Remote,
		navigator:     cfg.Navigator,
		timeouts:      cfg.Timeouts,
		pollInterval:  cfg.PollInterval,
		remoteTimeout: cfg.RemoteTimeout,
		clock:         cfg.Clock,
		logger:        log.OrDefault(cfg.Logger).With("component", "session"),
		metrics:       cfg.Metrics,
	}
	if m.timeouts == nil {
		m.timeouts = authz.DefaultTimeouts
	}
	if m.pollInterval == 0 {
		m.pollInterval = DefaultPollInterval
	}
	if m.remoteTimeout == 0 {
		m.remoteTimeout = DefaultRemoteTimeout
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	return m, nil
}

// Begin starts a session for p. The last interaction time is restored from
// the interaction store when one is persisted. An active session is stopped
// first and its watcher awaited, so two watchers never run together.
func (m *Manager) Begin(ctx context.Context, p auth.Principal) (SessionState, error) {
	ctx, span := telemetry.StartSessionSpan(ctx, "begin")
	defer span.End()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.replace(ctx); err != nil {
		telemetry.RecordError(span, err)
		return SessionState{}, err
	}
	// A token cached before this sign-in must never reach the new session.
	if m.tokens != nil {
		m.tokens.Clear()
	}

	now := m.clock.Now()
	last := now
	if m.interactions != nil {
		saved, ok, err := m.interactions.LoadLastInteraction(ctx)
		switch {
		case err != nil:
			m.logger.WithError(err).Warn("could not load last interaction time")
		case ok && !saved.After(now):
			last = saved
		}
	}

	r := &run{
		state: SessionState{
			ID:              uuid.NewString(),
			Role:            p.Role,
			Principal:       p,
			StartedAt:       now,
			LastInteraction: last,
			LoggedIn:        true,
		},
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		ended: make(chan struct{}),
	}

	m.tenant.Clear()
	m.tenant.SetSuperuser(authz.IsSuperuser(p.Role))

	m.mu.Lock()
	m.cur = r
	m.phase = Active
	m.mu.Unlock()

	if m.remote != nil {
		m.bestEffort(ctx, "set_session_id", func(ctx context.Context) error {
			return m.remote.SetSessionID(ctx, p.UserID, r.state.ID)
		})
	}

	go m.watch(r)

	m.metrics.SessionStarted(authz.Parse(p.Role).String())
	m.logger.Info("session started",
		"session_id", r.state.ID,
		"user_id", p.UserID,
		"role", p.Role,
		"restored_interaction", !last.Equal(now),
	)
	telemetry.RecordSuccess(span)
	return r.state, nil
}

// replace ends the current session, if any, without a navigation reset.
// The caller holds lifecycle.
func (m *Manager) replace(ctx context.Context) error {
	m.mu.Lock()
	old, claimed := m.claimLocked(m.cur)
	m.mu.Unlock()

	if old == nil {
		return nil
	}
	if !claimed {
		// Ended by its own watcher or a concurrent Logout. The watcher
		// may still be inside the Navigator call; wait for it to exit.
		for _, ch := range []<-chan struct{}{old.ended, old.done} {
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	old.stopAndWait()
	if m.tokens != nil {
		m.tokens.Clear()
	}
	m.tenant.Clear()
	if m.remote != nil {
		m.bestEffort(ctx, "clear_session_id", func(ctx context.Context) error {
			return m.remote.ClearSessionID(ctx, old.state.Principal.UserID)
		})
	}
	m.finish(old, CauseLogout)
	return nil
}

// claimLocked moves an active run to Expiring. Only the claimant may
// terminate it, which makes termination happen exactly once.
func (m *Manager) claimLocked(r *run) (*run, bool) {
	if r == nil || m.cur != r {
		return r, false
	}
	if m.phase != Active {
		return r, false
	}
	m.phase = Expiring
	return r, true
}

// Touch records a user interaction and persists its time.
func (m *Manager) Touch(ctx context.Context) error {
	m.mu.Lock()
	if m.cur == nil || m.phase != Active {
		m.mu.Unlock()
		return ErrNoSession
	}
	now := m.clock.Now()
	m.cur.state.LastInteraction = now
	m.mu.Unlock()

	m.metrics.Interaction()
	if m.interactions == nil {
		return nil
	}
	if err := m.interactions.SaveLastInteraction(ctx, now); err != nil {
		return fmt.Errorf("persist interaction time: %w", err)
	}
	return nil
}

// SetRole replaces the session role. Timeouts follow the new role from the
// next poll. Leaving the superuser role drops the tenant selection.
func (m *Manager) SetRole(raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil || m.phase != Active {
		return ErrNoSession
	}

	prev := m.cur.state.Role
	m.cur.state.Role = raw
	m.cur.state.Principal.Role = raw

	superuser := authz.IsSuperuser(raw)
	if authz.IsSuperuser(prev) && !superuser {
		m.tenant.Clear()
	}
	m.tenant.SetSuperuser(superuser)

	m.logger.Info("session role changed", "from", prev, "to", raw)
	return nil
}

// Logout ends the active session. The watcher is stopped and awaited before
// teardown. When the watcher is already expiring the session, Logout waits
// for that termination instead of producing a second one.
func (m *Manager) Logout(ctx context.Context) error {
	ctx, span := telemetry.StartSessionSpan(ctx, "logout")
	defer span.End()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	r, claimed := m.claimLocked(m.cur)
	ended := m.phase == Terminated || m.phase == Inactive
	m.mu.Unlock()

	if r == nil || ended {
		telemetry.RecordError(span, ErrNoSession)
		return ErrNoSession
	}
	if !claimed {
		select {
		case <-r.ended:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.stopAndWait()
	m.terminate(ctx, r, CauseLogout)
	telemetry.RecordSuccess(span)
	return nil
}

// Close stops the watcher of the active session without a remote
// invalidation or navigation reset, as on process exit. The persisted
// interaction time is kept so the next Begin restores it and idle expiry
// carries across restarts. Wait returns a zero Termination afterwards.
func (m *Manager) Close() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	r, claimed := m.claimLocked(m.cur)
	m.mu.Unlock()

	if r == nil {
		return
	}
	if !claimed {
		<-r.ended
		return
	}

	r.stopAndWait()
	if m.tokens != nil {
		m.tokens.Clear()
	}
	m.tenant.Clear()

	m.mu.Lock()
	r.state.LoggedIn = false
	if m.cur == r {
		m.phase = Inactive
	}
	m.mu.Unlock()
	close(r.ended)

	m.logger.Info("session suspended", "session_id", r.state.ID, "user_id", r.state.Principal.UserID)
}

// terminate runs the remote invalidation, the local teardown and the single
// notification for a claimed run.
func (m *Manager) terminate(ctx context.Context, r *run, cause Cause) {
	if m.remote != nil {
		m.bestEffort(ctx, "clear_session_id", func(ctx context.Context) error {
			return m.remote.ClearSessionID(ctx, r.state.Principal.UserID)
		})
	}

	// Sign out first so a refresh racing the clear finds no principal and
	// cannot repopulate the cache.
	if m.identity != nil {
		m.identity.SignOut()
	}
	if m.tokens != nil {
		m.tokens.Clear()
	}
	m.tenant.Clear()
	if m.interactions != nil {
		if err := m.interactions.ClearLastInteraction(context.WithoutCancel(ctx)); err != nil {
			m.logger.WithError(err).Warn("could not clear last interaction time")
		}
	}

	term := m.finish(r, cause)
	m.logger.Info("session terminated",
		"session_id", term.SessionID,
		"user_id", term.UserID,
		"cause", cause.String(),
	)
	if m.navigator != nil {
		m.navigator.ResetToEntry(term)
	}
}

// finish records the termination and releases waiters.
func (m *Manager) finish(r *run, cause Cause) Termination {
	m.mu.Lock()
	r.term = Termination{
		Cause:     cause,
		SessionID: r.state.ID,
		UserID:    r.state.Principal.UserID,
		At:        m.clock.Now(),
	}
	r.state.LoggedIn = false
	r.state.StartedAt = time.Time{}
	m.last = r.term
	if m.cur == r {
		if cause == CauseLogout {
			m.phase = Inactive
		} else {
			m.phase = Terminated
		}
	}
	term := r.term
	m.mu.Unlock()

	close(r.ended)
	m.metrics.SessionTerminated(cause.String())
	return term
}

// bestEffort runs a remote write with a bounded timeout. Failures are
// logged and counted, never returned.
func (m *Manager) bestEffort(ctx context.Context, operation string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.remoteTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		m.metrics.RemoteUpdateFailed(operation)
		m.logger.WithError(auth.WrapError(auth.ErrRemoteUpdateFailed,
			"remote session update failed", err,
			map[string]interface{}{"operation": operation},
		)).Warn("ignoring remote session update failure", "operation", operation)
	}
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Snapshot returns a copy of the current session record. The second result
// is false when no session was ever started.
func (m *Manager) Snapshot() (SessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return SessionState{}, false
	}
	return m.cur.state, true
}

// LastTermination returns the most recent termination, if any.
func (m *Manager) LastTermination() (Termination, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.last.Cause != CauseNone
}

// Wait blocks until the current session ends and returns its termination.
func (m *Manager) Wait(ctx context.Context) (Termination, error) {
	m.mu.Lock()
	r := m.cur
	m.mu.Unlock()

	if r == nil {
		return Termination{}, ErrNoSession
	}
	select {
	case <-r.ended:
		m.mu.Lock()
		defer m.mu.Unlock()
		return r.term, nil
	case <-ctx.Done():
		return Termination{}, ctx.Err()
	}
}

// Remaining reports the time left before the nearest expiry under the
// current role, and which timeout that is.
func (m *Manager) Remaining() (time.Duration, Cause, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil || m.phase != Active {
		return 0, CauseNone, ErrNoSession
	}
	now := m.clock.Now()
	st := m.cur.state
	policy := m.timeouts.For(st.Role)

	left, cause := policy.Idle-now.Sub(st.LastInteraction), CauseIdle
	if !st.StartedAt.IsZero() {
		if abs := policy.Absolute - now.Sub(st.StartedAt); abs < left {
			left, cause = abs, CauseAbsolute
		}
	}
	if left < 0 {
		left = 0
	}
	return left, cause, nil
}
