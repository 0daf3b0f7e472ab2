// Package session owns the lifecycle of one authenticated session: it
// starts the single watcher loop that enforces idle and absolute timeouts,
// records interactions, and tears everything down on logout or expiry.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/stocktake/internal/auth"
)

// ErrNoSession is returned by operations that need an active session.
var ErrNoSession = errors.New("session: no active session")

// State is the watcher lifecycle state.
type State int

const (
	Inactive State = iota
	Active
	Expiring
	Terminated
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Expiring:
		return "expiring"
	case Terminated:
		return "terminated"
	default:
		return "inactive"
	}
}

// Cause records why a session ended.
type Cause int

const (
	CauseNone Cause = iota
	CauseIdle
	CauseAbsolute
	CauseLogout
)

func (c Cause) String() string {
	switch c {
	case CauseIdle:
		return "idle"
	case CauseAbsolute:
		return "absolute"
	case CauseLogout:
		return "logout"
	default:
		return "none"
	}
}

// Message is the user-facing wording for a termination. Idle and absolute
// expiry never share wording.
func (c Cause) Message() string {
	switch c {
	case CauseIdle:
		return "Your session expired due to inactivity. Please sign in again."
	case CauseAbsolute:
		return "Your session reached its maximum duration. Please sign in again."
	case CauseLogout:
		return "You have been signed out."
	default:
		return ""
	}
}

// SessionState is the per-principal session record. A zero StartedAt means
// the session has not started.
type SessionState struct {
	ID              string
	Role            string
	Principal       auth.Principal
	StartedAt       time.Time
	LastInteraction time.Time
	LoggedIn        bool
}

// Termination describes one ended session. It is delivered exactly once.
type Termination struct {
	Cause     Cause
	SessionID string
	UserID    string
	At        time.Time
}

// InteractionStore persists the last interaction time across restarts.
type InteractionStore interface {
	LoadLastInteraction(ctx context.Context) (time.Time, bool, error)
	SaveLastInteraction(ctx context.Context, t time.Time) error
	ClearLastInteraction(ctx context.Context) error
}

// RemoteStore is the server-side session document.
type RemoteStore interface {
	SetSessionID(ctx context.Context, userID, sessionID string) error
	ClearSessionID(ctx context.Context, userID string) error
}

// Navigator returns the user to the unauthenticated entry point and drops
// any back-navigation history.
//
// On expiry ResetToEntry runs on the watcher goroutine, and Begin waits for
// that goroutine to exit. Implementations must not call Begin synchronously.
type Navigator interface {
	ResetToEntry(t Termination)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(t Termination)

// ResetToEntry calls f(t).
func (f NavigatorFunc) ResetToEntry(t Termination) { f(t) }

// TokenEvictor drops cached credentials.
type TokenEvictor interface {
	Clear()
}

// Signer forgets the signed-in principal.
type Signer interface {
	SignOut()
}
