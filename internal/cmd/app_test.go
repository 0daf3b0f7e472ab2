package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/stocktake/internal/auth"
	"github.com/felixgeelhaar/stocktake/internal/log"
	"github.com/felixgeelhaar/stocktake/internal/session"
)

func tokenSubject(t *testing.T, a *App) string {
	t.Helper()
	tok, err := a.Tokens.Token(context.Background(), false)
	require.NoError(t, err)
	p, err := auth.PrincipalFromToken(tok.Value)
	require.NoError(t, err)
	return p.UserID
}

func TestAppTokenFollowsSignedInUser(t *testing.T) {
	ctx := context.Background()

	t.Run("logout then sign in", func(t *testing.T) {
		e := newTestEnv(t, nil)
		_, err := e.app.Login(ctx, "ana", testPassword)
		require.NoError(t, err)
		assert.Equal(t, "ana", tokenSubject(t, e.app))

		require.NoError(t, e.app.Sessions.Logout(ctx))
		_, err = e.app.Tokens.Token(ctx, false)
		assert.True(t, auth.IsAuthError(err, auth.ErrNotAuthenticated))

		_, err = e.app.Login(ctx, "gus", testPassword)
		require.NoError(t, err)
		assert.Equal(t, "gus", tokenSubject(t, e.app))
	})

	t.Run("sign in over an active session", func(t *testing.T) {
		e := newTestEnv(t, nil)
		_, err := e.app.Login(ctx, "ana", testPassword)
		require.NoError(t, err)
		assert.Equal(t, "ana", tokenSubject(t, e.app))

		_, err = e.app.Login(ctx, "gus", testPassword)
		require.NoError(t, err)
		assert.Equal(t, "gus", tokenSubject(t, e.app))
	})

	t.Run("sign in after idle expiry", func(t *testing.T) {
		e := newTestEnv(t, nil)
		_, err := e.app.Login(ctx, "gus", testPassword)
		require.NoError(t, err)
		assert.Equal(t, "gus", tokenSubject(t, e.app))
		e.clock.WaitForTimers(1)

		e.clock.Advance(61 * time.Minute)
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		term, err := e.app.Sessions.Wait(waitCtx)
		require.NoError(t, err)
		require.Equal(t, session.CauseIdle, term.Cause)

		_, err = e.app.Login(ctx, "ana", testPassword)
		require.NoError(t, err)
		assert.Equal(t, "ana", tokenSubject(t, e.app))
	})
}

func TestNotifyKeepsLatestTermination(t *testing.T) {
	a := &App{Logger: log.Discard(), Terminations: make(chan session.Termination, 2)}

	a.notify(session.Termination{Cause: session.CauseLogout, SessionID: "s1"})
	a.notify(session.Termination{Cause: session.CauseLogout, SessionID: "s2"})

	done := make(chan struct{})
	go func() {
		a.notify(session.Termination{Cause: session.CauseIdle, SessionID: "s3"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked on a full buffer")
	}

	require.Len(t, a.Terminations, 2)
	assert.Equal(t, "s2", (<-a.Terminations).SessionID)
	last := <-a.Terminations
	assert.Equal(t, "s3", last.SessionID)
	assert.Equal(t, session.CauseIdle, last.Cause)
}
