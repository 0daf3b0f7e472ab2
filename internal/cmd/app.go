package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/stocktake/internal/auth"
	"github.com/felixgeelhaar/stocktake/internal/clock"
	"github.com/felixgeelhaar/stocktake/internal/config"
	"github.com/felixgeelhaar/stocktake/internal/log"
	"github.com/felixgeelhaar/stocktake/internal/metrics"
	"github.com/felixgeelhaar/stocktake/internal/platform"
	"github.com/felixgeelhaar/stocktake/internal/remotestore"
	"github.com/felixgeelhaar/stocktake/internal/session"
	"github.com/felixgeelhaar/stocktake/internal/storage"
	"github.com/felixgeelhaar/stocktake/internal/telemetry"
	"github.com/felixgeelhaar/stocktake/internal/tenant"
	"github.com/felixgeelhaar/stocktake/internal/transport"
	"github.com/felixgeelhaar/stocktake/internal/version"
)

// requestTimeout bounds one platform call including its retry.
const requestTimeout = 30 * time.Second

// App is the wired session core of one client process.
type App struct {
	Config   *config.Config
	Logger   *log.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Identity auth.Authenticator
	Tokens   *auth.TokenCache
	Tenant   *tenant.Context
	Pipeline *transport.Pipeline
	Platform *platform.Client
	Sessions *session.Manager

	// Terminations receives every session end, including logouts. It is
	// buffered and never blocks the sender: when it is full the oldest
	// unread termination is dropped with a log line, so the latest end is
	// always delivered.
	Terminations chan session.Termination

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// appOptions are the seams tests use.
type appOptions struct {
	clock     clock.Clock
	logger    *log.Logger
	transport http.RoundTripper
	ephemeral bool
}

// newApp builds every collaborator from cfg. The caller must Close it.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*App, error) {
	if opts.clock == nil {
		opts.clock = clock.Real()
	}
	logger := opts.logger
	if logger == nil {
		logger = log.New(log.FromSettings(cfg.Log.Level, cfg.Log.Format, version.GetInfo().Version))
	}

	reg, m := metrics.NewRegistry()
	app := &App{
		Config:       cfg,
		Logger:       logger,
		Registry:     reg,
		Metrics:      m,
		Tenant:       tenant.New(),
		Terminations: make(chan session.Termination, 4),
	}

	shutdown, err := telemetry.InitProvider(ctx, telemetry.Config{
		ServiceName:    "stocktake",
		ServiceVersion: version.GetInfo().Version,
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	app.closers = append(app.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	if err := app.wire(cfg, opts); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(cfg *config.Config, opts appOptions) error {
	identity, err := newIdentity(cfg, opts.clock)
	if err != nil {
		return err
	}
	a.Identity = identity

	a.Tokens = auth.NewTokenCache(identity,
		auth.WithTTL(cfg.TokenTTL.D()),
		auth.WithClock(opts.clock),
		auth.WithLogger(a.Logger),
		auth.WithMetrics(a.Metrics),
	)

	pipeOpts := []transport.Option{
		transport.WithLogger(a.Logger),
		transport.WithMetrics(a.Metrics),
	}
	if opts.transport != nil {
		pipeOpts = append(pipeOpts, transport.WithBase(opts.transport))
	}
	a.Pipeline = transport.New(a.Tokens, a.Tenant, pipeOpts...)
	a.Platform = platform.NewClient(cfg.APIURL, a.Pipeline.Client(requestTimeout))

	interactions, err := a.openInteractions(cfg, opts.ephemeral)
	if err != nil {
		return err
	}
	remote, err := a.openRemote(cfg)
	if err != nil {
		return err
	}

	a.Sessions, err = session.NewManager(session.Config{
		Tenant:       a.Tenant,
		Tokens:       a.Tokens,
		Identity:     identity,
		Interactions: interactions,
		Remote:       remote,
		Navigator:    session.NavigatorFunc(a.notify),
		Timeouts:     cfg.TimeoutTable(),
		PollInterval: cfg.Session.PollInterval.D(),
		Clock:        opts.clock,
		Logger:       a.Logger,
		Metrics:      a.Metrics,
	})
	return err
}

func newIdentity(cfg *config.Config, clk clock.Clock) (auth.Authenticator, error) {
	switch cfg.Identity.Kind {
	case config.IdentityOAuth2:
		o := cfg.Identity.OAuth2
		return auth.NewOAuth2Provider(auth.OAuth2Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			TokenURL:     o.TokenURL,
			Scopes:       o.Scopes,
			Clock:        clk,
		})
	default:
		l := cfg.Identity.Local
		return auth.NewLocalProvider(auth.LocalConfig{
			Issuer:        l.Issuer,
			SigningKey:    []byte(l.SigningKey),
			TokenLifetime: l.TokenLifetime.D(),
			Users:         l.Users,
			Clock:         clk,
		})
	}
}

func (a *App) openInteractions(cfg *config.Config, ephemeral bool) (session.InteractionStore, error) {
	if ephemeral {
		return storage.NewMemoryStore(), nil
	}
	path, err := cfg.SQLitePath()
	if err != nil {
		return nil, err
	}
	store, err := storage.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *App) openRemote(cfg *config.Config) (session.RemoteStore, error) {
	switch cfg.RemoteSession.Kind {
	case config.RemoteRedis:
		var opts []remotestore.RedisOption
		if cfg.RemoteSession.KeyPrefix != "" {
			opts = append(opts, remotestore.WithKeyPrefix(cfg.RemoteSession.KeyPrefix))
		}
		store, err := remotestore.NewRedisStoreFromURL(cfg.RemoteSession.RedisURL, opts...)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.RemoteNone:
		return remotestore.Nop{}, nil
	default:
		return a.Platform, nil
	}
}

// notify is the session navigator: it hands terminations to the shell.
// It runs on the watcher goroutine or the caller of Logout and must not
// wait for the reader.
func (a *App) notify(t session.Termination) {
	for {
		select {
		case a.Terminations <- t:
			return
		default:
		}
		select {
		case old := <-a.Terminations:
			a.Logger.Warn("dropping unread session termination",
				"cause", old.Cause.String(),
				"session_id", old.SessionID,
			)
		default:
		}
	}
}

// Login signs the user in and starts a session. An active session is
// logged out first so its remote document and tokens are cleared.
func (a *App) Login(ctx context.Context, username, password string) (session.SessionState, error) {
	if a.Sessions.State() == session.Active {
		if err := a.Sessions.Logout(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
			return session.SessionState{}, err
		}
	}

	p, err := a.Identity.SignIn(ctx, auth.Credentials{Username: username, Password: password})
	if err != nil {
		return session.SessionState{}, err
	}
	st, err := a.Sessions.Begin(ctx, *p)
	if err != nil {
		a.Identity.SignOut()
		return session.SessionState{}, err
	}
	return st, nil
}

// Close suspends any active session and releases stores and exporters.
// Only the first call does anything.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.Sessions != nil {
			a.Sessions.Close()
		}
		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
