package cmd

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stocktake/internal/auth"
	"github.com/felixgeelhaar/stocktake/internal/clock"
	"github.com/felixgeelhaar/stocktake/internal/config"
	"github.com/felixgeelhaar/stocktake/internal/health"
	"github.com/felixgeelhaar/stocktake/internal/log"
	"github.com/felixgeelhaar/stocktake/internal/remotestore"
	"github.com/felixgeelhaar/stocktake/internal/server"
	"github.com/felixgeelhaar/stocktake/internal/version"
)

var serveMockCmd = &cobra.Command{
	Use:   "serve-mock",
	Short: "Run the local platform API",
	Long: `Run a local platform API for development and demos.

The server verifies access tokens with the signing key and users of the
local identity provider, serves the demo tenants ACME and GLOBEX, and keeps
session documents in memory, or in Redis when remote_session.kind is redis.

Endpoints:
  GET   /api/v1/users/me
  GET   /api/v1/tenants
  GET   /api/v1/items              (superusers send X-Tenant-Id)
  GET   /api/v1/users/{id}/session
  PATCH /api/v1/users/{id}/session
  GET   /health/live, /health/ready, /health/startup

The server drains connections on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServeMock,
}

var (
	serveAddress         string
	serveShutdownTimeout time.Duration
)

func init() {
	serveMockCmd.Flags().StringVar(&serveAddress, "address", "", "address to listen on (default is the host:port of api_url)")
	serveMockCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 10*time.Second, "maximum time to drain connections")

	rootCmd.AddCommand(serveMockCmd)
}

func runServeMock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.New(log.FromSettings(cfg.Log.Level, cfg.Log.Format, version.GetInfo().Version))
	log.SetDefaultLogger(logger)

	addr := serveAddress
	if addr == "" {
		if addr, err = listenAddress(cfg.APIURL); err != nil {
			return err
		}
	}

	srv, closeStores, err := newMockServer(cfg, addr, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer closeStores()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	out := cmd.OutOrStdout()
	st := newStyles(out)
	fmt.Fprintf(out, "%s listening on http://%s\n", st.Title.Render("stocktake mock API"), ln.Addr())
	fmt.Fprintln(out, st.Muted.Render("Press Ctrl+C to stop"))

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Serve(ln) }()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		fmt.Fprintln(out, "Shutting down...")
		if err := srv.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return <-serverErr
	}
}

// newMockServer wires the mock API from the local identity settings.
func newMockServer(cfg *config.Config, addr string, clk clock.Clock, logger *log.Logger) (*server.Server, func(), error) {
	if cfg.Identity.Kind != config.IdentityLocal {
		return nil, nil, fmt.Errorf("serve-mock verifies tokens with the local identity provider; identity.kind is %q", cfg.Identity.Kind)
	}
	verifier, err := auth.NewLocalProvider(auth.LocalConfig{
		Issuer:     cfg.Identity.Local.Issuer,
		SigningKey: []byte(cfg.Identity.Local.SigningKey),
		Users:      cfg.Identity.Local.Users,
		Clock:      clk,
	})
	if err != nil {
		return nil, nil, err
	}

	pm := health.NewProbeManagerWithClock(version.GetInfo().Version, clk)
	var sessions server.SessionStore = remotestore.NewMemoryStore()
	cleanup := func() {}

	if cfg.RemoteSession.Kind == config.RemoteRedis {
		var opts []remotestore.RedisOption
		if cfg.RemoteSession.KeyPrefix != "" {
			opts = append(opts, remotestore.WithKeyPrefix(cfg.RemoteSession.KeyPrefix))
		}
		store, err := remotestore.NewRedisStoreFromURL(cfg.RemoteSession.RedisURL, opts...)
		if err != nil {
			return nil, nil, err
		}
		sessions = store
		cleanup = func() { _ = store.Close() }
		pm.AddChecker(health.NewPingChecker("session-redis", store, true))
	}

	api := server.NewAPI(server.APIConfig{
		Verifier: verifier,
		Sessions: sessions,
		Tenants:  server.DemoTenants,
		Items:    server.DemoItems,
		Logger:   logger,

		// Per-user limits of a production tenant API.
		RateLimit: 20,
		RateBurst: 50,
	})
	srv := server.NewServer(pm, server.Config{
		Address:         addr,
		ShutdownTimeout: serveShutdownTimeout,
	}, api)
	return srv, cleanup, nil
}

// listenAddress returns host:port of the configured API URL.
func listenAddress(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid api_url %q: %w", apiURL, err)
	}
	if u.Port() == "" {
		return "", fmt.Errorf("api_url %q has no port; pass --address", apiURL)
	}
	return u.Host, nil
}
