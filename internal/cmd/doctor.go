package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stocktake/internal/config"
	"github.com/felixgeelhaar/stocktake/internal/health"
	"github.com/felixgeelhaar/stocktake/internal/remotestore"
	"github.com/felixgeelhaar/stocktake/internal/storage"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and connectivity",
	Long: `Check that the configuration is valid and that the platform API, the
identity provider, the local state database and the remote session store
can be reached.

Exit code is non-zero when a required dependency is unhealthy.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

var (
	doctorJSON    bool
	doctorTimeout time.Duration
)

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "output as JSON")
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", health.DefaultTimeout, "timeout for each check")

	rootCmd.AddCommand(doctorCmd)
}

// DoctorReport is the output of the doctor command.
type DoctorReport struct {
	Status health.Status             `json:"status"`
	Checks map[string]*health.Result `json:"checks"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var report DoctorReport
	cfg, err := loadConfig()
	if err != nil {
		report = DoctorReport{
			Status: health.StatusUnhealthy,
			Checks: map[string]*health.Result{
				"config": health.Unhealthy("configuration unusable").WithDetail("error", firstLine(err)),
			},
		}
	} else {
		m, cleanup := doctorChecks(cfg)
		defer cleanup()
		m.WithTimeout(doctorTimeout)
		results := m.Check(ctx)
		results["config"] = health.Healthy("valid")
		report = DoctorReport{Status: m.OverallStatus(results), Checks: results}
	}

	if err := outputDoctor(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if report.Status == health.StatusUnhealthy {
		return fmt.Errorf("doctor found unhealthy dependencies")
	}
	return nil
}

// doctorChecks registers one checker per configured dependency. cleanup
// closes whatever the checkers opened.
func doctorChecks(cfg *config.Config) (*health.Manager, func()) {
	m := health.NewManager()
	var closers []func() error
	httpClient := &http.Client{Timeout: doctorTimeout}

	m.AddChecker(health.NewHTTPChecker("platform-api", strings.TrimRight(cfg.APIURL, "/")+"/health/live", httpClient))

	switch cfg.Identity.Kind {
	case config.IdentityOAuth2:
		m.AddChecker(health.NewHTTPChecker("identity-oauth2", cfg.Identity.OAuth2.TokenURL, httpClient))
	default:
		m.AddChecker(health.FuncChecker{
			CheckName: "identity-local",
			Fn: func(context.Context) *health.Result {
				if _, err := newIdentity(cfg, nil); err != nil {
					return health.Unhealthy("provider rejected its configuration").WithDetail("error", err.Error())
				}
				return health.Healthy(fmt.Sprintf("%d users", len(cfg.Identity.Local.Users)))
			},
		})
	}

	if path, err := cfg.SQLitePath(); err != nil {
		m.AddChecker(failed("storage-sqlite", err))
	} else if store, err := storage.OpenSQLite(path); err != nil {
		m.AddChecker(failed("storage-sqlite", err))
	} else {
		closers = append(closers, store.Close)
		m.AddChecker(health.NewPingChecker("storage-sqlite", store, true))
	}

	if cfg.RemoteSession.Kind == config.RemoteRedis {
		store, err := remotestore.NewRedisStoreFromURL(cfg.RemoteSession.RedisURL)
		if err != nil {
			m.AddChecker(failed("session-redis", err))
		} else {
			closers = append(closers, store.Close)
			m.AddChecker(health.NewPingChecker("session-redis", store, false))
		}
	}

	return m, func() {
		for _, c := range closers {
			_ = c()
		}
	}
}

func failed(name string, err error) health.Checker {
	return health.FuncChecker{
		CheckName: name,
		Fn: func(context.Context) *health.Result {
			return health.Unhealthy("could not open").WithDetail("error", err.Error())
		},
	}
}

// firstLine drops the suggestions appended to user-facing errors.
func firstLine(err error) string {
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return msg
}

func outputDoctor(out io.Writer, report DoctorReport) error {
	if doctorJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	st := newStyles(out)
	fmt.Fprintln(out, st.Title.Render("stocktake doctor"))
	fmt.Fprintln(out)
	for _, name := range health.SortedNames(report.Checks) {
		r := report.Checks[name]
		fmt.Fprintf(out, "  %-16s %s  %s\n", name, st.status(r.Status), st.Muted.Render(r.Message))
		if e, ok := r.Details["error"]; ok {
			fmt.Fprintf(out, "  %-16s %v\n", "", e)
		}
	}
	fmt.Fprintf(out, "\nOverall: %s\n", st.status(report.Status))
	return nil
}
