package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stocktake/internal/log"
	"github.com/felixgeelhaar/stocktake/internal/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open an interactive session",
	Long: `Open an interactive session against the platform API.

Every command you type counts as activity. The session ends on its own
after the idle or absolute limit of your role; you are then returned to
sign-in. Leaving with 'quit' keeps the last activity time on disk, so
idle time keeps counting across restarts.

Examples:
  stocktake run
  stocktake run --user ana --password stocktake
  stocktake run --ephemeral`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runUser      string
	runPassword  string
	runEphemeral bool
)

func init() {
	runCmd.Flags().StringVarP(&runUser, "user", "u", "", "sign in as this user on start")
	runCmd.Flags().StringVarP(&runPassword, "password", "p", "", "password for --user")
	runCmd.Flags().BoolVar(&runEphemeral, "ephemeral", false, "keep the last activity time in memory only")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := newApp(ctx, cfg, appOptions{ephemeral: runEphemeral})
	if err != nil {
		return err
	}
	log.SetDefaultLogger(app.Logger)
	defer func() {
		if err := app.Close(); err != nil {
			app.Logger.WithError(err).Warn("shutdown incomplete")
		}
	}()

	if cfg.Metrics.Enabled {
		srv, err := metrics.Listen(cfg.Metrics.Address, app.Registry)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := srv.Serve(mctx); err != nil {
				app.Logger.WithError(err).Warn("metrics server stopped")
			}
		}()
		app.Logger.Info("serving metrics", "addr", srv.Addr())
	}

	sh := newShell(app, cmd.InOrStdin(), cmd.OutOrStdout())
	sh.Prompt = "stocktake> "
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n",
		sh.styles.Title.Render("stocktake"),
		sh.styles.Muted.Render(cfg.APIURL+"  (type 'help')"))

	if runUser != "" {
		if err := sh.login(ctx, []string{runUser, runPassword}); err != nil {
			sh.printError(err)
		}
	}
	return sh.Run(ctx)
}
